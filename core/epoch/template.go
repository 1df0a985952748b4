package epoch

import (
	"fmt"
	"time"
)

// Template describes the shape of an epoch relative to its start. Operators
// configure a template once and build concrete schedules from it.
type Template struct {
	DepositWindow    time.Duration `toml:"DepositWindow" yaml:"deposit_window"`
	AuctionDelay     time.Duration `toml:"AuctionDelay" yaml:"auction_delay"`
	AuctionWindow    time.Duration `toml:"AuctionWindow" yaml:"auction_window"`
	SettlementDelay  time.Duration `toml:"SettlementDelay" yaml:"settlement_delay"`
	SettlementWindow time.Duration `toml:"SettlementWindow" yaml:"settlement_window"`
	Cadence          time.Duration `toml:"Cadence" yaml:"cadence"`
}

// DefaultTemplate is the weekly cycle: a one hour deposit window, a five
// minute auction an hour later, and a two hour settlement the following week.
func DefaultTemplate() Template {
	return Template{
		DepositWindow:    time.Hour,
		AuctionDelay:     time.Hour,
		AuctionWindow:    5 * time.Minute,
		SettlementDelay:  6*24*time.Hour + 19*time.Hour + 55*time.Minute,
		SettlementWindow: 2 * time.Hour,
		Cadence:          7 * 24 * time.Hour,
	}
}

// Validate ensures every window is at least one second long and the cadence
// covers the whole epoch.
func (t Template) Validate() error {
	for name, d := range map[string]time.Duration{
		"deposit window":    t.DepositWindow,
		"auction delay":     t.AuctionDelay,
		"auction window":    t.AuctionWindow,
		"settlement delay":  t.SettlementDelay,
		"settlement window": t.SettlementWindow,
	} {
		if d < time.Second {
			return fmt.Errorf("epoch template: %s must be at least 1s", name)
		}
	}
	if t.Cadence < t.span() {
		return fmt.Errorf("epoch template: cadence %s shorter than epoch span %s", t.Cadence, t.span())
	}
	return nil
}

func (t Template) span() time.Duration {
	return t.DepositWindow + t.AuctionDelay + t.AuctionWindow + t.SettlementDelay + t.SettlementWindow
}

// Build lays the template out from start.
func (t Template) Build(start time.Time) Schedule {
	begin := start.Unix()
	s := Schedule{Start: begin}
	s.EndDeposits = s.Start + seconds(t.DepositWindow)
	s.StartAuction = s.EndDeposits + seconds(t.AuctionDelay)
	s.EndAuction = s.StartAuction + seconds(t.AuctionWindow)
	s.StartSettlement = s.EndAuction + seconds(t.SettlementDelay)
	s.EndEpoch = s.StartSettlement + seconds(t.SettlementWindow)
	s.Cadence = uint64(seconds(t.Cadence))
	return s
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
