package epoch

import (
	"fmt"
	"math"

	vaulterrors "epochvault/core/errors"
)

// Phase names the window an instant falls into.
type Phase uint8

const (
	// PhasePreStart covers every instant at or before the epoch start.
	PhasePreStart Phase = iota
	// PhaseDepositWindow is (start, end_deposits].
	PhaseDepositWindow
	// PhaseIntermission is one of the gaps (end_deposits, start_auction] or
	// (end_auction, start_settlement].
	PhaseIntermission
	// PhaseAuctionWindow is (start_auction, end_auction].
	PhaseAuctionWindow
	// PhaseSettlementWindow is (start_settlement, end_epoch].
	PhaseSettlementWindow
	// PhaseClosed is everything after end_epoch; only a rollover leaves it.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhasePreStart:
		return "pre_start"
	case PhaseDepositWindow:
		return "deposit_window"
	case PhaseIntermission:
		return "intermission"
	case PhaseAuctionWindow:
		return "auction_window"
	case PhaseSettlementWindow:
		return "settlement_window"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Schedule holds the six ordered instants of one epoch, in unix seconds, and
// the cadence between successive epoch starts.
type Schedule struct {
	Start           int64  `json:"startEpoch" toml:"StartEpoch" yaml:"start_epoch"`
	EndDeposits     int64  `json:"endDeposits" toml:"EndDeposits" yaml:"end_deposits"`
	StartAuction    int64  `json:"startAuction" toml:"StartAuction" yaml:"start_auction"`
	EndAuction      int64  `json:"endAuction" toml:"EndAuction" yaml:"end_auction"`
	StartSettlement int64  `json:"startSettlement" toml:"StartSettlement" yaml:"start_settlement"`
	EndEpoch        int64  `json:"endEpoch" toml:"EndEpoch" yaml:"end_epoch"`
	Cadence         uint64 `json:"epochCadence" toml:"EpochCadence" yaml:"epoch_cadence"`
}

// Validate checks a schedule about to be installed: the start must lie
// strictly after now, the six instants must be strictly increasing and the
// cadence must cover at least one full epoch.
func (s Schedule) Validate(now int64) error {
	if s.Start <= now {
		return vaulterrors.ErrScheduleNotInFuture
	}
	if !s.ordered() {
		return vaulterrors.ErrScheduleNonSequential
	}
	if s.Cadence < uint64(s.Span()) {
		return vaulterrors.Newf(vaulterrors.KindInvalidSchedule, vaulterrors.ReasonNonSequential,
			"epoch cadence %d shorter than epoch span %d", s.Cadence, s.Span())
	}
	return nil
}

func (s Schedule) ordered() bool {
	return s.Start < s.EndDeposits &&
		s.EndDeposits < s.StartAuction &&
		s.StartAuction < s.EndAuction &&
		s.EndAuction < s.StartSettlement &&
		s.StartSettlement < s.EndEpoch
}

// Span is end_epoch - start. Only meaningful for an ordered schedule.
func (s Schedule) Span() int64 {
	if s.EndEpoch <= s.Start {
		return 0
	}
	return s.EndEpoch - s.Start
}

// PhaseAt reports the window containing now.
func (s Schedule) PhaseAt(now int64) Phase {
	switch {
	case now <= s.Start:
		return PhasePreStart
	case now <= s.EndDeposits:
		return PhaseDepositWindow
	case now <= s.StartAuction:
		return PhaseIntermission
	case now <= s.EndAuction:
		return PhaseAuctionWindow
	case now <= s.StartSettlement:
		return PhaseIntermission
	case now <= s.EndEpoch:
		return PhaseSettlementWindow
	default:
		return PhaseClosed
	}
}

// CheckDepositWindow gates deposits and withdrawals: legal only when
// start < now <= end_deposits.
func (s Schedule) CheckDepositWindow(now int64) error {
	if now <= s.Start {
		return vaulterrors.ErrEpochNotStarted
	}
	if now > s.EndDeposits {
		return vaulterrors.ErrDepositWindowClosed
	}
	return nil
}

// CheckAuctionWindow gates auction operations: start_auction < now <= end_auction.
func (s Schedule) CheckAuctionWindow(now int64) error {
	if now <= s.StartAuction {
		return vaulterrors.ErrAuctionNotStarted
	}
	if now > s.EndAuction {
		return vaulterrors.ErrAuctionClosed
	}
	return nil
}

// CheckSettlementWindow gates settlement: start_settlement < now <= end_epoch.
func (s Schedule) CheckSettlementWindow(now int64) error {
	if now <= s.StartSettlement {
		return vaulterrors.ErrSettlementNotStarted
	}
	if now > s.EndEpoch {
		return vaulterrors.ErrEpochEnded
	}
	return nil
}

// CheckClosed gates rollover: the current epoch must be over.
func (s Schedule) CheckClosed(now int64) error {
	if now <= s.EndEpoch {
		return vaulterrors.ErrEpochNotOver
	}
	return nil
}

// Next shifts every instant by the cadence, producing the following epoch.
func (s Schedule) Next() (Schedule, error) {
	if s.Cadence > math.MaxInt64 {
		return Schedule{}, vaulterrors.New(vaulterrors.KindOverflow, "", "epoch cadence exceeds int64")
	}
	shift := int64(s.Cadence)
	if s.EndEpoch > math.MaxInt64-shift {
		return Schedule{}, vaulterrors.New(vaulterrors.KindOverflow, "", "next epoch overflows the timestamp range")
	}
	return Schedule{
		Start:           s.Start + shift,
		EndDeposits:     s.EndDeposits + shift,
		StartAuction:    s.StartAuction + shift,
		EndAuction:      s.EndAuction + shift,
		StartSettlement: s.StartSettlement + shift,
		EndEpoch:        s.EndEpoch + shift,
		Cadence:         s.Cadence,
	}, nil
}

// NextBoundary returns the first schedule instant strictly after now, used to
// plan the next phase check. ok is false once the epoch has closed.
func (s Schedule) NextBoundary(now int64) (int64, bool) {
	for _, instant := range []int64{s.Start, s.EndDeposits, s.StartAuction, s.EndAuction, s.StartSettlement, s.EndEpoch} {
		if instant > now {
			return instant, true
		}
	}
	return 0, false
}
