package epoch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	vaulterrors "epochvault/core/errors"
)

func sampleSchedule() Schedule {
	return Schedule{
		Start:           100,
		EndDeposits:     200,
		StartAuction:    210,
		EndAuction:      215,
		StartSettlement: 300,
		EndEpoch:        400,
		Cadence:         350,
	}
}

func TestScheduleValidate(t *testing.T) {
	base := sampleSchedule()
	require.NoError(t, base.Validate(50))

	tests := []struct {
		name   string
		mutate func(*Schedule)
		now    int64
		reason string
	}{
		{name: "start equals now", mutate: func(s *Schedule) {}, now: 100, reason: vaulterrors.ReasonNotInFuture},
		{name: "start in past", mutate: func(s *Schedule) {}, now: 120, reason: vaulterrors.ReasonNotInFuture},
		{name: "deposits end before start", mutate: func(s *Schedule) { s.EndDeposits = 90 }, now: 50, reason: vaulterrors.ReasonNonSequential},
		{name: "equal instants", mutate: func(s *Schedule) { s.EndAuction = s.StartAuction }, now: 50, reason: vaulterrors.ReasonNonSequential},
		{name: "settlement before auction end", mutate: func(s *Schedule) { s.StartSettlement = 212 }, now: 50, reason: vaulterrors.ReasonNonSequential},
		{name: "epoch end before settlement", mutate: func(s *Schedule) { s.EndEpoch = 250 }, now: 50, reason: vaulterrors.ReasonNonSequential},
		{name: "cadence too short", mutate: func(s *Schedule) { s.Cadence = 299 }, now: 50, reason: vaulterrors.ReasonNonSequential},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := sampleSchedule()
			tc.mutate(&s)
			err := s.Validate(tc.now)
			require.Error(t, err)
			require.True(t, errors.Is(err, vaulterrors.ErrInvalidSchedule))
			require.Equal(t, tc.reason, vaulterrors.ReasonOf(err))
		})
	}
}

func TestScheduleCadenceEqualToSpan(t *testing.T) {
	s := sampleSchedule()
	s.Cadence = 300
	require.NoError(t, s.Validate(0))
}

func TestCheckDepositWindow(t *testing.T) {
	s := sampleSchedule()
	require.ErrorIs(t, s.CheckDepositWindow(50), vaulterrors.ErrEpochNotStarted)
	require.ErrorIs(t, s.CheckDepositWindow(100), vaulterrors.ErrEpochNotStarted)
	require.NoError(t, s.CheckDepositWindow(101))
	require.NoError(t, s.CheckDepositWindow(150))
	require.NoError(t, s.CheckDepositWindow(200))
	require.ErrorIs(t, s.CheckDepositWindow(201), vaulterrors.ErrDepositWindowClosed)
	require.ErrorIs(t, s.CheckDepositWindow(500), vaulterrors.ErrDepositWindowClosed)
}

func TestAuctionAndSettlementWindows(t *testing.T) {
	s := sampleSchedule()
	require.ErrorIs(t, s.CheckAuctionWindow(210), vaulterrors.ErrAuctionNotStarted)
	require.NoError(t, s.CheckAuctionWindow(215))
	require.ErrorIs(t, s.CheckAuctionWindow(216), vaulterrors.ErrAuctionClosed)

	require.ErrorIs(t, s.CheckSettlementWindow(300), vaulterrors.ErrSettlementNotStarted)
	require.NoError(t, s.CheckSettlementWindow(400))
	require.ErrorIs(t, s.CheckSettlementWindow(401), vaulterrors.ErrEpochEnded)
}

func TestCheckClosed(t *testing.T) {
	s := sampleSchedule()
	require.ErrorIs(t, s.CheckClosed(400), vaulterrors.ErrEpochNotOver)
	require.NoError(t, s.CheckClosed(401))
}

func TestPhaseAt(t *testing.T) {
	s := sampleSchedule()
	cases := map[int64]Phase{
		0:   PhasePreStart,
		100: PhasePreStart,
		101: PhaseDepositWindow,
		200: PhaseDepositWindow,
		205: PhaseIntermission,
		212: PhaseAuctionWindow,
		250: PhaseIntermission,
		399: PhaseSettlementWindow,
		401: PhaseClosed,
	}
	for now, want := range cases {
		require.Equalf(t, want, s.PhaseAt(now), "now=%d", now)
	}
	require.Equal(t, "deposit_window", PhaseDepositWindow.String())
}

func TestNextShiftsByCadence(t *testing.T) {
	next, err := sampleSchedule().Next()
	require.NoError(t, err)
	require.Equal(t, int64(450), next.Start)
	require.Equal(t, int64(750), next.EndEpoch)
	require.Equal(t, uint64(350), next.Cadence)
	require.NoError(t, next.Validate(401))

	huge := sampleSchedule()
	huge.Cadence = 1 << 63
	_, err = huge.Next()
	require.ErrorIs(t, err, vaulterrors.ErrOverflow)
}

func TestNextBoundary(t *testing.T) {
	s := sampleSchedule()
	at, ok := s.NextBoundary(150)
	require.True(t, ok)
	require.Equal(t, int64(200), at)
	_, ok = s.NextBoundary(400)
	require.False(t, ok)
}

func TestTemplateBuild(t *testing.T) {
	tmpl := DefaultTemplate()
	require.NoError(t, tmpl.Validate())
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s := tmpl.Build(start)
	require.Equal(t, start.Unix(), s.Start)
	require.Equal(t, start.Add(time.Hour).Unix(), s.EndDeposits)
	require.Equal(t, start.Add(7*24*time.Hour-2*time.Hour).Unix(), s.StartSettlement)
	require.NoError(t, s.Validate(start.Unix()-1))

	bad := tmpl
	bad.Cadence = time.Hour
	require.Error(t, bad.Validate())
	bad = tmpl
	bad.AuctionWindow = 0
	require.Error(t, bad.Validate())
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(100)
	require.Equal(t, int64(100), Unix(c))
	c.Advance(50 * time.Second)
	require.Equal(t, int64(150), Unix(c))
	c.Set(10)
	require.Equal(t, int64(10), Unix(c))
}
