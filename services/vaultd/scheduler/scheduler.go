package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"epochvault/core"
	"epochvault/core/epoch"
	"epochvault/crypto"
	"epochvault/native/vault"
	"epochvault/observability"
)

// Backend is the executor surface the watcher needs.
type Backend interface {
	Update(ctx context.Context, op string, fn func(tx *core.Tx) error) error
	View(ctx context.Context, fn func(tx *core.Tx) error) error
	Clock() epoch.Clock
}

// Options configures the epoch watcher.
type Options struct {
	// Spec is a robfig/cron schedule, "@every 30s" when empty.
	Spec string
	// AutoRollover rolls closed vaults administered by Operator onto their
	// next schedule.
	AutoRollover bool
	Operator     crypto.Signer
	Logger       *slog.Logger
}

// Report summarises one watcher pass.
type Report struct {
	Observed int
	Changed  []string
	Rolled   []string
}

// Scheduler watches every vault's phase, publishes the phase and pool gauges
// and optionally rolls closed epochs over.
type Scheduler struct {
	cron         *cron.Cron
	backend      Backend
	operator     crypto.Signer
	autoRollover bool
	logger       *slog.Logger
	metrics      *observability.VaultMetrics

	mu     sync.Mutex
	phases map[string]epoch.Phase
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the watcher on a cron runner. Start begins ticking.
func New(backend Backend, opts Options) (*Scheduler, error) {
	if backend == nil {
		return nil, errors.New("scheduler: backend required")
	}
	if opts.AutoRollover && opts.Operator == nil {
		return nil, errors.New("scheduler: auto rollover requires an operator signer")
	}
	spec := opts.Spec
	if spec == "" {
		spec = "@every 30s"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		backend:      backend,
		operator:     opts.Operator,
		autoRollover: opts.AutoRollover,
		logger:       logger.With("component", "epoch-watcher"),
		metrics:      observability.Vault(),
		phases:       make(map[string]epoch.Phase),
		ctx:          ctx,
		cancel:       cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("register epoch watcher %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("epoch watcher started", "auto_rollover", s.autoRollover)
}

// Stop halts the runner and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("epoch watcher stopped")
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("epoch watcher pass failed", "error", err)
	}
}

// RunOnce performs a single pass over every vault.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	type observed struct {
		name   string
		admin  crypto.Address
		phase  epoch.Phase
		epoch  uint64
		supply uint64
		pool   uint64
	}
	var seen []observed
	err := s.backend.View(ctx, func(tx *core.Tx) error {
		vaults, err := tx.State.ListVaults()
		if err != nil {
			return err
		}
		for _, v := range vaults {
			name := v.Name.String()
			phase, err := tx.Vault.Phase(name)
			if err != nil {
				return fmt.Errorf("phase of %s: %w", name, err)
			}
			pool, err := tx.Vault.Pool(name)
			if err != nil {
				return fmt.Errorf("pool of %s: %w", name, err)
			}
			seen = append(seen, observed{
				name:   name,
				admin:  v.Admin,
				phase:  phase.Phase,
				epoch:  phase.Epoch,
				supply: pool.ClaimSupply,
				pool:   pool.PoolValue,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &Report{Observed: len(seen)}
	var errs []error
	for _, o := range seen {
		s.metrics.SetPhase(o.name, int(o.phase))
		s.metrics.SetPool(o.name, o.supply, o.pool)
		if s.recordPhase(o.name, o.phase) {
			report.Changed = append(report.Changed, o.name)
			s.logger.Info("vault phase changed", "vault", o.name, "epoch", o.epoch, "phase", o.phase.String())
		}
		if !s.autoRollover || o.phase != epoch.PhaseClosed {
			continue
		}
		if !o.admin.Equal(s.operator.SignerAddress()) {
			s.logger.Debug("closed vault not administered by the operator", "vault", o.name)
			continue
		}
		if err := s.rollover(ctx, o.name); err != nil {
			errs = append(errs, fmt.Errorf("rollover %s: %w", o.name, err))
			continue
		}
		report.Rolled = append(report.Rolled, o.name)
	}
	return report, errors.Join(errs...)
}

func (s *Scheduler) rollover(ctx context.Context, name string) error {
	var rolled *vault.Vault
	err := s.backend.Update(ctx, "rollover", func(tx *core.Tx) error {
		current, err := tx.Vault.Vault(name)
		if err != nil {
			return err
		}
		next, err := vault.NextSchedule(current.Schedule, epoch.Unix(s.backend.Clock()))
		if err != nil {
			return err
		}
		rolled, err = tx.Vault.Rollover(s.operator, name, next)
		return err
	})
	if err != nil {
		return err
	}
	s.metrics.RecordRollover("scheduler")
	s.recordPhase(name, epoch.PhasePreStart)
	s.logger.Info("vault rolled over", "vault", name, "epoch", rolled.Epoch, "start", rolled.Schedule.Start)
	return nil
}

// recordPhase stores phase and reports whether it differs from the last pass.
func (s *Scheduler) recordPhase(name string, phase epoch.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.phases[name]
	s.phases[name] = phase
	return !ok || last != phase
}
