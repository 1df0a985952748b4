package vault

import (
	"errors"
	"fmt"
	"log/slog"
)

// step is one effect of a pipeline and the action that undoes it.
type step struct {
	name       string
	run        func() error
	compensate func() error
}

// saga runs steps in order. When a step fails, the compensations of every
// completed step run in reverse and their failures are joined onto the
// original error.
type saga struct {
	pipeline string
	logger   *slog.Logger
	steps    []step
	// onCompensate observes each compensation attempt; err is nil on success.
	onCompensate func(step string, err error)
}

func newSaga(pipeline string, logger *slog.Logger) *saga {
	if logger == nil {
		logger = slog.Default()
	}
	return &saga{pipeline: pipeline, logger: logger}
}

func (s *saga) add(name string, run, compensate func() error) *saga {
	s.steps = append(s.steps, step{name: name, run: run, compensate: compensate})
	return s
}

func (s *saga) run() error {
	for i, st := range s.steps {
		s.logger.Debug("pipeline step", "pipeline", s.pipeline, "step", st.name)
		if err := st.run(); err != nil {
			return s.rollback(i, fmt.Errorf("%s %s: %w", s.pipeline, st.name, err))
		}
	}
	return nil
}

func (s *saga) rollback(failed int, cause error) error {
	errs := []error{cause}
	for i := failed - 1; i >= 0; i-- {
		st := s.steps[i]
		if st.compensate == nil {
			continue
		}
		err := st.compensate()
		if err != nil {
			s.logger.Warn("compensation failed", "pipeline", s.pipeline, "step", st.name, "error", err)
			errs = append(errs, fmt.Errorf("compensate %s: %w", st.name, err))
		} else {
			s.logger.Debug("compensated", "pipeline", s.pipeline, "step", st.name)
		}
		if s.onCompensate != nil {
			s.onCompensate(st.name, err)
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}
