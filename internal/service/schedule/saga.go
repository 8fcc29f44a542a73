package schedule

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"meetdash/internal/metrics"
)

// sagaStep is one action of a multi-step write. compensate may be nil when
// the action has nothing to undo.
type sagaStep struct {
	name       string
	execute    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

type saga struct {
	name   string
	steps  []sagaStep
	logger *zap.Logger
}

func newSaga(name string, logger *zap.Logger) *saga {
	return &saga{name: name, logger: logger}
}

func (s *saga) add(step sagaStep) *saga {
	s.steps = append(s.steps, step)
	return s
}

// run executes steps in order. On the first failure the completed steps are
// compensated in reverse order and the step error is returned, joined with
// any compensation failures.
func (s *saga) run(ctx context.Context) error {
	done := make([]sagaStep, 0, len(s.steps))
	for _, step := range s.steps {
		if err := step.execute(ctx); err != nil {
			s.logger.Warn("saga step failed",
				zap.String("saga", s.name),
				zap.String("step", step.name),
				zap.Error(err))
			return errors.Join(append([]error{err}, s.compensate(ctx, done)...)...)
		}
		done = append(done, step)
	}
	return nil
}

func (s *saga) compensate(ctx context.Context, done []sagaStep) []error {
	// compensations must run even when the request context is gone
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.compensate == nil {
			continue
		}
		metrics.SagaCompensations.WithLabelValues(step.name).Inc()
		if err := step.compensate(ctx); err != nil {
			s.logger.Error("saga compensation failed",
				zap.String("saga", s.name),
				zap.String("step", step.name),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}
