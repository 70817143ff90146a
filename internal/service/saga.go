package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// sagaStep is one write of a multi-step creation. compensate undoes run and
// may be nil. A non-critical step that fails is logged and skipped.
type sagaStep struct {
	name       string
	critical   bool
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// saga runs steps in order and, when a critical step fails, compensates the
// completed steps in reverse.
type saga struct {
	logger *zap.Logger
	done   []sagaStep
}

func newSaga(logger *zap.Logger) *saga {
	return &saga{logger: logger}
}

func (s *saga) run(ctx context.Context, step sagaStep) error {
	if err := step.run(ctx); err != nil {
		if !step.critical {
			s.logger.Warn("saga: non-critical step failed",
				zap.String("step", step.name),
				zap.Error(err),
			)
			return nil
		}
		s.rollback(ctx, step.name)
		return fmt.Errorf("%s: %w", step.name, err)
	}
	s.done = append(s.done, step)
	return nil
}

// rollback runs compensations even when ctx is already cancelled.
func (s *saga) rollback(ctx context.Context, failed string) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.done) - 1; i >= 0; i-- {
		step := s.done[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(ctx); err != nil {
			s.logger.Error("saga: compensation failed",
				zap.String("step", step.name),
				zap.String("failed_step", failed),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("saga: step compensated",
			zap.String("step", step.name),
			zap.String("failed_step", failed),
		)
	}
	s.done = nil
}
