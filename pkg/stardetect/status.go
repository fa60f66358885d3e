package stardetect

import (
	"context"
	"fmt"
	"sync/atomic"
)

// statusMonitor advances a shared work counter and turns a canceled context
// into ErrCanceled. Safe for concurrent use.
type statusMonitor struct {
	ctx      context.Context
	progress ProgressFunc
	count    atomic.Int64
}

func newStatusMonitor(ctx context.Context, progress ProgressFunc) *statusMonitor {
	if ctx == nil {
		ctx = context.Background()
	}
	return &statusMonitor{ctx: ctx, progress: progress}
}

// Add advances the counter by n units and reports a pending cancellation.
func (s *statusMonitor) Add(n int64) error {
	done := s.count.Add(n)
	if s.progress != nil {
		s.progress(done)
	}
	return s.Err()
}

// Err reports a pending cancellation without advancing the counter.
func (s *statusMonitor) Err() error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return nil
}
