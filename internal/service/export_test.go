package service

import (
	"context"
	"time"

	"siapxml/internal/config"
)

// ExportedLayoutGuard exposes layoutGuard to the external test package.
type ExportedLayoutGuard = layoutGuard

// RunSchedule fires one schedule synchronously at the given time.
func (s *Scheduler) RunSchedule(ctx context.Context, sc config.Schedule, at time.Time) {
	s.now = func() time.Time { return at }
	s.runSchedule(ctx, sc)
}
