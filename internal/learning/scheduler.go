// internal/learning/scheduler.go

package learning

import (
	"context"
	"time"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
)

// Scheduler periodically retrains the model when it is missing, stale or
// behind the sample set
type Scheduler struct {
	service  *Service
	interval time.Duration
	log      *logger.Logger
}

// NewScheduler creates a scheduler that checks every interval
func NewScheduler(service *Service, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{service: service, interval: interval, log: log}
}

// Start runs the periodic check until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	go s.runEvery(ctx, s.interval, s.service.RetrainIfNeeded)
}

func (s *Scheduler) runEvery(ctx context.Context, interval time.Duration, task func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := task(ctx); err != nil {
				s.log.Error("scheduled retraining check failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
