// Package scheduler triggers sync batches outside the request that queued
// them, either on an in-process worker or through NATS.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/index"
)

const (
	DriverLocal = "local"
	DriverNATS  = "nats"

	maxBatchTime = 10 * time.Minute
)

// BatchRunner runs one sync batch.
type BatchRunner interface {
	RunBatch(ctx context.Context) (*index.State, error)
}

// Scheduler is an index.Scheduler that can be shut down.
type Scheduler interface {
	index.Scheduler
	io.Closer
}

// New builds the scheduler selected by scheduler.driver.
func New(ctx context.Context, logger logger.Logger, cfg *config.Config, runner BatchRunner) (Scheduler, error) {
	switch strings.ToLower(cfg.GetSchedulerDriver()) {
	case DriverLocal:
		return NewLocal(ctx, logger, runner, cfg.GetBatchTriggerDelay()), nil
	case DriverNATS:
		return NewNATS(logger, cfg.GetNATSURL(), cfg.GetNATSSubject(), runner)
	default:
		logger.Error("unknown scheduler driver", "driver", cfg.GetSchedulerDriver())
		return nil, fmt.Errorf("unknown scheduler driver %q", cfg.GetSchedulerDriver())
	}
}

func runBatch(ctx context.Context, logger logger.Logger, runner BatchRunner) {
	batchCtx, cancel := context.WithTimeout(ctx, maxBatchTime)
	defer cancel()

	state, err := runner.RunBatch(batchCtx)
	switch {
	case errors.Is(err, index.ErrNotRunning), errors.Is(err, index.ErrCancelled):
		logger.Info("batch trigger ignored", "reason", err.Error())
	case err != nil:
		logger.Error("sync batch failed", "err", err.Error())
	case state != nil:
		logger.Debug("sync batch ran", "sync_id", state.ID, "status", state.Status, "page", state.Page)
	}
}
