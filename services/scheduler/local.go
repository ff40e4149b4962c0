package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/meghashyamc/presssync/logger"
)

// Local runs batches on a single goroutine. Triggers that arrive while one is
// already pending are merged.
type Local struct {
	logger   logger.Logger
	runner   BatchRunner
	delay    time.Duration
	triggerC chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func NewLocal(ctx context.Context, logger logger.Logger, runner BatchRunner, delay time.Duration) *Local {
	ctx, cancel := context.WithCancel(ctx)
	local := &Local{
		logger:   logger,
		runner:   runner,
		delay:    delay,
		triggerC: make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go local.run(ctx)
	return local
}

func (l *Local) ScheduleBatch(ctx context.Context) error {
	select {
	// This leads to runner.RunBatch being called
	case l.triggerC <- struct{}{}:
	default:
		l.logger.Debug("batch already scheduled")
	}
	return nil
}

func (l *Local) Close() error {
	l.once.Do(l.cancel)
	<-l.done
	return nil
}

func (l *Local) run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.triggerC:
			if l.delay > 0 {
				select {
				case <-time.After(l.delay):
				case <-ctx.Done():
					l.logger.Info("batch scheduler stopped", "reason", ctx.Err())
					return
				}
			}
			runBatch(ctx, l.logger, l.runner)
		case <-ctx.Done():
			l.logger.Info("batch scheduler stopped", "reason", ctx.Err())
			return
		}
	}
}
