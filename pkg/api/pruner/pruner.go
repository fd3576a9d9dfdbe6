package pruner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/teamspace/pkg/metrics"
)

// Store is the persistence the pruner drives.
type Store interface {
	PrunePushSubscriptions(ctx context.Context, before time.Time) (int64, error)
}

// Pruner is a background service that periodically removes push
// subscriptions that browsers stopped refreshing.
type Pruner interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Pruner = (*pruner)(nil)

type pruner struct {
	log       logrus.FieldLogger
	store     Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewPruner creates a pruner removing subscriptions not refreshed within
// retention, checking every interval.
func NewPruner(
	log logrus.FieldLogger,
	store Store,
	retention, interval time.Duration,
) Pruner {
	return &pruner{
		log:       log.WithField("component", "push-pruner"),
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate pass in the background and then one per interval.
func (p *pruner) Start(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"retention": p.retention.String(),
		"interval":  p.interval.String(),
	}).Info("Starting push subscription pruner")

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.runPass(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.runPass(ctx)
			case <-p.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the background goroutine and waits for it.
func (p *pruner) Stop() error {
	close(p.done)
	p.wg.Wait()

	p.log.Info("Push subscription pruner stopped")

	return nil
}

func (p *pruner) runPass(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)

	removed, err := p.store.PrunePushSubscriptions(ctx, cutoff)
	if err != nil {
		p.log.WithError(err).Warn("Pruning push subscriptions failed")

		return
	}

	metrics.PushSubscriptionsPrunedTotal.Add(float64(removed))

	if removed > 0 {
		p.log.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Pruned stale push subscriptions")
	}
}
