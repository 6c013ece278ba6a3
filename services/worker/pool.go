package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensciencearchive/server/infrastructure/errors"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/metrics"
	"github.com/opensciencearchive/server/services/outbox"
)

// Notifier surfaces outbox append notifications; *outbox.Listener
// implements it. A nil notifier leaves workers purely poll-driven.
type Notifier interface {
	Notifications() <-chan string
}

// Pool supervises the fixed set of event workers plus the stale-claim
// janitor. One worker runs per registered handler.
type Pool struct {
	workers         []*Worker
	byType          map[string][]*Worker
	store           Store
	log             *logging.Logger
	metrics         *metrics.Metrics
	notifier        Notifier
	janitorInterval time.Duration
	maxClaimTimeout time.Duration
	retention       time.Duration
	pruner          Pruner
}

// Pruner deletes delivered rows past the retention window;
// *outbox.Store implements it.
type Pruner interface {
	PruneDelivered(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
}

// Options tunes pool-level behavior.
type Options struct {
	Defaults        Config
	JanitorInterval time.Duration
	Retention       time.Duration
	Notifier        Notifier
	Pruner          Pruner
}

// NewPool validates every handler's configuration and builds the workers.
// Duplicate handler names are a wiring bug and rejected.
func NewPool(store Store, handlers []Handler, opts Options, log *logging.Logger, m *metrics.Metrics) (*Pool, error) {
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 30 * time.Second
	}

	pool := &Pool{
		byType:          make(map[string][]*Worker),
		store:           store,
		log:             log,
		metrics:         m,
		notifier:        opts.Notifier,
		janitorInterval: opts.JanitorInterval,
		retention:       opts.Retention,
		pruner:          opts.Pruner,
	}

	seen := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		if seen[h.Name()] {
			return nil, errors.Configuration(fmt.Sprintf("handler registered twice: %s", h.Name()))
		}
		seen[h.Name()] = true

		cfg := opts.Defaults
		if configured, ok := h.(Configured); ok {
			cfg = configured.WorkerConfig(opts.Defaults)
		}
		if err := cfg.Validate(); err != nil {
			return nil, errors.Configuration(fmt.Sprintf("handler %s: %v", h.Name(), err))
		}
		if cfg.ClaimTimeout > pool.maxClaimTimeout {
			pool.maxClaimTimeout = cfg.ClaimTimeout
		}

		w := NewWorker(h, store, cfg, log, m)
		pool.workers = append(pool.workers, w)
		pool.byType[h.EventType()] = append(pool.byType[h.EventType()], w)
	}
	return pool, nil
}

// Subscriptions derives the outbox subscription registry entries from the
// handler list, in registration order.
func (p *Pool) Subscriptions() []outbox.Subscription {
	subs := make([]outbox.Subscription, 0, len(p.workers))
	for _, w := range p.workers {
		subs = append(subs, outbox.Subscription{
			EventType: w.handler.EventType(),
			Group:     w.handler.Name(),
		})
	}
	return subs
}

// Run starts every worker and the janitor, then blocks until the context
// is cancelled and all workers have finished their in-flight batches.
func (p *Pool) Run(ctx context.Context) {
	p.log.WithComponent("worker-pool").WithField("workers", len(p.workers)).Info("starting worker pool")

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitor(ctx)
	}()

	if p.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.routeNotifications(ctx)
		}()
	}

	if p.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.observeDepth(ctx)
		}()
	}

	wg.Wait()
	p.log.WithComponent("worker-pool").Info("worker pool stopped")
}

// janitor periodically reclaims stale claims and prunes delivered rows.
func (p *Pool) janitor(ctx context.Context) {
	ticker := time.NewTicker(p.janitorInterval)
	defer ticker.Stop()
	log := p.log.WithComponent("janitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := p.store.ReclaimStale(ctx, p.maxClaimTimeout, time.Now().UTC()); err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("reclaim stale failed")
			}
		}

		if p.pruner != nil && p.retention > 0 {
			if _, err := p.pruner.PruneDelivered(ctx, p.retention, time.Now().UTC()); err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Error("prune delivered failed")
				}
			}
		}
	}
}

// routeNotifications wakes the workers bound to each notified event type.
func (p *Pool) routeNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case eventType, ok := <-p.notifier.Notifications():
			if !ok {
				return
			}
			for _, w := range p.byType[eventType] {
				w.Wake()
			}
		}
	}
}

// observeDepth refreshes the per-group queue depth gauge.
func (p *Pool) observeDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, w := range p.workers {
			depth, err := p.store.QueueDepth(ctx, w.handler.Name())
			if err != nil {
				continue
			}
			p.metrics.QueueDepth.WithLabelValues(w.handler.Name()).Set(float64(depth))
		}
	}
}
