package services

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NotificationMarker records that a stage visit's notification went out.
type NotificationMarker interface {
	MarkNotified(ctx context.Context, assetID string, stageOrder, cycle int) error
}

// DispatcherConfig sizes the delivery pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher delivers workflow events to a Notifier from a bounded queue. A
// full queue drops the event; delivery failures are logged and counted, never
// returned to the workflow operation that produced the event.
type Dispatcher struct {
	notifier Notifier
	marker   NotificationMarker
	logger   *slog.Logger
	metrics  *Metrics
	workers  int

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	group  *errgroup.Group
	ctx    context.Context
}

// NewDispatcher creates a new Dispatcher. marker may be nil.
func NewDispatcher(notifier Notifier, marker NotificationMarker, cfg DispatcherConfig, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = defaultMetrics()
	}
	return &Dispatcher{
		notifier: notifier,
		marker:   marker,
		logger:   logger,
		metrics:  metrics,
		workers:  cfg.Workers,
		queue:    make(chan Event, cfg.QueueSize),
	}
}

// Start launches the workers. They stop after Close once the queue drains.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group != nil || d.closed {
		return
	}
	d.group, d.ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			for ev := range d.queue {
				d.deliver(d.ctx, ev)
			}
			return nil
		})
	}
	d.logger.Info("notification dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Publish enqueues ev without blocking. It reports false when the event was
// dropped.
func (d *Dispatcher) Publish(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.metrics.notificationFailure(context.Background(), ev.Kind, "queue_full")
		d.logger.Warn("notification queue full, dropping event",
			"kind", string(ev.Kind),
			"asset_id", ev.AssetID,
			"stage_order", ev.StageOrder,
			"cycle", ev.Cycle,
		)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	group := d.group
	d.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	var err error
	switch ev.Kind {
	case EventReviewersPending:
		err = d.notifier.NotifyReviewers(ctx, ev.StageOrder, ev.ProjectID, ev.AssetID)
	case EventOwnerPending:
		err = d.notifier.NotifyOwner(ctx, ev.AssetID)
	default:
		d.logger.Warn("unknown notification kind", "kind", string(ev.Kind))
		return
	}

	logger := d.logger.With(
		"kind", string(ev.Kind),
		"asset_id", ev.AssetID,
		"project_id", ev.ProjectID,
		"stage_order", ev.StageOrder,
		"cycle", ev.Cycle,
	)
	if err != nil {
		d.metrics.notificationFailure(ctx, ev.Kind, "delivery")
		logger.Warn("notification delivery failed", "error", err)
		return
	}
	if d.marker != nil {
		if err := d.marker.MarkNotified(ctx, ev.AssetID, ev.StageOrder, ev.Cycle); err != nil {
			logger.Warn("failed to record notification", "error", err)
			return
		}
	}
	logger.Debug("notification delivered")
}
