// Package audit records append-only security and change events.
package audit

import (
	"context"
	"log/slog"
	"time"

	"schedulers.app/internal/ids"
	"schedulers.app/internal/obs"
)

const defaultWriteTimeout = 3 * time.Second

// Recorder writes audit entries on a best-effort basis: a failed append is
// logged and counted but never surfaces to the caller.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
	queue   *dispatcher
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for the mirrored audit line and write failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithWriteTimeout bounds a single append.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithAsync queues writes on a buffer of the given size.
func WithAsync(buffer int) Option {
	return func(r *Recorder) {
		if buffer > 0 {
			r.queue = newDispatcher(buffer, func(e Entry) {
				r.write(context.Background(), e)
			})
		}
	}
}

// NewRecorder returns a recorder appending to store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  obs.Logger(),
		now:     time.Now,
		timeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills ID, time, origin and request id from ctx when unset, then
// appends e. It never fails the caller. A nil Recorder discards.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.OccurredAt)
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.Origin == "" {
		e.Origin = OriginFromContext(ctx)
	}
	if r.queue != nil {
		if !r.queue.enqueue(e) {
			obs.ObserveAuditDropped()
			r.logger.Warn("audit entry dropped", "action", e.Action, "request_id", e.RequestID)
		}
		return
	}
	r.write(ctx, e)
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	attrs := []any{
		"type", "audit",
		"audit_id", e.ID,
		"action", e.Action,
	}
	if e.ActorID != nil {
		attrs = append(attrs, "actor_id", *e.ActorID)
	}
	if e.ResourceType != "" {
		attrs = append(attrs, "resource_type", e.ResourceType, "resource_id", e.ResourceID)
	}
	if e.RequestID != "" {
		attrs = append(attrs, "request_id", e.RequestID)
	}

	if err := r.store.AppendAudit(ctx, &e); err != nil {
		obs.ObserveAuditWrite("error")
		r.logger.Error("audit append failed", append(attrs, "error", err)...)
		return
	}
	obs.ObserveAuditWrite("ok")
	r.logger.Info("audit", attrs...)
}

// Dropped returns how many entries the async queue discarded.
func (r *Recorder) Dropped() uint64 {
	if r == nil || r.queue == nil {
		return 0
	}
	return r.queue.dropped.Load()
}

// Close drains queued entries. Safe to call on a synchronous recorder.
func (r *Recorder) Close() {
	if r == nil || r.queue == nil {
		return
	}
	r.queue.close()
}
