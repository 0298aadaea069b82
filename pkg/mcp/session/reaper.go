package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
)

const (
	// DefaultIdleThreshold is the default inactivity window after which a
	// session is considered dead (spec §4.4: "default 300 s").
	DefaultIdleThreshold = 300 * time.Second
	defaultSweepInterval = 30 * time.Second
)

// OnExpire is invoked once per reaped session, after its subscriptions
// have been removed and its state deleted, so callers can emit a
// client_disconnected equivalent event.
type OnExpire func(id string)

// Reaper periodically sweeps a Store for sessions idle past a threshold
// and deletes them.
type Reaper struct {
	store     Store
	threshold time.Duration
	interval  time.Duration
	logger    *logging.Logger
	onExpire  OnExpire

	unsubscribeAll func(sessionID string)

	stop chan struct{}
	done chan struct{}
}

// ReaperOption configures a Reaper at construction.
type ReaperOption func(*Reaper)

// WithThreshold overrides DefaultIdleThreshold.
func WithThreshold(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.threshold = d }
}

// WithInterval overrides the sweep interval (default 30s).
func WithInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.interval = d }
}

// WithLogger attaches a structured logger; defaults to a no-op logger.
func WithLogger(l *logging.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = l }
}

// WithOnExpire registers a callback fired after each session is reaped.
func WithOnExpire(fn OnExpire) ReaperOption {
	return func(r *Reaper) { r.onExpire = fn }
}

// WithUnsubscribeAll registers a hook invoked before a session's state is
// deleted, so a subscription manager can drop the session from every
// reverse uri->sessionId mapping (spec §4.5: "on session destruction,
// remove the session from all reverse mappings").
func WithUnsubscribeAll(fn func(sessionID string)) ReaperOption {
	return func(r *Reaper) { r.unsubscribeAll = fn }
}

// NewReaper constructs a Reaper bound to store. Call Start to begin
// sweeping.
func NewReaper(store Store, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:     store,
		threshold: DefaultIdleThreshold,
		interval:  defaultSweepInterval,
		logger:    logging.NewNop(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the sweep loop in a background goroutine.
func (r *Reaper) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()
	var expired []string
	r.store.Range(ctx, func(s *Session) bool {
		if s.IdleSince(now) >= r.threshold {
			expired = append(expired, s.ID())
		}
		return true
	})

	for _, id := range expired {
		if r.unsubscribeAll != nil {
			r.unsubscribeAll(id)
		}
		if err := r.store.Delete(ctx, id); err != nil {
			r.logger.Warn(ctx, "reaper failed to delete idle session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		r.logger.Debug(ctx, "session reaped for inactivity", zap.String("session_id", id))
		if r.onExpire != nil {
			r.onExpire(id)
		}
	}
}
