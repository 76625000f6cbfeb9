package demo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"legaldemo/internal/models"
	"legaldemo/internal/session"
)

const (
	DefaultReapInterval    = 5 * time.Minute
	defaultReapConcurrency = 8
)

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Reaped int
	Failed int
}

// Reaper periodically evicts expired sessions and their documents.
type Reaper struct {
	svc         *Service
	interval    time.Duration
	concurrency int
	now         func() time.Time

	flight singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type ReaperOption func(*Reaper)

func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithReapConcurrency(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithReapClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReaper(svc *Service, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		svc:         svc,
		interval:    DefaultReapInterval,
		concurrency: defaultReapConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep loop. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.svc.log.Info("reaper started", "interval", r.interval.String())
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reaper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.Sweep(ctx)
			if res.Reaped > 0 || res.Failed > 0 {
				r.svc.log.Info("sweep finished", "reaped", res.Reaped, "failed", res.Failed)
			}
		}
	}
}

// Sweep evicts every session expired as of now. Concurrent callers share the
// sweep already in progress.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	v, _, _ := r.flight.Do("sweep", func() (interface{}, error) {
		return r.sweep(ctx), nil
	})
	return v.(SweepResult)
}

func (r *Reaper) sweep(ctx context.Context) SweepResult {
	ctx, span := r.svc.tracer.Start(ctx, "demo.Sweep")
	defer span.End()

	var (
		reaped, failed atomic.Int64
		g              errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for ex, err := range r.svc.store.ListExpired(ctx, r.now()) {
		if err != nil {
			r.svc.log.Error("list expired sessions failed", "error", err)
			break
		}
		g.Go(func() error {
			if r.evict(ctx, ex) {
				reaped.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{Reaped: int(reaped.Load()), Failed: int(failed.Load())}
	span.SetAttributes(attribute.Int("demo.reaped", res.Reaped), attribute.Int("demo.failed", res.Failed))
	return res
}

// evict releases the document first so a failed release leaves the session
// listed for the next sweep.
func (r *Reaper) evict(ctx context.Context, ex models.ExpiredSession) bool {
	unlock := r.svc.locks.Lock(ex.SessionID)
	defer unlock()

	if ex.DocumentID != "" {
		if err := r.svc.blobs.Delete(ctx, ex.DocumentID); err != nil {
			r.svc.log.Warn("release expired document failed", "session_id", ex.SessionID, "document_id", ex.DocumentID, "error", err)
			return false
		}
	}
	if _, err := r.svc.store.Delete(ctx, ex.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		r.svc.log.Warn("delete expired session failed", "session_id", ex.SessionID, "error", err)
		return false
	}
	return true
}
