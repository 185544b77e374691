// Package outbound drains the durable work queues against the remote service.
//
// A pass runs one drain loop per queue kind concurrently. Every loop claims
// records under the pass's owner id, oldest first, until its queue is
// empty, the context is cancelled, or a record fails fatally:
//
//	claim -> none: done
//	      -> send -> ok:          remove, continue
//	              -> recoverable: keep, continue
//	              -> fatal:       remove, stop this loop with the error
//
// Recoverable records stay claimed until the pass ends and its claims are
// released, so a loop never serves the same record twice in one pass.
// Receipt claims are not released; they wait out their lease.
//
// Thread-safety: Service methods are safe for concurrent use. At most one
// Run loop should be active per store.
package outbound

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/courier/internal/fault"
	"github.com/roach88/courier/internal/group"
	"github.com/roach88/courier/internal/job"
	"github.com/roach88/courier/internal/model"
	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/remote"
	"github.com/roach88/courier/internal/store"
)

// Config tunes the service. Zero values fall back to defaults.
type Config struct {
	// TickInterval wakes the service even without NotifyWork.
	TickInterval time.Duration

	// RemoteRPS and RemoteBurst throttle remote calls. RemoteRPS <= 0
	// disables throttling.
	RemoteRPS   float64
	RemoteBurst int

	// Lease is how long a claim is honored. Defaults to queue.DefaultLease.
	Lease time.Duration
}

// DefaultTickInterval is used when Config.TickInterval is zero.
const DefaultTickInterval = time.Minute

// Deps are the collaborators the drain loops send through.
type Deps struct {
	Store    *store.Store
	Notifier *store.Notifier
	Clients  *remote.Clients
	Engine   group.Engine
	Self     model.UserID

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service is the outbound service.
type Service struct {
	cfg      Config
	deps     Deps
	limiter  *rate.Limiter
	registry *prometheus.Registry
	metrics  *metrics
	wake     chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped service.
func New(cfg Config, deps Deps) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = queue.DefaultLease
	}
	limit := rate.Inf
	if cfg.RemoteRPS > 0 {
		limit = rate.Limit(cfg.RemoteRPS)
	}
	if cfg.RemoteBurst <= 0 {
		cfg.RemoteBurst = 1
	}

	reg := prometheus.NewRegistry()
	return &Service{
		cfg:      cfg,
		deps:     deps,
		limiter:  rate.NewLimiter(limit, cfg.RemoteBurst),
		registry: reg,
		metrics:  newMetrics(reg),
		wake:     make(chan struct{}, 1),
	}
}

// Registry exposes the service's metrics.
func (s *Service) Registry() *prometheus.Registry { return s.registry }

// NotifyWork wakes the service. Never blocks; wakes coalesce.
func (s *Service) NotifyWork() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the service in the background. Calling Start on a running
// service is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the background loop and waits for the in-flight pass to
// finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run executes passes until ctx is cancelled: one immediately, then one per
// wake signal or tick.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("outbound service starting", "tick_interval", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && !fault.IsCancelled(err) {
			slog.Error("outbound pass failed", "error", err, "kind", fault.KindOf(err))
		}

		select {
		case <-ctx.Done():
			slog.Info("outbound service stopping: context cancelled")
			return ctx.Err()
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass over every queue. Returns the first fatal
// error of any drain loop.
func (s *Service) RunOnce(ctx context.Context) error {
	start := time.Now()
	owner := uuid.New()

	var g errgroup.Group
	g.Go(func() error { return s.drain(ctx, KindPending, owner, s.retryNextPending) })
	g.Go(func() error { return s.drain(ctx, KindChatMessage, owner, s.sendNextChatMessage) })
	g.Go(func() error { return s.drain(ctx, KindReceipt, owner, s.sendNextReceipts) })
	g.Go(func() error { return s.drain(ctx, KindTimedTask, owner, s.runNextTimedTask) })
	g.Go(func() error { return s.drain(ctx, KindPushToken, owner, s.sendPushToken) })
	g.Go(func() error { return s.drain(ctx, KindResync, owner, s.resyncNextGroup) })
	err := g.Wait()

	// Released even when ctx is done so the next run can claim at once.
	rctx := context.WithoutCancel(ctx)
	if rerr := s.deps.Store.WithImmediateTx(rctx, func(tx *sql.Tx) error {
		return queue.ReleaseClaims(rctx, tx, owner)
	}); rerr != nil {
		slog.Error("failed to release claims", "owner", owner, "error", rerr)
	}

	s.metrics.passes.Inc()
	s.metrics.passDuration.Observe(time.Since(start).Seconds())
	return err
}

// step handles at most one queue record. It reports false when there was
// nothing to claim.
type step func(ctx context.Context, owner uuid.UUID) (bool, error)

func (s *Service) drain(ctx context.Context, kind string, owner uuid.UUID, next step) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		handled, err := next(ctx, owner)
		switch fault.KindOf(err) {
		case 0:
			if !handled {
				return nil
			}
			s.metrics.record(kind, OutcomeProcessed)
		case fault.Recoverable:
			s.metrics.record(kind, OutcomeRecoverable)
			slog.Warn("outbound record failed, will retry", "kind", kind, "error", err)
		case fault.Cancelled:
			return nil
		default:
			s.metrics.record(kind, OutcomeFatal)
			slog.Error("outbound record failed", "kind", kind, "error", err)
			return err
		}
	}
}

func (s *Service) now() time.Time {
	if s.deps.Now != nil {
		return s.deps.Now()
	}
	return time.Now()
}

func (s *Service) claim(owner uuid.UUID) queue.Claim {
	return queue.Claim{Owner: owner, Now: s.now(), Lease: s.cfg.Lease}
}

// throttle waits for the remote-call limiter.
func (s *Service) throttle(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return &fault.Error{Kind: fault.Cancelled, Op: "throttle", Err: ctx.Err()}
		}
		return fault.NewRecoverable("throttle", err)
	}
	return nil
}

func (s *Service) jobContext(owner uuid.UUID) *job.Context {
	return &job.Context{
		Clients:  s.deps.Clients,
		Store:    s.deps.Store,
		Notifier: s.deps.Notifier,
		Engine:   s.deps.Engine,
		Self:     s.deps.Self,
		Owner:    owner,
		Now:      s.deps.Now,
	}
}

func (s *Service) client(groupID model.GroupID) (remote.Client, error) {
	c, err := s.deps.Clients.Get(groupID.Domain())
	if err != nil {
		return nil, fault.NewFatal("resolve client", err)
	}
	return c, nil
}
