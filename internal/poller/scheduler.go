// Package poller runs the refresh loop for one account: it fetches
// snapshots, keeps the last good one, reconciles destination points and
// notifies observers after every poll.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"parcelwatch/internal/derive"
	"parcelwatch/internal/integrations"
	"parcelwatch/internal/metrics"
	"parcelwatch/internal/model"
	"parcelwatch/internal/notify"
	"parcelwatch/internal/reconcile"
)

const DefaultInterval = 300 * time.Second

var tracer = otel.Tracer("parcelwatch/poller")

// SnapshotFetcher is what the scheduler needs from the remote side.
type SnapshotFetcher interface {
	Validate(ctx context.Context) error
	Fetch(ctx context.Context) (model.Snapshot, error)
	Close() error
}

type Options struct {
	// Interval between the end of one poll and the start of the next.
	Interval time.Duration
	// FailureBackoff is the delay after the first failed poll; it doubles
	// with each consecutive failure up to Interval. Zero means Interval.
	FailureBackoff time.Duration
	Now            func() time.Time
}

type Scheduler struct {
	fetcher    SnapshotFetcher
	observers  *notify.Registry
	reconciler *reconcile.Reconciler
	interval   time.Duration
	backoff    time.Duration
	now        func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	current     *model.Snapshot
	points      int
	lastErr     error
	inFlight    bool
	failures    int
	lastAttempt time.Time
	lastSuccess time.Time
	nextRefresh time.Time
	added       []model.DestinationPoint

	life      context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	done      chan struct{}
	closeErr  error
}

func New(f SnapshotFetcher, observers *notify.Registry, opts Options) *Scheduler {
	if observers == nil {
		observers = notify.NewRegistry()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	life, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fetcher:    f,
		observers:  observers,
		reconciler: reconcile.New(),
		interval:   opts.Interval,
		backoff:    opts.FailureBackoff,
		now:        opts.Now,
		life:       life,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *Scheduler) Observers() *notify.Registry { return s.observers }

// Setup validates credentials and performs the first refresh. Credentials
// rejected by validation yield *SetupValidationError and other validation
// failures wrap ErrCannotConnect. Any failed first refresh wraps ErrNotReady,
// an auth failure included, so the host retries it.
func (s *Scheduler) Setup(ctx context.Context) error {
	if err := s.fetcher.Validate(ctx); err != nil {
		if errors.Is(err, integrations.ErrAuth) {
			return &SetupValidationError{Err: err}
		}
		return fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	if _, err := s.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

// Refresh runs a poll, or joins the one already in flight. Every caller of
// the same poll gets the same snapshot or the same error. If ctx ends first
// the caller stops waiting but the poll carries on.
func (s *Scheduler) Refresh(ctx context.Context) (model.Snapshot, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		return s.cycle()
	})
	select {
	case res := <-ch:
		metrics.RefreshRequests.WithLabelValues(strconv.FormatBool(res.Shared)).Inc()
		snap, _ := res.Val.(model.Snapshot)
		return snap, res.Err
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
}

func (s *Scheduler) cycle() (model.Snapshot, error) {
	if s.life.Err() != nil {
		return model.Snapshot{}, ErrStopped
	}
	ctx, span := tracer.Start(s.life, "poller.refresh")
	defer span.End()

	s.mu.Lock()
	s.inFlight = true
	s.lastAttempt = s.now()
	s.mu.Unlock()

	start := time.Now()
	snap, err := s.fetcher.Fetch(ctx)
	dur := time.Since(start)
	metrics.FetchDuration.Observe(dur.Seconds())

	if err != nil {
		s.mu.Lock()
		s.inFlight = false
		if s.life.Err() != nil {
			s.mu.Unlock()
			return model.Snapshot{}, ErrStopped
		}
		s.lastErr = err
		s.failures++
		s.added = nil
		failures := s.failures
		s.mu.Unlock()

		kind := integrations.KindOf(err)
		metrics.PollCycles.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		log.Printf("poller: refresh failed kind=%s failures=%d dur=%dms err=%v", kind, failures, dur.Milliseconds(), err)
		s.observers.NotifyAll()
		return model.Snapshot{}, err
	}

	points := derive.DestinationPoints(&snap)
	added := s.reconciler.Reconcile(points)

	s.mu.Lock()
	s.current = &snap
	s.points = points.Len()
	s.lastErr = nil
	s.failures = 0
	s.inFlight = false
	s.lastSuccess = snap.FetchedAt
	s.added = added
	s.mu.Unlock()

	metrics.PollCycles.WithLabelValues("ok").Inc()
	metrics.SnapshotParcels.Set(float64(len(snap.Parcels)))
	metrics.KnownDestinations.Set(float64(s.reconciler.Len()))
	span.SetAttributes(
		attribute.Int("parcels", len(snap.Parcels)),
		attribute.Int("destination_points", points.Len()),
		attribute.Int("added", len(added)),
	)
	log.Printf("poller: refresh ok parcels=%d points=%d added=%d dur=%dms", len(snap.Parcels), points.Len(), len(added), dur.Milliseconds())
	s.observers.NotifyAll()
	return snap, nil
}

// Start launches the periodic loop. The first tick comes one Interval after
// Start; Setup has already polled once by then.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.nextRefresh = s.now().Add(s.interval)
		s.mu.Unlock()
		go s.loop()
	})
}

// loop never overlaps polls: the next timer is armed only after the current
// poll has returned.
func (s *Scheduler) loop() {
	defer close(s.done)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.life.Done():
			return
		case <-timer.C:
		}
		_, err := s.Refresh(s.life)
		if errors.Is(err, ErrStopped) || s.life.Err() != nil {
			return
		}
		d := s.nextDelay(err)
		s.mu.Lock()
		s.nextRefresh = s.now().Add(d)
		s.mu.Unlock()
		timer.Reset(d)
	}
}

func (s *Scheduler) nextDelay(err error) time.Duration {
	if err == nil {
		return s.interval
	}
	s.mu.RLock()
	n := s.failures
	s.mu.RUnlock()
	return failureDelay(s.backoff, s.interval, n)
}

func failureDelay(base, ceiling time.Duration, failures int) time.Duration {
	if base <= 0 || base >= ceiling {
		return ceiling
	}
	if failures < 1 {
		failures = 1
	}
	if failures > 16 {
		failures = 16
	}
	d := base * time.Duration(1<<(failures-1))
	if d > ceiling {
		d = ceiling
	}
	return d
}

// Shutdown stops the loop, cancels any poll in flight and closes the
// fetcher. It is safe to call more than once.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.mu.RLock()
		started := s.started
		s.mu.RUnlock()
		if started {
			select {
			case <-s.done:
			case <-ctx.Done():
				log.Printf("poller: shutdown did not wait for loop: %v", ctx.Err())
			}
		}
		s.closeErr = s.fetcher.Close()
	})
	return s.closeErr
}

// Snapshot returns the last successful snapshot, or nil before the first.
func (s *Scheduler) Snapshot() *model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Added returns the destination points first seen by the most recent poll.
// It is empty after a failed poll.
func (s *Scheduler) Added() []model.DestinationPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.DestinationPoint(nil), s.added...)
}

// Known returns every destination point seen since start.
func (s *Scheduler) Known() []model.DestinationPoint { return s.reconciler.Known() }

// DestinationPoints derives the points of the current snapshot.
func (s *Scheduler) DestinationPoints() []model.DestinationPoint {
	return derive.DestinationPoints(s.Snapshot()).Sorted()
}

// Delivered returns the delivered parcels for one destination id from the
// current snapshot.
func (s *Scheduler) Delivered(destinationID string) []model.Parcel {
	return derive.FilterDelivered(s.Snapshot(), destinationID)
}

func (s *Scheduler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Scheduler) Status() model.PollStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.PollStatus{
		DestinationPoints:   s.points,
		KnownPoints:         s.reconciler.Len(),
		InFlight:            s.inFlight,
		ConsecutiveFailures: s.failures,
		LastErrorKind:       integrations.KindOf(s.lastErr),
		LastAttemptAt:       timePtr(s.lastAttempt),
		LastSuccessAt:       timePtr(s.lastSuccess),
		NextRefreshAt:       timePtr(s.nextRefresh),
	}
	if s.current != nil {
		st.FetchedAt = timePtr(s.current.FetchedAt)
		st.Parcels = len(s.current.Parcels)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
