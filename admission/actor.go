// package admission provides per tenant admission control for the
// proxy service: monthly quota accounting and token bucket rate
// limiting with write-behind persistence of usage counters
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/veil-labs/veil-proxy-service/clients/database"
	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/plans"
)

// Reason identifies why an admission check denied a request
type Reason string

const (
	ReasonTenantNotFound Reason = "tenant_not_found"
	ReasonMonthlyLimit   Reason = "monthly_limit_exceeded"
	ReasonRateLimit      Reason = "rate_limit_exceeded"
)

// Decision is the result of an admission check
type Decision struct {
	Allowed bool
	Reason  Reason
	// Remaining is the number of requests left in the tenant's
	// monthly quota, plans.UnlimitedMonthlyRequests when unbounded
	Remaining int64
	// PlanID is the plan of the tenant the decision applies to,
	// empty when no tenant record was found
	PlanID string
}

const (
	DefaultBurstMultiplier = 1.5
	DefaultFlushQueueSize  = 1024

	flushWriteTimeout = 5 * time.Second
)

// ActorConfig wraps values used for creating a new Actor
type ActorConfig struct {
	Store database.TenantStore
	// BurstMultiplier scales the sustained rate into the bucket
	// ceiling, defaulting to DefaultBurstMultiplier
	BurstMultiplier float64
	// FlushQueueSize bounds the write-behind queue, defaulting to
	// DefaultFlushQueueSize
	FlushQueueSize int
	// Now overrides the wall clock, used by tests
	Now    func() time.Time
	Logger *logging.ServiceLogger
}

// Actor owns the quota and burst-rate state for every tenant seen by
// this process. Operations for the same tenant are serialized by a
// per session mutex; different tenants proceed fully in parallel.
type Actor struct {
	store           database.TenantStore
	burstMultiplier float64
	now             func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	flushQueue chan flushJob
	stopOnce   sync.Once
	stopped    chan struct{}
	drained    chan struct{}

	*logging.ServiceLogger
}

type sessionState int

const (
	sessionUninitialized sessionState = iota
	sessionActive
	// sessionNotFound is terminal: absence of a record and a failed
	// load are treated identically and never grant access
	sessionNotFound
)

// session is the actor-local state for a single tenant. All fields
// are guarded by mu, making the session single-writer.
type session struct {
	mu sync.Mutex

	state      sessionState
	record     *database.TenantRecord
	plan       plans.Plan
	tokens     float64
	lastRefill time.Time
	dirty      bool
}

type flushJob struct {
	token        string
	monthCounter int64
	monthResetAt time.Time
}

// NewActor creates a new Actor backed by the provided tenant store
// and starts its write-behind flush worker
func NewActor(config ActorConfig) *Actor {
	burstMultiplier := config.BurstMultiplier
	if burstMultiplier <= 0 {
		burstMultiplier = DefaultBurstMultiplier
	}

	flushQueueSize := config.FlushQueueSize
	if flushQueueSize <= 0 {
		flushQueueSize = DefaultFlushQueueSize
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	actor := &Actor{
		store:           config.Store,
		burstMultiplier: burstMultiplier,
		now:             now,
		sessions:        make(map[string]*session),
		flushQueue:      make(chan flushJob, flushQueueSize),
		stopped:         make(chan struct{}),
		drained:         make(chan struct{}),
		ServiceLogger:   config.Logger,
	}

	go actor.runFlushWorker()

	return actor
}

// CheckLimit runs the admission check for the tenant identified by
// token. The returned decision never depends on the outcome of the
// write-behind flush it may schedule.
func (a *Actor) CheckLimit(ctx context.Context, token string) Decision {
	s := a.sessionFor(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == sessionUninitialized {
		a.loadSession(ctx, token, s)
	}

	if s.state == sessionNotFound {
		// fail closed, no default quota is granted
		return Decision{Allowed: false, Reason: ReasonTenantNotFound}
	}

	now := a.now()

	// 1. monthly rollover: compare by calendar month and year,
	// never by elapsed seconds
	if !sameMonth(s.record.MonthResetAt, now) {
		s.record.MonthCounter = 0
		s.record.MonthResetAt = now
		s.dirty = true
	}

	// 2. monthly quota
	if !s.plan.Unlimited() && s.record.MonthCounter >= s.plan.MonthlyRequestLimit {
		// flush any pending dirty state before denying so a rollover
		// observed on a denied call still persists
		a.scheduleFlush(token, s)
		return Decision{Allowed: false, Reason: ReasonMonthlyLimit, Remaining: 0, PlanID: s.plan.ID}
	}

	// 3. token bucket refill
	elapsed := now.Sub(s.lastRefill)
	if elapsed > 0 {
		ceiling := s.plan.RequestsPerSecond * a.burstMultiplier
		s.tokens = math.Min(s.tokens+elapsed.Seconds()*s.plan.RequestsPerSecond, ceiling)
		s.lastRefill = now
	}

	// 4. bucket check
	if s.tokens < 1 {
		return Decision{Allowed: false, Reason: ReasonRateLimit, Remaining: s.remaining(), PlanID: s.plan.ID}
	}

	// 5. consume and schedule write-behind persistence
	s.tokens--
	s.record.MonthCounter++
	s.dirty = true
	a.scheduleFlush(token, s)

	return Decision{Allowed: true, Remaining: s.remaining(), PlanID: s.plan.ID}
}

// Stop shuts down the flush worker after draining any queued writes.
// The queue channel itself is never closed: admission checks may
// still be in flight when Stop runs, and their enqueues must never
// panic, only get dropped.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopped)
	})
	<-a.drained
}

func (a *Actor) sessionFor(token string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, exists := a.sessions[token]
	if !exists {
		s = &session{}
		a.sessions[token] = s
	}
	return s
}

// loadSession performs the lazy first-call load of the tenant record.
// Store errors are treated identically to a missing record: the
// session transitions to the terminal not-found state.
func (a *Actor) loadSession(ctx context.Context, token string, s *session) {
	record, err := a.store.GetTenantByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, database.ErrTenantNotFound) {
			a.Error().Err(err).Msg("tenant record load failed, failing closed")
		}

		s.state = sessionNotFound
		return
	}

	plan, known := plans.Lookup(record.PlanID)
	if !known {
		a.Error().Msg(fmt.Sprintf("tenant record has unknown plan id %s, failing closed", record.PlanID))
		s.state = sessionNotFound
		return
	}

	s.record = record
	s.plan = plan
	// a freshly loaded session starts with a full bucket
	s.tokens = plan.RequestsPerSecond * a.burstMultiplier
	s.lastRefill = a.now()
	s.state = sessionActive
}

// scheduleFlush enqueues a snapshot of the session's usage counters
// for write-behind persistence without blocking the admission
// decision. When the queue is full the snapshot is dropped and the
// session stays dirty so a later call re-attempts the write; a crash
// before a successful flush loses at most the unflushed counts.
func (a *Actor) scheduleFlush(token string, s *session) {
	if !s.dirty {
		return
	}

	select {
	case <-a.stopped:
		a.Error().Msg(fmt.Sprintf("actor stopped, dropping usage flush for tenant on plan %s", s.plan.ID))
		return
	default:
	}

	job := flushJob{
		token:        token,
		monthCounter: s.record.MonthCounter,
		monthResetAt: s.record.MonthResetAt,
	}

	select {
	case a.flushQueue <- job:
		s.dirty = false
	default:
		a.Error().Msg(fmt.Sprintf("usage flush queue full, dropping write for tenant on plan %s", s.plan.ID))
	}
}

// runFlushWorker drains the write-behind queue. Each job gets a
// single best-effort write attempt; failures are logged and swallowed
// since the admission decision has already been returned. On stop the
// worker flushes everything enqueued so far and exits; enqueues that
// race past the stop signal stay in the buffer and are lost, the same
// loss bound as a dropped write on a full queue.
func (a *Actor) runFlushWorker() {
	defer close(a.drained)

	for {
		select {
		case job := <-a.flushQueue:
			a.flush(job)
		case <-a.stopped:
			for {
				select {
				case job := <-a.flushQueue:
					a.flush(job)
				default:
					return
				}
			}
		}
	}
}

func (a *Actor) flush(job flushJob) {
	ctx, cancel := context.WithTimeout(context.Background(), flushWriteTimeout)
	defer cancel()

	err := a.store.UpdateTenantUsage(ctx, job.token, job.monthCounter, job.monthResetAt)
	if err != nil {
		a.Error().Err(err).Msg("tenant usage flush failed")
	}
}

func (s *session) remaining() int64 {
	if s.plan.Unlimited() {
		return plans.UnlimitedMonthlyRequests
	}

	return s.plan.MonthlyRequestLimit - s.record.MonthCounter
}

func sameMonth(a, b time.Time) bool {
	return a.Month() == b.Month() && a.Year() == b.Year()
}
