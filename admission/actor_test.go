package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-labs/veil-proxy-service/clients/database"
	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/plans"
)

var (
	testContext     = context.TODO()
	testActorLogger = func() *logging.ServiceLogger { l, _ := logging.New("ERROR"); return &l }()
)

type usageUpdate struct {
	token        string
	monthCounter int64
	monthResetAt time.Time
}

// fakeTenantStore is an in memory database.TenantStore recording every
// usage write it receives
type fakeTenantStore struct {
	mu      sync.Mutex
	records map[string]database.TenantRecord
	loadErr error
	updates []usageUpdate
}

var _ database.TenantStore = (*fakeTenantStore)(nil)

func newFakeTenantStore(records ...database.TenantRecord) *fakeTenantStore {
	store := &fakeTenantStore{records: make(map[string]database.TenantRecord)}
	for _, record := range records {
		store.records[record.Token] = record
	}
	return store
}

func (f *fakeTenantStore) GetTenantByToken(ctx context.Context, token string) (*database.TenantRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loadErr != nil {
		return nil, f.loadErr
	}

	record, exists := f.records[token]
	if !exists {
		return nil, database.ErrTenantNotFound
	}

	recordCopy := record
	return &recordCopy, nil
}

func (f *fakeTenantStore) UpdateTenantUsage(ctx context.Context, token string, monthCounter int64, monthResetAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates = append(f.updates, usageUpdate{token: token, monthCounter: monthCounter, monthResetAt: monthResetAt})
	return nil
}

func (f *fakeTenantStore) HealthCheck() error {
	return nil
}

func (f *fakeTenantStore) recordedUpdates() []usageUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()

	updates := make([]usageUpdate, len(f.updates))
	copy(updates, f.updates)
	return updates
}

// testClock is a manually advanced wall clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestActor(store database.TenantStore, clock *testClock) *Actor {
	return NewActor(ActorConfig{
		Store:  store,
		Now:    clock.Now,
		Logger: testActorLogger,
	})
}

func freeTenant(token string, now time.Time) database.TenantRecord {
	return database.TenantRecord{
		Token:        token,
		PlanID:       "free",
		MonthCounter: 0,
		MonthResetAt: now,
	}
}

func TestUnitTestCheckLimitFailsClosed(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		desc  string
		store *fakeTenantStore
		token string
	}{
		{
			desc:  "unknown token is denied",
			store: newFakeTenantStore(),
			token: "no-such-token",
		},
		{
			desc: "store error is treated as not found",
			store: func() *fakeTenantStore {
				store := newFakeTenantStore(freeTenant("token-a", now))
				store.loadErr = errors.New("connection refused")
				return store
			}(),
			token: "token-a",
		},
		{
			desc: "unknown plan id is denied",
			store: newFakeTenantStore(database.TenantRecord{
				Token:        "token-b",
				PlanID:       "enterprise-legacy",
				MonthResetAt: now,
			}),
			token: "token-b",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			actor := newTestActor(tc.store, newTestClock(now))
			defer actor.Stop()

			decision := actor.CheckLimit(testContext, tc.token)

			assert.False(t, decision.Allowed)
			assert.Equal(t, ReasonTenantNotFound, decision.Reason)
		})
	}
}

func TestUnitTestCheckLimitDenialNeverMutatesUsage(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeTenantStore()

	actor := newTestActor(store, newTestClock(now))

	for i := 0; i < 5; i++ {
		actor.CheckLimit(testContext, "no-such-token")
	}

	actor.Stop()

	assert.Empty(t, store.recordedUpdates())
}

func TestUnitTestCheckLimitTokenBucket(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(now)
	store := newFakeTenantStore(freeTenant("token-a", now))

	actor := newTestActor(store, clock)
	defer actor.Stop()

	freePlan, _ := plans.Lookup("free")
	bucketCeiling := int(freePlan.RequestsPerSecond * DefaultBurstMultiplier)

	// a fresh session starts with a full bucket
	for i := 0; i < bucketCeiling; i++ {
		decision := actor.CheckLimit(testContext, "token-a")
		require.True(t, decision.Allowed, "expected request %d within the burst ceiling to be allowed", i+1)
	}

	decision := actor.CheckLimit(testContext, "token-a")
	require.False(t, decision.Allowed)
	assert.Equal(t, ReasonRateLimit, decision.Reason)

	// one second of refill grants the sustained rate again
	clock.Advance(time.Second)

	for i := 0; i < int(freePlan.RequestsPerSecond); i++ {
		decision := actor.CheckLimit(testContext, "token-a")
		require.True(t, decision.Allowed, "expected refilled request %d to be allowed", i+1)
	}

	decision = actor.CheckLimit(testContext, "token-a")
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonRateLimit, decision.Reason)
}

func TestUnitTestCheckLimitRefillNeverExceedsCeiling(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(now)
	store := newFakeTenantStore(freeTenant("token-a", now))

	actor := newTestActor(store, clock)
	defer actor.Stop()

	// drain one token then wait far longer than a full refill
	require.True(t, actor.CheckLimit(testContext, "token-a").Allowed)
	clock.Advance(time.Hour)

	freePlan, _ := plans.Lookup("free")
	bucketCeiling := int(freePlan.RequestsPerSecond * DefaultBurstMultiplier)

	allowed := 0
	for i := 0; i < bucketCeiling*3; i++ {
		if actor.CheckLimit(testContext, "token-a").Allowed {
			allowed++
		}
	}

	assert.Equal(t, bucketCeiling, allowed)
}

func TestUnitTestCheckLimitMonthlyQuota(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	freePlan, _ := plans.Lookup("free")

	record := freeTenant("token-a", now)
	record.MonthCounter = freePlan.MonthlyRequestLimit

	store := newFakeTenantStore(record)
	actor := newTestActor(store, newTestClock(now))
	defer actor.Stop()

	decision := actor.CheckLimit(testContext, "token-a")

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonMonthlyLimit, decision.Reason)
	assert.Equal(t, int64(0), decision.Remaining)
	assert.Equal(t, "free", decision.PlanID)
}

func TestUnitTestCheckLimitMonthlyRollover(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 30, 0, 0, time.UTC)
	freePlan, _ := plans.Lookup("free")

	// the counter filled up last month, so the first call of the new
	// month rolls it over instead of denying
	record := freeTenant("token-a", time.Date(2024, time.February, 20, 12, 0, 0, 0, time.UTC))
	record.MonthCounter = freePlan.MonthlyRequestLimit

	store := newFakeTenantStore(record)
	actor := newTestActor(store, newTestClock(now))

	decision := actor.CheckLimit(testContext, "token-a")

	require.True(t, decision.Allowed)
	assert.Equal(t, freePlan.MonthlyRequestLimit-1, decision.Remaining)

	actor.Stop()

	updates := store.recordedUpdates()
	require.NotEmpty(t, updates)

	lastUpdate := updates[len(updates)-1]
	assert.Equal(t, "token-a", lastUpdate.token)
	assert.Equal(t, int64(1), lastUpdate.monthCounter)
	assert.Equal(t, now, lastUpdate.monthResetAt)
}

func TestUnitTestCheckLimitRolloverPersistsOnDenial(t *testing.T) {
	now := time.Date(2024, time.March, 1, 0, 30, 0, 0, time.UTC)

	// a rollover observed on a call denied by the rate limiter must
	// still reach the store
	record := freeTenant("token-a", time.Date(2024, time.February, 20, 12, 0, 0, 0, time.UTC))
	record.MonthCounter = 500

	store := newFakeTenantStore(record)
	clock := newTestClock(now)
	actor := newTestActor(store, clock)

	// drain the bucket, then trigger a denial
	for actor.CheckLimit(testContext, "token-a").Allowed {
	}

	actor.Stop()

	updates := store.recordedUpdates()
	require.NotEmpty(t, updates)
	assert.Equal(t, now, updates[0].monthResetAt)
}

func TestUnitTestCheckLimitUnlimitedPlan(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	record := database.TenantRecord{
		Token:        "token-unlimited",
		PlanID:       "unlimited",
		MonthCounter: 1_000_000_000,
		MonthResetAt: now,
	}

	store := newFakeTenantStore(record)
	actor := newTestActor(store, newTestClock(now))
	defer actor.Stop()

	decision := actor.CheckLimit(testContext, "token-unlimited")

	require.True(t, decision.Allowed)
	assert.Equal(t, plans.UnlimitedMonthlyRequests, decision.Remaining)
}

func TestUnitTestCheckLimitWriteBehindPersistsCounters(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	store := newFakeTenantStore(freeTenant("token-a", now))

	actor := newTestActor(store, newTestClock(now))

	allowed := 0
	for i := 0; i < 3; i++ {
		if actor.CheckLimit(testContext, "token-a").Allowed {
			allowed++
		}
	}
	require.Equal(t, 3, allowed)

	// Stop drains the write-behind queue before returning
	actor.Stop()

	updates := store.recordedUpdates()
	require.NotEmpty(t, updates)
	assert.Equal(t, int64(3), updates[len(updates)-1].monthCounter)
}

func TestUnitTestStopWithInFlightChecksNeverPanics(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(now)
	store := newFakeTenantStore(freeTenant("token-a", now))

	actor := newTestActor(store, clock)

	// hammer the actor from several goroutines while Stop runs so a
	// racing enqueue would hit the flush queue during shutdown
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				actor.CheckLimit(testContext, "token-a")
				clock.Advance(time.Millisecond)
			}
		}()
	}

	actor.Stop()
	wg.Wait()

	// Stop is idempotent
	actor.Stop()
}

func TestUnitTestCheckLimitRemainingDecrements(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	freePlan, _ := plans.Lookup("free")

	store := newFakeTenantStore(freeTenant("token-a", now))
	actor := newTestActor(store, newTestClock(now))
	defer actor.Stop()

	first := actor.CheckLimit(testContext, "token-a")
	second := actor.CheckLimit(testContext, "token-a")

	require.True(t, first.Allowed)
	require.True(t, second.Allowed)
	assert.Equal(t, freePlan.MonthlyRequestLimit-1, first.Remaining)
	assert.Equal(t, freePlan.MonthlyRequestLimit-2, second.Remaining)
}
