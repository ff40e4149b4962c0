package health

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meghashyamc/presssync/db/kvdb"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logger.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeEngine struct {
	calls  atomic.Int32
	status string
	err    error
	block  chan struct{}
}

func (f *fakeEngine) ClusterHealth(ctx context.Context) (*searchdb.ClusterHealth, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &searchdb.ClusterHealth{ClusterName: "test", Status: f.status}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testOptions = Options{
	Interval:          5 * time.Minute,
	IncreaseInterval:  time.Minute,
	AlertThreshold:    8 * time.Minute,
	ShutdownThreshold: 15 * time.Minute,
	StaleThreshold:    10 * time.Minute,
}

type testEnv struct {
	monitor  *Monitor
	engine   *fakeEngine
	clock    *clock
	db       *kvdb.BoltDB
	settings *kvdb.Settings
	metrics  *metrics.Metrics
}

func setupTestEnv(t *testing.T, assert *require.Assertions) *testEnv {
	db, err := kvdb.Open(newTestLogger(), filepath.Join(t.TempDir(), "kv.db"))
	assert.NoError(err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		engine:   &fakeEngine{status: ClusterGreen},
		clock:    &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		db:       db,
		settings: kvdb.NewSettings(db),
		metrics:  metrics.New(),
	}
	env.monitor = New(newTestLogger(), env.engine, db, env.settings, env.metrics, testOptions)
	env.monitor.SetClock(env.clock.Now)
	return env
}

func TestStatusTransitions(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)
	ctx := t.Context()

	assert.Equal(StatusNever, env.monitor.Status())

	assert.True(env.monitor.Check(ctx, true))
	assert.Equal(StatusOK, env.monitor.Status())

	env.engine.status = ClusterRed
	steps := []struct {
		advance time.Duration
		want    string
	}{
		{advance: 5 * time.Minute, want: StatusOK},
		{advance: 5 * time.Minute, want: StatusAlert},
		{advance: 6 * time.Minute, want: StatusShutdown},
	}
	for _, step := range steps {
		env.clock.Advance(step.advance)
		assert.False(env.monitor.Check(ctx, true))
		assert.Equal(step.want, env.monitor.Status())
	}

	env.clock.Advance(11 * time.Minute)
	assert.Equal(StatusStale, env.monitor.Status(), "no probe for longer than the stale threshold")
}

func TestCheckRecordsHeartbeat(t *testing.T) {
	testCases := []struct {
		name         string
		status       string
		err          error
		wantHealthy  bool
		wantStatus   string
		wantVerified bool
	}{
		{name: "green", status: ClusterGreen, wantHealthy: true, wantStatus: ClusterGreen, wantVerified: true},
		{name: "yellow", status: ClusterYellow, wantHealthy: true, wantStatus: ClusterYellow, wantVerified: true},
		{name: "red", status: ClusterRed, wantStatus: ClusterRed},
		{name: "missing status", status: "", wantStatus: ClusterInvalid},
		{name: "transport failure", err: &searchdb.TransportError{Method: "GET", URL: "/_cluster/health", Err: errors.New("connection refused")}, wantStatus: ClusterInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := require.New(t)
			env := setupTestEnv(t, assert)
			env.engine.status = tc.status
			env.engine.err = tc.err

			assert.Equal(tc.wantHealthy, env.monitor.Check(t.Context(), true))

			beat := env.monitor.Heartbeat()
			assert.Equal(tc.wantStatus, beat.LastStatus)
			assert.Equal(env.clock.Now(), beat.Queried)
			assert.Equal(tc.wantVerified, !beat.Verified.IsZero())
		})
	}
}

func TestHeartbeatIsPersisted(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)

	assert.True(env.monitor.Check(t.Context(), true))

	reopened := New(newTestLogger(), env.engine, env.db, env.settings, nil, testOptions)
	reopened.SetClock(env.clock.Now)
	assert.Equal(StatusOK, reopened.Status())
	assert.Equal(ClusterGreen, reopened.Heartbeat().LastStatus)

	assert.NoError(reopened.Reset())
	assert.Equal(StatusNever, reopened.Status())
	_, err := env.db.Get(kvdb.HeartbeatBucket, heartbeatKey)
	assert.ErrorIs(err, kvdb.ErrNotFound)
}

func TestRequestCacheProbesOnce(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)

	ctx := WithRequestCache(t.Context())
	for range 3 {
		assert.True(env.monitor.Check(ctx, false))
	}
	assert.Equal(int32(1), env.engine.calls.Load())

	assert.True(env.monitor.Check(ctx, true))
	assert.Equal(int32(2), env.engine.calls.Load(), "force bypasses the request cache")

	assert.True(env.monitor.Check(WithRequestCache(t.Context()), false))
	assert.Equal(int32(3), env.engine.calls.Load(), "a new request probes again")
}

func TestConcurrentChecksShareOneProbe(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)
	env.engine.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = env.monitor.Check(t.Context(), true)
		}()
	}

	assert.Eventually(func() bool { return env.engine.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(env.engine.block)
	wg.Wait()

	assert.LessOrEqual(env.engine.calls.Load(), int32(2))
	for _, healthy := range results {
		assert.True(healthy)
	}
}

func TestHasPulse(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)
	ctx := t.Context()

	assert.False(env.monitor.HasPulse(ctx, StatusShutdown), "never verified")

	assert.True(env.monitor.Check(ctx, true))
	env.clock.Advance(9 * time.Minute)
	assert.False(env.monitor.HasPulse(ctx, StatusAlert))
	assert.True(env.monitor.HasPulse(ctx, StatusShutdown))

	env.clock.Advance(time.Hour)
	assert.Equal(StatusStale, env.monitor.Status())
	assert.True(env.monitor.HasPulse(ctx, StatusShutdown), "stale data is judged from the last probe")
	assert.Equal(int32(1), env.engine.calls.Load())
}

func TestHasPulseAdminRunsLiveCheck(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)

	ctx := WithAdmin(WithRequestCache(t.Context()))
	assert.True(env.monitor.HasPulse(ctx, StatusAlert), "never verified, so the admin request checks live")
	assert.True(env.monitor.HasPulse(ctx, StatusAlert))
	assert.Equal(int32(1), env.engine.calls.Load(), "the live check runs once per request")

	assert.True(env.monitor.HasPulse(WithRequestCache(t.Context()), StatusAlert))
	assert.Equal(int32(1), env.engine.calls.Load(), "non-admin requests read the heartbeat")
}

func TestHasPulseAdminChecksThresholdFirst(t *testing.T) {
	testCases := []struct {
		name          string
		advance       time.Duration
		preChecked    bool
		engineErr     error
		expectedPulse bool
		expectedCalls int32
	}{
		{name: "FreshHeartbeatSkipsLiveCheck", advance: time.Minute, expectedPulse: true, expectedCalls: 1},
		{name: "OldHeartbeatChecksLive", advance: 9 * time.Minute, expectedPulse: true, expectedCalls: 2},
		{name: "OldHeartbeatFailedLiveCheck", advance: 9 * time.Minute, engineErr: errors.New("connection refused"), expectedPulse: false, expectedCalls: 2},
		{name: "AlreadyCheckedInRequest", advance: 9 * time.Minute, preChecked: true, expectedPulse: false, expectedCalls: 1},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			env := setupTestEnv(t, assert)

			assert.True(env.monitor.Check(t.Context(), true))
			env.clock.Advance(testCase.advance)
			env.engine.err = testCase.engineErr

			ctx := WithAdmin(WithRequestCache(t.Context()))
			if testCase.preChecked {
				cacheFrom(ctx).set(false)
			}
			assert.Equal(testCase.expectedPulse, env.monitor.HasPulse(ctx, StatusAlert))
			assert.Equal(testCase.expectedCalls, env.engine.calls.Load())
		})
	}
}

func TestBeatDeactivatesAndReactivates(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)
	ctx := t.Context()
	assert.NoError(env.settings.SetActive(ctx, true))

	assert.Equal(testOptions.Interval, env.monitor.Beat(ctx))

	env.engine.err = errors.New("connection refused")
	env.clock.Advance(16 * time.Minute)
	assert.Equal(testOptions.IncreaseInterval, env.monitor.Beat(ctx))
	assert.Equal(StatusShutdown, env.monitor.Status())

	active, err := env.settings.IsActive(ctx)
	assert.NoError(err)
	assert.False(active)
	reason, err := env.settings.DeactivatedBy(ctx)
	assert.NoError(err)
	assert.Equal(DeactivatedByHeartbeat, reason)
	assert.Equal(1.0, testutil.ToFloat64(env.metrics.HeartbeatStatus.WithLabelValues(StatusShutdown)))

	env.engine.err = nil
	env.clock.Advance(time.Minute)
	env.monitor.Beat(ctx)

	active, err = env.settings.IsActive(ctx)
	assert.NoError(err)
	assert.True(active)
	assert.Equal(1.0, testutil.ToFloat64(env.metrics.HeartbeatStatus.WithLabelValues(StatusOK)))
}

func TestBeatKeepsOperatorDeactivation(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)
	ctx := t.Context()
	assert.NoError(env.settings.Deactivate(ctx, "operator"))

	env.monitor.Beat(ctx)

	active, err := env.settings.IsActive(ctx)
	assert.NoError(err)
	assert.False(active)
}

func TestReport(t *testing.T) {
	testCases := []struct {
		name         string
		status       string
		advance      time.Duration
		wantDegraded bool
		wantDown     bool
	}{
		{name: "green", status: ClusterGreen},
		{name: "yellow", status: ClusterYellow, wantDegraded: true},
		{name: "red", status: ClusterRed, wantDown: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := require.New(t)
			env := setupTestEnv(t, assert)
			env.engine.status = tc.status
			env.monitor.Check(t.Context(), true)

			report := env.monitor.Report()
			assert.Equal(tc.status, report.ClusterStatus)
			assert.Equal(tc.wantDegraded, report.Degraded)
			assert.Equal(tc.wantDown, report.Down)
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		env.monitor.Run(ctx)
		close(done)
	}()

	assert.Eventually(func() bool { return env.engine.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		assert.FailNow("heartbeat loop did not stop")
	}
}
