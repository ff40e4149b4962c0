package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/db/contentdb"
	"github.com/meghashyamc/presssync/db/kvdb"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/document"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logger.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeIndexer struct {
	mu          sync.Mutex
	bulkCalls   int
	indexed     []string
	deleted     []string
	itemStatus  map[string]int
	failBulk    error
	beforeBulk  func()
	indexExists bool
	created     any
}

func (f *fakeIndexer) BulkIndex(ctx context.Context, documents []searchdb.BulkDocument) (*searchdb.BulkResult, error) {
	if f.beforeBulk != nil {
		f.beforeBulk()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	if f.failBulk != nil {
		return nil, f.failBulk
	}

	result := &searchdb.BulkResult{StatusCode: 200}
	for _, doc := range documents {
		if doc.Skip {
			f.deleted = append(f.deleted, doc.ID)
			result.Skipped = append(result.Skipped, doc.ID)
			continue
		}
		status, ok := f.itemStatus[doc.ID]
		if !ok {
			status = 201
		}
		if status < 300 {
			f.indexed = append(f.indexed, doc.ID)
		}
		result.Items = append(result.Items, searchdb.BulkItem{ID: doc.ID, Status: status, Raw: []byte(fmt.Sprintf(`{"_id":"%s","status":%d}`, doc.ID, status))})
	}
	return result, nil
}

func (f *fakeIndexer) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndexer) IndexExists(ctx context.Context) (bool, error) {
	return f.indexExists, nil
}

func (f *fakeIndexer) CreateIndex(ctx context.Context, settings any) error {
	f.created = settings
	f.indexExists = true
	return nil
}

type countingScheduler struct {
	calls int
}

func (s *countingScheduler) ScheduleBatch(ctx context.Context) error {
	s.calls++
	return nil
}

// hookedStore runs afterFetch once records have been read.
type hookedStore struct {
	content.Store
	afterFetch func()
}

func (s *hookedStore) GetRecords(ctx context.Context, offset int, limit int) ([]*content.Record, error) {
	records, err := s.Store.GetRecords(ctx, offset, limit)
	if s.afterFetch != nil {
		s.afterFetch()
	}
	return records, err
}

type testEnv struct {
	store     *contentdb.SQLite
	hooked    *hookedStore
	mapper    *document.Mapper
	indexer   *fakeIndexer
	kv        *kvdb.BoltDB
	settings  *kvdb.Settings
	scheduler *countingScheduler
	service   *Service
}

func setupTestEnv(t *testing.T, assert *require.Assertions, posts int) *testEnv {
	ctx := t.Context()
	testLogger := newTestLogger()

	store, err := contentdb.OpenSQLite(ctx, testLogger, "file::memory:", []string{"post"})
	assert.NoError(err, "could not open content store")
	t.Cleanup(func() { store.Close() })

	date := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= posts; i++ {
		assert.NoError(store.SavePost(ctx, &content.Record{
			ID:     int64(i),
			Date:   date.Add(time.Duration(i) * time.Hour),
			Title:  fmt.Sprintf("Post %d", i),
			Status: content.StatusPublish,
			Type:   "post",
			Name:   fmt.Sprintf("post-%d", i),
		}))
	}

	kv, err := kvdb.Open(testLogger, filepath.Join(t.TempDir(), "state.db"))
	assert.NoError(err, "could not open kv database")
	t.Cleanup(func() { kv.Close() })

	env := &testEnv{
		store:     store,
		hooked:    &hookedStore{Store: store},
		indexer:   &fakeIndexer{},
		kv:        kv,
		settings:  kvdb.NewSettings(kv),
		scheduler: &countingScheduler{},
	}
	env.mapper = document.New(testLogger, env.hooked, content.DefaultRegistry(), nil, nil, document.Options{
		TokenLimit:   1024,
		StringLimit:  10000,
		PostTypes:    []string{"post"},
		PostStatuses: []string{content.StatusPublish},
	})
	env.service = env.newService()
	return env
}

func (e *testEnv) newService() *Service {
	service := New(newTestLogger(), e.hooked, e.mapper, e.indexer, NewKVStateStore(e.kv), e.settings, metrics.New(), 10)
	service.SetScheduler(e.scheduler)
	return service
}

func TestFullSyncCompletesInBatches(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	state, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	assert.Equal(StatusRunning, state.Status)
	assert.True(state.Running)
	assert.Equal(25, state.Total)
	assert.NotEmpty(state.ID)
	assert.Equal(1, env.scheduler.calls)

	expected := []struct {
		page      int
		processed int
		running   bool
	}{
		{page: 1, processed: 10, running: true},
		{page: 2, processed: 20, running: true},
		{page: 3, processed: 25, running: false},
	}
	for _, step := range expected {
		state, err = env.service.RunBatch(ctx)
		assert.NoError(err)
		assert.Equal(step.page, state.Page)
		assert.Equal(step.processed, state.Processed)
		assert.Equal(step.running, state.Running)
		assert.LessOrEqual(state.Processed, state.Total)
	}

	assert.Equal(StatusCompleted, state.Status)
	assert.Equal(25, state.Success)
	assert.NotNil(state.Finished)
	assert.Len(env.indexer.indexed, 25)
	assert.Equal(3, env.scheduler.calls, "batches 1 and 2 each schedule a follow-up")

	active, err := env.settings.IsActive(ctx)
	assert.NoError(err)
	assert.True(active, "a completed sync activates the engine")

	_, err = env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrNotRunning))

	final, err := env.service.Status(ctx)
	assert.NoError(err)
	assert.Equal(StatusCompleted, final.Status, "the final snapshot is kept")
}

func TestStartRefusesWhileRunning(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 5)
	ctx := t.Context()

	first, err := env.service.StartFullSync(ctx)
	assert.NoError(err)

	second, err := env.service.StartFullSync(ctx)
	assert.True(errors.Is(err, ErrSyncInProgress))
	assert.Equal(first.ID, second.ID)
}

func TestSyncResumesAfterRestart(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	_, err = env.service.RunBatch(ctx)
	assert.NoError(err)

	restarted := env.newService()
	state, err := restarted.RunBatch(ctx)
	assert.NoError(err)
	assert.Equal(2, state.Page)
	assert.Equal(20, state.Processed)

	expectedIDs := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		expectedIDs = append(expectedIDs, fmt.Sprint(i))
	}
	assert.Equal(expectedIDs, env.indexer.indexed, "the second batch continues at offset 10")
}

func TestCancelAfterFetchHasNoSideEffects(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)

	env.hooked.afterFetch = func() {
		_, err := env.service.Cancel(ctx)
		assert.NoError(err)
	}

	state, err := env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrCancelled))
	assert.Equal(StatusCancelled, state.Status)
	assert.Equal(0, env.indexer.bulkCalls, "no bulk request after cancellation")
	assert.Equal(0, state.Page)
	assert.Equal(0, state.Processed)
}

func TestCancelDuringBulkDiscardsCounters(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)

	env.indexer.beforeBulk = func() {
		_, err := env.service.Cancel(ctx)
		assert.NoError(err)
	}

	_, err = env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrCancelled))

	state, err := env.service.Status(ctx)
	assert.NoError(err)
	assert.Equal(StatusCancelled, state.Status)
	assert.False(state.Running)
	assert.Equal(0, state.Processed)
	assert.Equal(0, state.Success)
	assert.Equal(1, env.scheduler.calls, "no follow-up batch is scheduled")
}

func TestRestartDuringBulkLeavesNewRunUntouched(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	first, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	_, err = env.service.RunBatch(ctx)
	assert.NoError(err)

	var restarted *State
	env.indexer.beforeBulk = func() {
		env.indexer.beforeBulk = nil
		_, err := env.service.Cancel(ctx)
		assert.NoError(err)
		restarted, err = env.service.StartFullSync(ctx)
		assert.NoError(err)
	}

	_, err = env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrCancelled))
	assert.NotNil(restarted)
	assert.NotEqual(first.ID, restarted.ID)

	state, err := env.service.Status(ctx)
	assert.NoError(err)
	assert.Equal(restarted.ID, state.ID)
	assert.Equal(StatusRunning, state.Status)
	assert.True(state.Running)
	assert.Equal(0, state.Page)
	assert.Equal(0, state.Processed)
	assert.Equal(0, state.Success)
	assert.Empty(state.Messages[SeverityWarning])

	state, err = env.service.RunBatch(ctx)
	assert.NoError(err)
	assert.Equal(restarted.ID, state.ID)
	assert.Equal(1, state.Page, "the new run starts from the first page")
	assert.Equal(10, state.Processed)
}

func TestBulkFailureAfterRestartDoesNotFailNewRun(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)

	var restarted *State
	env.indexer.failBulk = errors.New("connection reset")
	env.indexer.beforeBulk = func() {
		env.indexer.beforeBulk = nil
		_, err := env.service.Cancel(ctx)
		assert.NoError(err)
		restarted, err = env.service.StartFullSync(ctx)
		assert.NoError(err)
	}

	_, err = env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrCancelled))
	assert.False(errors.Is(err, ErrBatchFailed))

	state, err := env.service.Status(ctx)
	assert.NoError(err)
	assert.Equal(restarted.ID, state.ID)
	assert.Equal(StatusRunning, state.Status)
	assert.Empty(state.Messages[SeverityError])
}

func TestBulkFailureStopsSync(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 25)
	ctx := t.Context()

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)

	env.indexer.failBulk = &searchdb.TransportError{Method: "POST", URL: "/presssync/_bulk", Err: errors.New("connection refused")}
	state, err := env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrBatchFailed))
	assert.Equal(StatusErrored, state.Status)
	assert.False(state.Running)
	assert.Len(state.Messages[SeverityError], 1)
	assert.Contains(state.Messages[SeverityError][0], "connection refused")

	env.indexer.failBulk = nil
	_, err = env.service.RunBatch(ctx)
	assert.True(errors.Is(err, ErrNotRunning), "a failed sync is not retried automatically")

	active, err := env.settings.IsActive(ctx)
	assert.NoError(err)
	assert.False(active)
}

func TestItemFailuresBecomeWarnings(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 10)
	ctx := t.Context()
	env.indexer.itemStatus = map[string]int{"3": 400, "7": 200}

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	state, err := env.service.RunBatch(ctx)
	assert.NoError(err)

	assert.Equal(StatusCompleted, state.Status)
	assert.Equal(10, state.Processed)
	assert.Equal(9, state.Success)
	assert.Len(state.Messages[SeverityWarning], 1)
	assert.Contains(state.Messages[SeverityWarning][0], "Post 3")
	assert.Contains(state.Messages[SeverityWarning][0], `"status":400`)
}

func TestNonIndexablePostsAreDeleted(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 4)
	ctx := t.Context()

	assert.NoError(env.store.SavePost(ctx, &content.Record{ID: 2, Status: "draft", Type: "post"}))
	assert.NoError(env.store.SavePost(ctx, &content.Record{ID: 4, Status: "trash", Type: "post"}))

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	state, err := env.service.RunBatch(ctx)
	assert.NoError(err)

	assert.Equal(StatusCompleted, state.Status)
	assert.Equal(2, state.Success)
	assert.Equal(2, state.Skipped)
	assert.Equal([]string{"2", "4"}, env.indexer.deleted)
}

func TestEmptyContentCompletesImmediately(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 0)
	ctx := t.Context()

	state, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	assert.Equal(0, state.Total)

	state, err = env.service.RunBatch(ctx)
	assert.NoError(err)
	assert.Equal(StatusCompleted, state.Status)
}

func TestRunToCompletionWithMemoryState(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 23)

	service := New(newTestLogger(), env.store, env.mapper, env.indexer, NewMemoryStateStore(), nil, nil, 10)
	state, err := service.RunToCompletion(t.Context())
	assert.NoError(err)
	assert.Equal(StatusCompleted, state.Status)
	assert.Equal(3, state.Page)
	assert.Equal(23, state.Success)
	assert.True(strings.HasPrefix(state.Summary(), "23 processed of 23"))
}

func TestRunToCompletionStopsOnContextCancel(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 30)

	ctx, cancel := context.WithCancel(t.Context())
	env.indexer.beforeBulk = cancel

	states := NewMemoryStateStore()
	service := New(newTestLogger(), env.store, env.mapper, env.indexer, states, nil, nil, 10)
	returned, err := service.RunToCompletion(ctx)
	assert.True(errors.Is(err, context.Canceled))
	assert.Equal(StatusCancelled, returned.Status, "the cancelled state is returned")
	assert.False(returned.Running)

	state, err := states.Load(t.Context())
	assert.NoError(err)
	assert.Equal(StatusCancelled, state.Status)
	assert.Equal(1, env.indexer.bulkCalls)
}

func TestResetDeletesState(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 3)
	ctx := t.Context()

	_, err := env.service.StartFullSync(ctx)
	assert.NoError(err)
	assert.NoError(env.service.Reset(ctx))

	state, err := env.service.Status(ctx)
	assert.NoError(err)
	assert.Equal(StatusIdle, state.Status)
	assert.False(state.Running)
}

func TestIndexAndDeleteSinglePost(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 2)
	ctx := t.Context()

	assert.NoError(env.service.IndexPost(ctx, 1))
	assert.Equal([]string{"1"}, env.indexer.indexed)

	assert.NoError(env.store.SavePost(ctx, &content.Record{ID: 2, Status: "private", Type: "post"}))
	assert.NoError(env.service.IndexPost(ctx, 2))
	assert.True(slices.Contains(env.indexer.deleted, "2"), "a post that stopped being indexable is removed")

	assert.NoError(env.service.IndexPost(ctx, 404))
	assert.True(slices.Contains(env.indexer.deleted, "404"), "a missing post is removed")

	env.indexer.itemStatus = map[string]int{"1": 409}
	assert.Error(env.service.IndexPost(ctx, 1))
}

func TestPrepareIndexCreatesMissingIndex(t *testing.T) {
	assert := require.New(t)
	env := setupTestEnv(t, assert, 0)
	ctx := t.Context()

	assert.NoError(env.service.PrepareIndex(ctx))
	assert.NotNil(env.indexer.created)

	env.indexer.created = nil
	assert.NoError(env.service.PrepareIndex(ctx))
	assert.Nil(env.indexer.created, "an existing index is left alone")
}
