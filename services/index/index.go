package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/db/searchdb"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
	"github.com/meghashyamc/presssync/services/document"
)

var (
	ErrNotRunning     = errors.New("no sync is running")
	ErrCancelled      = errors.New("sync was cancelled")
	ErrSyncInProgress = errors.New("a sync is already in progress")
	ErrBatchFailed    = errors.New("sync batch failed")
)

const defaultBatchSize = 500

// Indexer is the subset of the engine client the sync engine writes through.
type Indexer interface {
	BulkIndex(ctx context.Context, documents []searchdb.BulkDocument) (*searchdb.BulkResult, error)
	DeleteDocument(ctx context.Context, id string) error
	IndexExists(ctx context.Context) (bool, error)
	CreateIndex(ctx context.Context, settings any) error
}

// Mapper turns content records into documents and decides which are indexable.
type Mapper interface {
	Map(ctx context.Context, record *content.Record) (*document.Post, error)
	ShouldIndex(post *document.Post) bool
}

// Scheduler arranges for RunBatch to be called again, outside the current call.
type Scheduler interface {
	ScheduleBatch(ctx context.Context) error
}

// ActiveFlag is the switch that routes searches to the engine.
type ActiveFlag interface {
	SetActive(ctx context.Context, active bool) error
}

type Service struct {
	logger    logger.Logger
	store     content.Store
	mapper    Mapper
	indexer   Indexer
	states    StateStore
	active    ActiveFlag
	metrics   *metrics.Metrics
	scheduler Scheduler
	batchSize int
	now       func() time.Time

	// one batch at a time within this process
	batchMu sync.Mutex
}

func New(logger logger.Logger, store content.Store, mapper Mapper, indexer Indexer, states StateStore, active ActiveFlag, m *metrics.Metrics, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		logger:    logger,
		store:     store,
		mapper:    mapper,
		indexer:   indexer,
		states:    states,
		active:    active,
		metrics:   m,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetScheduler wires the batch trigger. Without one, batches only run when
// RunBatch is called directly.
func (s *Service) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// PrepareIndex creates the index with its mapping when it does not exist yet.
func (s *Service) PrepareIndex(ctx context.Context) error {
	exists, err := s.indexer.IndexExists(ctx)
	if err != nil {
		s.logger.Error("could not check whether the index exists", "err", err.Error())
		return fmt.Errorf("failed to check index: %w", err)
	}
	if exists {
		return nil
	}

	s.logger.Info("creating index")
	if err := s.indexer.CreateIndex(ctx, searchdb.IndexMapping()); err != nil {
		s.logger.Error("could not create index", "err", err.Error())
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// StartFullSync resets the sync state and schedules the first batch.
func (s *Service) StartFullSync(ctx context.Context) (*State, error) {
	current, err := s.states.Load(ctx)
	if err != nil {
		s.logger.Error("could not load sync state", "err", err.Error())
		return nil, err
	}
	if current.Running {
		s.logger.Warn("request to sync while a sync is already in progress", "sync_id", current.ID)
		return current, ErrSyncInProgress
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Error("could not count posts", "err", err.Error())
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	state := &State{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		Running:   true,
		Started:   s.now(),
		BatchSize: s.batchSize,
		Total:     total,
		Messages:  map[string][]string{},
	}
	if err := s.states.Save(ctx, state); err != nil {
		s.logger.Error("could not save sync state", "sync_id", state.ID, "err", err.Error())
		return nil, err
	}
	s.logger.Info("full sync started", "sync_id", state.ID, "total", total, "batch_size", s.batchSize)

	if err := s.schedule(ctx); err != nil {
		return state, err
	}
	return state, nil
}

// RunBatch indexes the next page of records. It re-reads the persisted state
// after fetching, before the bulk write and before committing counters, so a
// cancellation that lands in between is honoured without side effects.
func (s *Service) RunBatch(ctx context.Context) (*State, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	state, err := s.states.Load(ctx)
	if err != nil {
		s.logger.Error("could not load sync state", "err", err.Error())
		return nil, err
	}
	if !state.Running {
		return state, ErrNotRunning
	}
	runID := state.ID
	log := logger.With(s.logger, "sync_id", runID, "page", state.Page)

	offset := state.Page * state.BatchSize
	records, err := s.store.GetRecords(ctx, offset, state.BatchSize)
	if err != nil {
		log.Error("could not fetch posts", "offset", offset, "err", err.Error())
		if latest, runErr := s.ensureRunning(ctx, runID); runErr != nil {
			return latest, runErr
		}
		return s.fail(ctx, state, fmt.Sprintf("Could not fetch posts at offset %d: %s", offset, err))
	}

	if state, err = s.ensureRunning(ctx, runID); err != nil {
		return state, err
	}

	documents := make([]searchdb.BulkDocument, 0, len(records))
	var warnings []string
	for _, record := range records {
		post, err := s.mapper.Map(ctx, record)
		if err != nil {
			log.Warn("could not map post", "post_id", record.ID, "err", err.Error())
			warnings = append(warnings, fmt.Sprintf("Post %d could not be mapped: %s", record.ID, err))
			continue
		}
		documents = append(documents, searchdb.BulkDocument{
			ID:     strconv.FormatInt(record.ID, 10),
			Source: post,
			Skip:   !s.mapper.ShouldIndex(post),
		})
	}

	if state, err = s.ensureRunning(ctx, runID); err != nil {
		return state, err
	}

	result, err := s.indexer.BulkIndex(ctx, documents)
	if err != nil {
		log.Error("bulk request failed", "err", err.Error())
		latest, runErr := s.ensureRunning(ctx, runID)
		if runErr != nil {
			return latest, runErr
		}
		return s.fail(ctx, latest, fmt.Sprintf("Bulk request for page %d failed: %s", latest.Page, err))
	}

	success := 0
	for _, item := range result.Items {
		if item.Succeeded() {
			success++
			continue
		}
		warnings = append(warnings, fmt.Sprintf("Post %s could not be indexed (status %d): %s", item.ID, item.Status, string(item.Raw)))
	}

	latest, err := s.ensureRunning(ctx, runID)
	if err != nil {
		return latest, err
	}

	latest.Page++
	latest.Processed = min(latest.Processed+len(records), latest.Total)
	latest.Success += success
	latest.Skipped += len(result.Skipped)
	for _, warning := range warnings {
		latest.addMessage(SeverityWarning, warning)
	}

	s.metrics.AddDocuments("indexed", success)
	s.metrics.AddDocuments("failed", len(result.Items)-success)
	s.metrics.AddDocuments("skipped", len(result.Skipped))

	if latest.isComplete() {
		return s.complete(ctx, latest)
	}

	if err := s.states.Save(ctx, latest); err != nil {
		log.Error("could not save sync state", "err", err.Error())
		return latest, err
	}
	s.metrics.ObserveBatch("ok")
	log.Info("sync batch finished", "summary", latest.Summary())

	if err := s.schedule(ctx); err != nil {
		return latest, err
	}
	return latest, nil
}

// Cancel stops a running sync. A batch in flight notices at its next state check.
func (s *Service) Cancel(ctx context.Context) (*State, error) {
	state, err := s.states.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !state.Running {
		return state, ErrNotRunning
	}

	state.finish(StatusCancelled, s.now())
	state.addMessage(SeverityInfo, "Sync cancelled.")
	if err := s.states.Save(ctx, state); err != nil {
		s.logger.Error("could not save sync state", "sync_id", state.ID, "err", err.Error())
		return nil, err
	}
	s.logger.Info("sync cancelled", "sync_id", state.ID, "summary", state.Summary())
	return state, nil
}

// Status returns the current or last finished sync.
func (s *Service) Status(ctx context.Context) (*State, error) {
	return s.states.Load(ctx)
}

// Reset forgets the persisted state. A running sync stops at its next check.
func (s *Service) Reset(ctx context.Context) error {
	return s.states.Delete(ctx)
}

// RunToCompletion starts a sync and runs every batch in the calling
// goroutine. Cancelling ctx cancels the sync between batches.
func (s *Service) RunToCompletion(ctx context.Context) (*State, error) {
	state, err := s.StartFullSync(ctx)
	if err != nil {
		return state, err
	}

	for state.Running {
		if ctx.Err() != nil {
			cancelled, err := s.Cancel(context.WithoutCancel(ctx))
			if err != nil {
				s.logger.Warn("could not cancel sync after context ended", "sync_id", state.ID, "err", err.Error())
				return state, ctx.Err()
			}
			return cancelled, ctx.Err()
		}
		state, err = s.RunBatch(ctx)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// IndexPost brings one post's document up to date: indexed when indexable,
// removed otherwise.
func (s *Service) IndexPost(ctx context.Context, id int64) error {
	record, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return s.DeletePost(ctx, id)
	}
	if err != nil {
		s.logger.Error("could not get post", "post_id", id, "err", err.Error())
		return err
	}

	post, err := s.mapper.Map(ctx, record)
	if err != nil {
		return err
	}

	result, err := s.indexer.BulkIndex(ctx, []searchdb.BulkDocument{{
		ID:     strconv.FormatInt(id, 10),
		Source: post,
		Skip:   !s.mapper.ShouldIndex(post),
	}})
	if err != nil {
		s.logger.Error("could not index post", "post_id", id, "err", err.Error())
		return err
	}
	for _, item := range result.Items {
		if !item.Succeeded() {
			return fmt.Errorf("post %d could not be indexed (status %d): %s", id, item.Status, string(item.Raw))
		}
	}
	return nil
}

func (s *Service) DeletePost(ctx context.Context, id int64) error {
	if err := s.indexer.DeleteDocument(ctx, strconv.FormatInt(id, 10)); err != nil {
		s.logger.Error("could not delete post from index", "post_id", id, "err", err.Error())
		return err
	}
	return nil
}

// ensureRunning reloads the state and checks it still belongs to the run
// identified by id. A sync cancelled and restarted while a batch was in flight
// carries a new ID, and the stale batch must not touch it.
func (s *Service) ensureRunning(ctx context.Context, id string) (*State, error) {
	state, err := s.states.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !state.Running {
		s.logger.Info("sync no longer running, abandoning batch", "sync_id", id, "status", state.Status)
		s.metrics.ObserveBatch("cancelled")
		return state, ErrCancelled
	}
	if state.ID != id {
		s.logger.Info("sync was restarted, abandoning batch", "sync_id", id, "current_sync_id", state.ID)
		s.metrics.ObserveBatch("cancelled")
		return state, ErrCancelled
	}
	return state, nil
}

func (s *Service) complete(ctx context.Context, state *State) (*State, error) {
	if s.active != nil {
		if err := s.active.SetActive(ctx, true); err != nil {
			s.logger.Error("could not activate engine", "sync_id", state.ID, "err", err.Error())
			state.addMessage(SeverityError, fmt.Sprintf("Could not activate the engine: %s", err))
		}
	}

	state.finish(StatusCompleted, s.now())
	state.addMessage(SeverityInfo, "Sync complete: "+state.Summary())
	if err := s.states.Save(ctx, state); err != nil {
		s.logger.Error("could not save sync state", "sync_id", state.ID, "err", err.Error())
		return state, err
	}
	s.metrics.ObserveBatch("completed")
	s.logger.Info("full sync completed", "sync_id", state.ID, "summary", state.Summary())
	return state, nil
}

func (s *Service) fail(ctx context.Context, state *State, message string) (*State, error) {
	state.finish(StatusErrored, s.now())
	state.addMessage(SeverityError, message)
	if err := s.states.Save(ctx, state); err != nil {
		s.logger.Error("could not save sync state", "sync_id", state.ID, "err", err.Error())
	}
	s.metrics.ObserveBatch("errored")
	return state, fmt.Errorf("%w: %s", ErrBatchFailed, message)
}

func (s *Service) schedule(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.ScheduleBatch(ctx); err != nil {
		s.logger.Error("could not schedule next batch", "err", err.Error())
		return fmt.Errorf("failed to schedule batch: %w", err)
	}
	return nil
}
