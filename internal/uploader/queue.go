package uploader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/metrics"
)

// UploadFunc runs one upload; the queue's worker contract.
type UploadFunc func(ctx context.Context, file *domain.File, collectionID int64, forced bool) (*domain.File, error)

// item is one queue entry, keyed by the file's localID.
type item struct {
	localID      string
	file         *domain.File
	collectionID int64
	status       domain.UploadStatus
	future       *Future
}

// Queue is the bounded concurrent upload scheduler. It admits work in
// insertion order, enforces the global and video concurrency limits, and
// routes worker completions: success fulfills, a lock conflict parks the
// item for the background liaison, session-terminal failures clear the
// remaining queue.
type Queue struct {
	upload  UploadFunc
	linker  *Linker
	metrics *metrics.Metrics
	logger  zerolog.Logger

	globalLimit int
	videoLimit  int

	baseCtx context.Context
	stop    atomic.Bool

	mu              sync.Mutex
	items           []*item
	byLocalID       map[string]*item
	inProgress      int
	videoInProgress int
	totalInSession  int
}

// QueueConfig holds scheduler limits.
type QueueConfig struct {
	GlobalLimit int
	VideoLimit  int
}

// NewQueue creates a scheduler. Workers inherit baseCtx, so cancelling it
// aborts in-flight uploads.
func NewQueue(baseCtx context.Context, upload UploadFunc, linker *Linker, cfg QueueConfig, m *metrics.Metrics, logger zerolog.Logger) *Queue {
	if cfg.GlobalLimit < 1 {
		cfg.GlobalLimit = 4
	}
	if cfg.VideoLimit < 1 {
		cfg.VideoLimit = 2
	}
	return &Queue{
		upload:      upload,
		linker:      linker,
		metrics:     m,
		logger:      logger.With().Str("service", "upload_queue").Logger(),
		globalLimit: cfg.GlobalLimit,
		videoLimit:  cfg.VideoLimit,
		baseCtx:     baseCtx,
		byLocalID:   make(map[string]*item),
	}
}

// Enqueue submits a file for upload into collectionID and returns its result
// handle. Duplicate submissions of the same localID coalesce: the same
// collection returns the existing handle, a different collection returns a
// handle that chains an add-to-collection onto the existing upload.
func (q *Queue) Enqueue(file *domain.File, collectionID int64) *Future {
	q.mu.Lock()

	existing, ok := q.byLocalID[file.LocalID]
	if !ok {
		it := &item{
			localID:      file.LocalID,
			file:         file,
			collectionID: collectionID,
			status:       domain.UploadStatusNotStarted,
			future:       NewFuture(),
		}
		q.items = append(q.items, it)
		q.byLocalID[file.LocalID] = it
		q.totalInSession++
		q.publishGauges()
		q.mu.Unlock()

		q.Poll()
		return it.future
	}

	if existing.collectionID == collectionID {
		// Same destination: the session counter must not grow for a
		// duplicate submission.
		q.mu.Unlock()
		return existing.future
	}

	// Same file headed elsewhere: piggyback on the in-queue upload, then map
	// the uploaded record into the requested collection.
	chained := NewFuture()
	base := existing.future
	q.mu.Unlock()

	go func() {
		uploaded, err := base.Wait(q.baseCtx)
		if err != nil {
			chained.fulfill(nil, err)
			return
		}
		linked, err := q.linker.Link(q.baseCtx, uploaded.Clone(), uploaded, collectionID)
		chained.fulfill(linked, err)
	}()
	return chained
}

// RequestStop asserts the cooperative stop signal. The next poll clears all
// notStarted items with ErrSyncStopRequested; in-flight workers past their
// commit check finish normally.
func (q *Queue) RequestStop() {
	q.stop.Store(true)
}

// ResumeAfterStop clears the stop signal for a new session.
func (q *Queue) ResumeAfterStop() {
	q.stop.Store(false)
}

// StopRequested reports the cooperative stop signal. Workers poll this
// before their catalog commit.
func (q *Queue) StopRequested() bool {
	return q.stop.Load()
}

// ClearQueue fulfills every notStarted item with reason, removes them, and
// zeroes the session counter. inProgress and inBackground items are left
// untouched.
func (q *Queue) ClearQueue(reason error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearQueueLocked(reason)
}

func (q *Queue) clearQueueLocked(reason error) {
	kept := q.items[:0]
	for _, it := range q.items {
		if it.status != domain.UploadStatusNotStarted {
			kept = append(kept, it)
			continue
		}
		delete(q.byLocalID, it.localID)
		it.future.fulfill(nil, domain.NewUploadError(reason, it.localID, it.file.Title))
		if q.metrics != nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		}
	}
	q.items = kept
	q.totalInSession = 0
	q.publishGauges()

	q.logger.Info().Err(reason).Int("remaining", len(q.items)).Msg("cleared pending uploads")
}

// RemoveWhere fulfills matching notStarted items with reason and removes
// them, decrementing the session counter per removal.
func (q *Queue) RemoveWhere(pred func(localID string, file *domain.File) bool, reason error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, it := range q.items {
		if it.status != domain.UploadStatusNotStarted || !pred(it.localID, it.file) {
			kept = append(kept, it)
			continue
		}
		delete(q.byLocalID, it.localID)
		it.future.fulfill(nil, domain.NewUploadError(reason, it.localID, it.file.Title))
		if q.totalInSession > 0 {
			q.totalInSession--
		}
		if q.metrics != nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		}
	}
	q.items = kept
	q.publishGauges()
}

// Poll drives admission. Called after every enqueue and every completion;
// admits items until the concurrency budget is saturated.
func (q *Queue) Poll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stop.Load() {
		q.clearQueueLocked(domain.ErrSyncStopRequested)
		return
	}

	if len(q.items) == 0 {
		q.totalInSession = 0
		q.publishGauges()
		return
	}

	for q.inProgress < q.globalLimit {
		next := q.pickNextLocked()
		if next == nil {
			return
		}

		next.status = domain.UploadStatusInProgress
		q.inProgress++
		if next.file.Type == domain.FileTypeVideo {
			q.videoInProgress++
		}
		q.publishGauges()

		go q.run(next)
	}
}

// pickNextLocked returns the first admissible notStarted item in insertion
// order. When the video budget is exhausted, videos are skipped so images
// keep flowing.
func (q *Queue) pickNextLocked() *item {
	videoSaturated := q.videoInProgress >= q.videoLimit
	for _, it := range q.items {
		if it.status != domain.UploadStatusNotStarted {
			continue
		}
		if it.file.Type == domain.FileTypeVideo && videoSaturated {
			continue
		}
		return it
	}
	return nil
}

// run executes one worker and routes its completion.
func (q *Queue) run(it *item) {
	result, err := q.upload(q.baseCtx, it.file, it.collectionID, false)
	q.onComplete(it, result, err)
}

// onComplete applies the completion rules, then re-polls.
func (q *Queue) onComplete(it *item, result *domain.File, err error) {
	q.mu.Lock()

	q.inProgress--
	if it.file.Type == domain.FileTypeVideo {
		q.videoInProgress--
	}

	switch {
	case err == nil:
		q.removeLocked(it)
		it.future.fulfill(result, nil)
		if q.metrics != nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeUploaded).Inc()
		}

	case errors.Is(err, domain.ErrLockAlreadyAcquired):
		// The other process owns this file; the liaison reports for it.
		it.status = domain.UploadStatusInBackground
		q.logger.Info().Str("local_id", it.localID).Msg("file locked by other process, parked in background")

	case domain.SessionTerminal(err):
		q.removeLocked(it)
		it.future.fulfill(nil, err)
		if q.metrics != nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
		q.clearQueueLocked(unwrapKind(err))

	default:
		q.removeLocked(it)
		it.future.fulfill(nil, err)
		if q.metrics != nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
		q.logUploadFailure(it, err)
	}

	q.publishGauges()
	q.mu.Unlock()

	q.Poll()
}

// logUploadFailure logs expected outcomes quietly and real failures loudly.
func (q *Queue) logUploadFailure(it *item, err error) {
	if domain.ExpectedUploadError(err) {
		q.logger.Info().Err(err).Str("local_id", it.localID).Msg("upload not performed")
		return
	}
	q.logger.Error().Err(err).Str("local_id", it.localID).Str("title", it.file.Title).Msg("upload failed")
}

// unwrapKind strips file context off a session-terminal error so the items
// cleared by it all reject with the bare kind.
func unwrapKind(err error) error {
	var ue *domain.UploadError
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// removeLocked drops an item from the queue.
func (q *Queue) removeLocked(it *item) {
	delete(q.byLocalID, it.localID)
	for i, cur := range q.items {
		if cur == it {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
}

// BackgroundItems returns the localIDs currently parked in background.
func (q *Queue) BackgroundItems() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, it := range q.items {
		if it.status == domain.UploadStatusInBackground {
			ids = append(ids, it.localID)
		}
	}
	return ids
}

// FulfillBackground resolves a parked item on the background process's
// behalf, removes it, and re-polls.
func (q *Queue) FulfillBackground(localID string, file *domain.File, err error) {
	q.mu.Lock()
	it, ok := q.byLocalID[localID]
	if !ok || it.status != domain.UploadStatusInBackground {
		q.mu.Unlock()
		return
	}
	q.removeLocked(it)
	it.future.fulfill(file, err)
	if q.metrics != nil {
		if err == nil {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeUploaded).Inc()
		} else {
			q.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
		}
	}
	q.publishGauges()
	q.mu.Unlock()

	q.Poll()
}

// Len returns how many items the queue currently tracks, in any state.
// The URL pool sizes its refills from this.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetCurrentSessionUploadCount returns the session counter shown to the UI.
func (q *Queue) GetCurrentSessionUploadCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalInSession
}

// Snapshot describes the queue for the status endpoint.
type Snapshot struct {
	Items          []SnapshotItem `json:"items"`
	InProgress     int            `json:"inProgress"`
	TotalInSession int            `json:"totalInSession"`
}

// SnapshotItem is one queue entry in a status snapshot.
type SnapshotItem struct {
	LocalID      string `json:"localID"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	CollectionID int64  `json:"collectionID"`
	Status       string `json:"status"`
}

// Snapshot returns a point-in-time view of the queue.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		InProgress:     q.inProgress,
		TotalInSession: q.totalInSession,
		Items:          make([]SnapshotItem, 0, len(q.items)),
	}
	for _, it := range q.items {
		snap.Items = append(snap.Items, SnapshotItem{
			LocalID:      it.localID,
			Title:        it.file.Title,
			Type:         it.file.Type.String(),
			CollectionID: it.collectionID,
			Status:       it.status.String(),
		})
	}
	return snap
}

// publishGauges pushes queue state to the metrics gauges.
func (q *Queue) publishGauges() {
	if q.metrics == nil {
		return
	}
	q.metrics.QueueDepth.Set(float64(len(q.items)))
	q.metrics.InProgress.Set(float64(q.inProgress))
	q.metrics.SessionTotal.Set(float64(q.totalInSession))
}
