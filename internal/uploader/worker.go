package uploader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/connectivity"
	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/events"
	"github.com/prn-tf/lumen-sync/internal/lock"
	"github.com/prn-tf/lumen-sync/internal/media"
	"github.com/prn-tf/lumen-sync/internal/metrics"
	"github.com/prn-tf/lumen-sync/internal/pkg/crypto"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// CatalogService is what the worker needs from the catalog client.
type CatalogService interface {
	CreateFile(ctx context.Context, req *domain.CreateFileRequest) (*domain.RemoteFile, error)
	UpdateFile(ctx context.Context, req *domain.UpdateFileRequest) (*domain.RemoteFile, error)
}

// BlobTransport is what the worker needs from the blob putter.
type BlobTransport interface {
	PutFile(ctx context.Context, path string) (objectKey string, size int64, err error)
}

// WorkerConfig holds the worker's policy knobs.
type WorkerConfig struct {
	// TempDir is where encrypted artifacts are staged before upload.
	TempDir string

	// AllowMobileUploads permits uploads off Wi-Fi.
	AllowMobileUploads bool

	// Deadline bounds one whole upload attempt.
	Deadline time.Duration

	// Process tags lock records and temp file names.
	Process domain.ProcessType
}

// Worker performs one upload end to end: gate, lock, extract, resolve,
// encrypt, put, commit, clean up.
type Worker struct {
	files     repository.FileRepository
	locks     *lock.Store
	resolver  *Resolver
	linker    *Linker
	extractor media.Extractor
	putter    BlobTransport
	catalog   CatalogService
	prober    connectivity.Prober
	bus       *events.Bus
	metrics   *metrics.Metrics

	// stopRequested is polled immediately before the catalog commit.
	stopRequested func() bool

	cfg    WorkerConfig
	logger zerolog.Logger
}

// WorkerDeps bundles the worker's collaborators.
type WorkerDeps struct {
	Files         repository.FileRepository
	Locks         *lock.Store
	Resolver      *Resolver
	Linker        *Linker
	Extractor     media.Extractor
	Putter        BlobTransport
	Catalog       CatalogService
	Prober        connectivity.Prober
	Bus           *events.Bus
	Metrics       *metrics.Metrics
	StopRequested func() bool
}

// NewWorker creates an upload worker.
func NewWorker(deps WorkerDeps, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 50 * time.Minute
	}
	stop := deps.StopRequested
	if stop == nil {
		stop = func() bool { return false }
	}
	return &Worker{
		files:         deps.Files,
		locks:         deps.Locks,
		resolver:      deps.Resolver,
		linker:        deps.Linker,
		extractor:     deps.Extractor,
		putter:        deps.Putter,
		catalog:       deps.Catalog,
		prober:        deps.Prober,
		bus:           deps.Bus,
		metrics:       deps.Metrics,
		stopRequested: stop,
		cfg:           cfg,
		logger:        logger.With().Str("service", "upload_worker").Str("process", string(cfg.Process)).Logger(),
	}
}

// Upload runs one upload under the hard per-upload deadline.
func (w *Worker) Upload(ctx context.Context, file *domain.File, collectionID int64, forced bool) (*domain.File, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Deadline)
	defer cancel()

	result, err := w.tryToUpload(ctx, file, collectionID, forced)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, domain.NewUploadError(domain.ErrUploadTimedOut, file.LocalID, file.Title)
	}
	return result, err
}

// tryToUpload is the linear upload pipeline. Its cleanup stage runs on every
// exit path: temp artifacts are removed and the lock is released.
func (w *Worker) tryToUpload(ctx context.Context, file *domain.File, collectionID int64, forced bool) (*domain.File, error) {
	// Connectivity gate, checked before any lock is taken.
	if !forced && !w.cfg.AllowMobileUploads && w.prober.Current() != connectivity.KindWiFi {
		return nil, domain.NewUploadError(domain.ErrWiFiUnavailable, file.LocalID, file.Title)
	}

	// The row may have been uploaded by the other process since enqueue.
	fresh, err := w.files.GetByGeneratedID(ctx, file.GeneratedID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewUploadError(domain.ErrFileNotFound, file.LocalID, file.Title)
		}
		return nil, err
	}
	if fresh.HasUploadedFile() && fresh.UpdationTime != domain.ReuploadSentinel && fresh.CollectionID == collectionID {
		return fresh, nil
	}

	if err := w.locks.Acquire(ctx, fresh.LocalID); err != nil {
		if errors.Is(err, domain.ErrLockAlreadyAcquired) {
			return nil, domain.NewUploadError(domain.ErrLockAlreadyAcquired, fresh.LocalID, fresh.Title)
		}
		return nil, err
	}

	// The commit may clear the row's localID; the lock must still be
	// released under the key it was acquired with.
	lockedID := fresh.LocalID

	encryptedPath := w.artifactPath(fresh.GeneratedID, "")
	thumbPath := w.artifactPath(fresh.GeneratedID, "_thumbnail")
	var data *media.UploadData
	defer func() {
		w.cleanup(lockedID, data, encryptedPath, thumbPath)
	}()

	data, err = w.extractor.Extract(ctx, fresh)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFile) {
			w.handleInvalidFile(ctx, fresh)
		}
		return nil, err
	}

	isUpdate := fresh.IsUpdate()

	var fileKey []byte
	if isUpdate {
		fileKey, err = w.linker.recoverFileKey(ctx, fresh)
		if err != nil {
			return nil, err
		}
	} else {
		mapped, err := w.resolver.Resolve(ctx, fresh, data, collectionID)
		if err != nil {
			return nil, err
		}
		if mapped {
			if w.metrics != nil {
				w.metrics.UploadsTotal.WithLabelValues(metrics.OutcomeMapped).Inc()
			}
			return fresh, nil
		}
	}

	// Stage the encrypted artifacts. Stale artifacts from a crashed attempt
	// are overwritten.
	os.Remove(encryptedPath)
	fileKey, fileHeader, err := crypto.EncryptFile(data.SourcePath, encryptedPath, fileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt file: %w", err)
	}

	thumbCipher, thumbHeader, err := crypto.EncryptChunk(data.Thumbnail, fileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt thumbnail: %w", err)
	}
	os.Remove(thumbPath)
	if err := os.WriteFile(thumbPath, thumbCipher, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write encrypted thumbnail: %w", err)
	}

	// Thumbnail first, then the file.
	thumbObjectKey, thumbSize, err := w.putter.PutFile(ctx, thumbPath)
	if err != nil {
		return nil, err
	}
	putStart := time.Now()
	fileObjectKey, fileSize, err := w.putter.PutFile(ctx, encryptedPath)
	if err != nil {
		return nil, err
	}
	if w.metrics != nil {
		w.metrics.UploadedBytes.Add(float64(thumbSize + fileSize))
		if elapsed := time.Since(putStart).Seconds(); elapsed > 0 {
			w.metrics.PutThroughput.Observe(float64(fileSize) / (1024 * 1024) / elapsed)
		}
	}

	metadataCipher, metadataHeader, err := w.encryptMetadata(fresh, data, fileKey)
	if err != nil {
		return nil, err
	}

	if w.stopRequested() {
		return nil, domain.NewUploadError(domain.ErrSyncStopRequested, fresh.LocalID, fresh.Title)
	}

	fileObject := domain.UploadedObject{
		ObjectKey:        fileObjectKey,
		DecryptionHeader: base64.StdEncoding.EncodeToString(fileHeader),
		Size:             fileSize,
	}
	thumbObject := domain.UploadedObject{
		ObjectKey:        thumbObjectKey,
		DecryptionHeader: base64.StdEncoding.EncodeToString(thumbHeader),
		Size:             thumbSize,
	}
	metadataBlob := domain.MetadataBlob{
		EncryptedData:    base64.StdEncoding.EncodeToString(metadataCipher),
		DecryptionHeader: base64.StdEncoding.EncodeToString(metadataHeader),
	}

	if isUpdate {
		fresh, err = w.commitUpdate(ctx, fresh, data, fileObject, thumbObject, metadataBlob)
	} else {
		fresh, err = w.commitCreate(ctx, fresh, data, collectionID, fileKey, fileObject, thumbObject, metadataBlob)
	}
	if err != nil {
		return nil, err
	}

	if w.cfg.Process == domain.ProcessForeground && w.bus != nil {
		w.bus.Publish(events.Event{Topic: events.TopicLocalPhotosUpdated, Payload: fresh})
	}

	w.logger.Info().
		Str("local_id", fresh.LocalID).
		Int64("uploaded_file_id", fresh.UploadedFileID).
		Bool("update", isUpdate).
		Int64("bytes", fileSize+thumbSize).
		Msg("upload committed")
	return fresh, nil
}

// commitUpdate re-points the existing remote record at the new content and
// propagates the change to every local row sharing the remote id.
func (w *Worker) commitUpdate(ctx context.Context, fresh *domain.File, data *media.UploadData, fileObject, thumbObject domain.UploadedObject, metadataBlob domain.MetadataBlob) (*domain.File, error) {
	remote, err := w.catalog.UpdateFile(ctx, &domain.UpdateFileRequest{
		ID:        fresh.UploadedFileID,
		File:      fileObject,
		Thumbnail: thumbObject,
		Metadata:  metadataBlob,
	})
	if err != nil {
		return nil, err
	}

	fresh.UpdationTime = remote.UpdationTime
	fresh.FileDecryptionHeader = fileObject.DecryptionHeader
	fresh.ThumbnailDecryptionHeader = thumbObject.DecryptionHeader
	fresh.MetadataDecryptionHeader = metadataBlob.DecryptionHeader
	fresh.Hash = data.FileHash

	if err := w.files.UpdateAcrossCollections(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// commitCreate registers a new remote record and persists the mapping.
func (w *Worker) commitCreate(ctx context.Context, fresh *domain.File, data *media.UploadData, collectionID int64, fileKey []byte, fileObject, thumbObject domain.UploadedObject, metadataBlob domain.MetadataBlob) (*domain.File, error) {
	collectionKey, err := w.linker.collections.GetCollectionKey(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	sealed, nonce, err := crypto.WrapKey(fileKey, collectionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap file key: %w", err)
	}

	remote, err := w.catalog.CreateFile(ctx, &domain.CreateFileRequest{
		CollectionID:       collectionID,
		EncryptedKey:       base64.StdEncoding.EncodeToString(sealed),
		KeyDecryptionNonce: base64.StdEncoding.EncodeToString(nonce),
		File:               fileObject,
		Thumbnail:          thumbObject,
		Metadata:           metadataBlob,
	})
	if err != nil {
		return nil, err
	}

	fresh.UploadedFileID = remote.ID
	fresh.OwnerID = remote.OwnerID
	fresh.CollectionID = collectionID
	fresh.UpdationTime = remote.UpdationTime
	fresh.EncryptedKey = base64.StdEncoding.EncodeToString(sealed)
	fresh.KeyDecryptionNonce = base64.StdEncoding.EncodeToString(nonce)
	fresh.FileDecryptionHeader = fileObject.DecryptionHeader
	fresh.ThumbnailDecryptionHeader = thumbObject.DecryptionHeader
	fresh.MetadataDecryptionHeader = metadataBlob.DecryptionHeader
	fresh.Hash = data.FileHash
	if data.IsDeleted {
		// The source vanished mid-flight; the row must not keep claiming a
		// device identifier that may be reused.
		fresh.LocalID = ""
	}

	if err := w.files.Update(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// encryptMetadata seals the upload metadata map under the file key.
func (w *Worker) encryptMetadata(fresh *domain.File, data *media.UploadData, fileKey []byte) (cipher, header []byte, err error) {
	md := make(map[string]any, len(fresh.Metadata)+2)
	for k, v := range fresh.Metadata {
		md[k] = v
	}
	md["title"] = fresh.Title
	md["hash"] = data.FileHash
	if data.ZipHash != "" {
		md["zipHash"] = data.ZipHash
	}

	plain, err := json.Marshal(md)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	cipher, header, err = crypto.EncryptChunk(plain, fileKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt metadata: %w", err)
	}
	return cipher, header, nil
}

// handleInvalidFile marks the rejected row so it is never offered again.
func (w *Worker) handleInvalidFile(ctx context.Context, fresh *domain.File) {
	title := fresh.Title
	if title == "" {
		ext := filepath.Ext(fresh.LocalID)
		if ext == "" {
			ext = "unknown"
		}
		title = "no title, extension: " + ext
	}
	w.logger.Warn().
		Str("local_id", fresh.LocalID).
		Str("title", title).
		Msg("media extractor rejected file, marking invalid")

	if err := w.files.MarkInvalid(ctx, fresh.GeneratedID); err != nil {
		w.logger.Error().Err(err).
			Str("local_id", fresh.LocalID).
			Msg("failed to mark file invalid")
	}
}

// cleanup removes temp artifacts and releases the lock. It runs on all exit
// paths, including deadline expiry, so it uses a fresh context.
func (w *Worker) cleanup(localID string, data *media.UploadData, encryptedPath, thumbPath string) {
	if data != nil && data.IsSourceTemp {
		if err := os.Remove(data.SourcePath); err != nil && !os.IsNotExist(err) {
			w.logger.Warn().Err(err).Str("path", data.SourcePath).Msg("failed to remove temp source copy")
		}
	}
	for _, path := range []string{encryptedPath, thumbPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to remove encrypted artifact")
		}
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.locks.Release(releaseCtx, localID); err != nil {
		w.logger.Error().Err(err).Str("local_id", localID).Msg("failed to release file lock")
	}
}

// artifactPath builds the temp path for one encrypted artifact. Background
// artifacts carry a suffix so the two processes never collide.
func (w *Worker) artifactPath(generatedID int64, kind string) string {
	suffix := ""
	if w.cfg.Process == domain.ProcessBackground {
		suffix = "_bg"
	}
	return filepath.Join(w.cfg.TempDir, fmt.Sprintf("%d%s%s.encrypted", generatedID, kind, suffix))
}
