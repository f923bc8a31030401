package uploader

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/lumen-sync/internal/connectivity"
	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/lock"
	"github.com/prn-tf/lumen-sync/internal/media"
	"github.com/prn-tf/lumen-sync/internal/pkg/crypto"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// settingsStub satisfies repository.SettingsRepository for lock stores.
type settingsStub struct {
	values map[string]int64
}

func (s *settingsStub) GetInt64(_ context.Context, key string) (int64, error) {
	v, ok := s.values[key]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return v, nil
}

func (s *settingsStub) SetInt64(_ context.Context, key string, value int64) error {
	if s.values == nil {
		s.values = make(map[string]int64)
	}
	s.values[key] = value
	return nil
}

type workerFixture struct {
	files       *fakeFiles
	lockRepo    *lock.MemoryRepository
	locks       *lock.Store
	collections *fakeCollections
	catalog     *fakeCatalog
	putter      *fakePutter
	extractor   *fakeExtractor
	prober      *connectivity.StaticProber
	worker      *Worker
	tempDir     string

	stopped bool
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	fx := &workerFixture{
		files:       newFakeFiles(),
		lockRepo:    lock.NewMemoryRepository(),
		collections: newFakeCollections(),
		catalog:     newFakeCatalog(),
		putter:      &fakePutter{},
		extractor:   newFakeExtractor(),
		prober:      connectivity.NewStaticProber(connectivity.KindWiFi),
		tempDir:     t.TempDir(),
	}

	lockCfg := lock.DefaultConfig()
	fx.locks = lock.NewStore(fx.lockRepo, &settingsStub{}, lockCfg, zerolog.Nop())

	linker := NewLinker(fx.files, fx.collections, zerolog.Nop())
	resolver := NewResolver(fx.files, linker, testOwnerID, zerolog.Nop())

	fx.worker = NewWorker(WorkerDeps{
		Files:         fx.files,
		Locks:         fx.locks,
		Resolver:      resolver,
		Linker:        linker,
		Extractor:     fx.extractor,
		Putter:        fx.putter,
		Catalog:       fx.catalog,
		Prober:        fx.prober,
		StopRequested: func() bool { return fx.stopped },
	}, WorkerConfig{
		TempDir:  fx.tempDir,
		Deadline: time.Minute,
		Process:  domain.ProcessForeground,
	}, zerolog.Nop())
	return fx
}

// seedCandidate inserts a never-uploaded row with a real source file behind
// the extractor.
func (fx *workerFixture) seedCandidate(t *testing.T, localID string) *domain.File {
	t.Helper()

	srcPath := filepath.Join(fx.tempDir, localID+".src")
	require.NoError(t, os.WriteFile(srcPath, []byte("plaintext media bytes for "+localID), 0o600))

	row := &domain.File{
		LocalID:        localID,
		Title:          localID + ".jpg",
		Type:           domain.FileTypeImage,
		CollectionID:   0,
		OwnerID:        testOwnerID,
		UploadedFileID: domain.NoRemoteID,
		Metadata:       map[string]any{"width": float64(640)},
	}
	require.NoError(t, fx.files.Insert(context.Background(), row))

	fx.extractor.data[localID] = &media.UploadData{
		SourcePath: srcPath,
		Thumbnail:  []byte("thumbnail bytes"),
		FileHash:   "H-" + localID,
		Size:       32,
	}
	return row
}

func (fx *workerFixture) lockHeld(t *testing.T, localID string, owner domain.ProcessType) bool {
	t.Helper()
	held, err := fx.lockRepo.Exists(context.Background(), localID, owner)
	require.NoError(t, err)
	return held
}

func (fx *workerFixture) artifactsAbsent(t *testing.T, generatedID int64) {
	t.Helper()
	enc := fx.worker.artifactPath(generatedID, "")
	thumb := fx.worker.artifactPath(generatedID, "_thumbnail")
	_, err := os.Stat(enc)
	assert.True(t, os.IsNotExist(err), "encrypted file artifact must be cleaned up")
	_, err = os.Stat(thumb)
	assert.True(t, os.IsNotExist(err), "encrypted thumbnail artifact must be cleaned up")
}

func TestWorkerHappyPathNewUpload(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")

	uploaded, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)

	assert.True(t, uploaded.HasUploadedFile())
	assert.Equal(t, int64(9), uploaded.CollectionID)
	assert.Equal(t, "H-LA", uploaded.Hash)
	assert.NotEmpty(t, uploaded.FileDecryptionHeader)
	assert.NotEmpty(t, uploaded.ThumbnailDecryptionHeader)
	assert.NotEmpty(t, uploaded.MetadataDecryptionHeader)

	// Thumbnail goes first, then the file.
	require.Len(t, fx.putter.paths, 2)
	assert.Contains(t, fx.putter.paths[0], "_thumbnail")
	assert.NotContains(t, fx.putter.paths[1], "_thumbnail")

	require.Equal(t, 1, fx.catalog.createCount())
	req := fx.catalog.creates[0]
	assert.Equal(t, int64(9), req.CollectionID)
	assert.Equal(t, "obj-1", req.Thumbnail.ObjectKey)
	assert.Equal(t, "obj-2", req.File.ObjectKey)

	// The wrapped key on the persisted row unwraps under the collection key.
	persisted, err := fx.files.GetByGeneratedID(context.Background(), row.GeneratedID)
	require.NoError(t, err)
	colKey, err := fx.collections.GetCollectionKey(context.Background(), 9)
	require.NoError(t, err)
	sealed, err := base64.StdEncoding.DecodeString(persisted.EncryptedKey)
	require.NoError(t, err)
	nonce, err := base64.StdEncoding.DecodeString(persisted.KeyDecryptionNonce)
	require.NoError(t, err)
	_, err = crypto.UnwrapKey(sealed, nonce, colKey)
	assert.NoError(t, err)

	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground), "lock must be released after the worker returns")
	fx.artifactsAbsent(t, row.GeneratedID)
}

func TestWorkerWiFiGate(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	fx.prober.Set(connectivity.KindMobile)

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.ErrorIs(t, err, domain.ErrWiFiUnavailable)
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground), "gate fires before any lock is taken")
	assert.Zero(t, fx.catalog.createCount())
}

func TestWorkerForcedUploadBypassesGate(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	fx.prober.Set(connectivity.KindMobile)

	uploaded, err := fx.worker.Upload(context.Background(), row, 9, true)
	require.NoError(t, err)
	assert.True(t, uploaded.HasUploadedFile())
}

func TestWorkerAlreadyUploadedShortcut(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	row.UploadedFileID = 777
	row.UpdationTime = 123456
	row.CollectionID = 9
	require.NoError(t, fx.files.Update(context.Background(), row))

	uploaded, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)
	assert.Equal(t, int64(777), uploaded.UploadedFileID)
	assert.Zero(t, fx.catalog.createCount())
	assert.Empty(t, fx.putter.paths)
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground))
}

func TestWorkerLockConflictParks(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")

	require.NoError(t, fx.lockRepo.Insert(context.Background(), "LA", domain.ProcessBackground, time.Now().UnixMicro()))

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.ErrorIs(t, err, domain.ErrLockAlreadyAcquired)

	// The foreign lock must survive the attempt.
	assert.True(t, fx.lockHeld(t, "LA", domain.ProcessBackground))
}

func TestWorkerInvalidFileMarksRow(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	fx.extractor.errs["LA"] = domain.NewUploadError(domain.ErrInvalidFile, "LA", row.Title)

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.ErrorIs(t, err, domain.ErrInvalidFile)

	assert.True(t, fx.files.isInvalid(row.GeneratedID))
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground))
	fx.artifactsAbsent(t, row.GeneratedID)
}

func TestWorkerUpdatePath(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")

	// Wrap a real key under collection 9 and mark the row for re-upload.
	colKey, err := fx.collections.GetCollectionKey(context.Background(), 9)
	require.NoError(t, err)
	fileKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, nonce, err := crypto.WrapKey(fileKey, colKey)
	require.NoError(t, err)

	row.UploadedFileID = 888
	row.UpdationTime = domain.ReuploadSentinel
	row.CollectionID = 9
	row.EncryptedKey = base64.StdEncoding.EncodeToString(sealed)
	row.KeyDecryptionNonce = base64.StdEncoding.EncodeToString(nonce)
	require.NoError(t, fx.files.Update(context.Background(), row))

	// A sibling row in another collection shares the remote id.
	sibling := &domain.File{
		LocalID:        "",
		Title:          row.Title,
		Type:           domain.FileTypeImage,
		CollectionID:   11,
		OwnerID:        testOwnerID,
		UploadedFileID: 888,
		UpdationTime:   domain.ReuploadSentinel,
	}
	require.NoError(t, fx.files.Insert(context.Background(), sibling))

	uploaded, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)
	assert.Equal(t, int64(888), uploaded.UploadedFileID)
	assert.NotEqual(t, domain.ReuploadSentinel, uploaded.UpdationTime)

	assert.Zero(t, fx.catalog.createCount())
	require.Len(t, fx.catalog.updates, 1)
	assert.Equal(t, int64(888), fx.catalog.updates[0].ID)

	// The sibling row picked up the new content too, keeping its collection.
	refreshed, err := fx.files.GetByGeneratedID(context.Background(), sibling.GeneratedID)
	require.NoError(t, err)
	assert.Equal(t, uploaded.UpdationTime, refreshed.UpdationTime)
	assert.Equal(t, int64(11), refreshed.CollectionID)
}

func TestWorkerMappedSkipReleasesLock(t *testing.T) {
	fx := newWorkerFixture(t)

	// Existing uploaded record with the candidate's hash, same collection,
	// same localID: case A skip.
	existing := &domain.File{
		LocalID:        "LA",
		Title:          "existing.jpg",
		Type:           domain.FileTypeImage,
		CollectionID:   9,
		OwnerID:        testOwnerID,
		UploadedFileID: 999,
		UpdationTime:   55,
		Hash:           "H-LA",
	}
	require.NoError(t, fx.files.Insert(context.Background(), existing))

	row := fx.seedCandidate(t, "LA")

	uploaded, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)
	assert.NotNil(t, uploaded)

	assert.Zero(t, fx.catalog.createCount(), "mapped candidates never hit the catalog")
	assert.Empty(t, fx.putter.paths)
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground))
}

func TestWorkerDeletedSourceClearsLocalID(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	fx.extractor.data["LA"].IsDeleted = true

	uploaded, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)
	assert.Empty(t, uploaded.LocalID)

	persisted, err := fx.files.GetByGeneratedID(context.Background(), row.GeneratedID)
	require.NoError(t, err)
	assert.Empty(t, persisted.LocalID)

	// The lock was taken under the original localID and must be released
	// under it even though the row no longer carries one.
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground))
}

// stallingPutter blocks every put until the caller's context expires.
type stallingPutter struct{}

func (stallingPutter) PutFile(ctx context.Context, _ string) (string, int64, error) {
	<-ctx.Done()
	return "", 0, ctx.Err()
}

func TestWorkerDeadlineExpiryTimesOut(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")

	fx.worker.putter = stallingPutter{}
	fx.worker.cfg.Deadline = 50 * time.Millisecond

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.ErrorIs(t, err, domain.ErrUploadTimedOut)

	// A timeout fails the single item: it is neither a lock conflict the
	// scheduler would park nor a session-terminal kind.
	assert.NotErrorIs(t, err, domain.ErrLockAlreadyAcquired)
	assert.False(t, domain.SessionTerminal(err))

	assert.Zero(t, fx.catalog.createCount())
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground))
	fx.artifactsAbsent(t, row.GeneratedID)
}

func TestWorkerStopBeforeCommit(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	fx.stopped = true

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.ErrorIs(t, err, domain.ErrSyncStopRequested)

	assert.Zero(t, fx.catalog.createCount(), "stop must fire before the catalog commit")
	assert.NotEmpty(t, fx.putter.paths, "stop is checked after the blob puts")
	assert.False(t, fx.lockHeld(t, "LA", domain.ProcessForeground))
	fx.artifactsAbsent(t, row.GeneratedID)
}

func TestWorkerRemovesTempSourceCopy(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	data := fx.extractor.data["LA"]
	data.IsSourceTemp = true

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)

	_, statErr := os.Stat(data.SourcePath)
	assert.True(t, os.IsNotExist(statErr), "temp source copies are deleted after the attempt")
}

func TestWorkerKeepsOriginalSource(t *testing.T) {
	fx := newWorkerFixture(t)
	row := fx.seedCandidate(t, "LA")
	data := fx.extractor.data["LA"]

	_, err := fx.worker.Upload(context.Background(), row, 9, false)
	require.NoError(t, err)

	_, statErr := os.Stat(data.SourcePath)
	assert.NoError(t, statErr, "original sources are never deleted")
}
