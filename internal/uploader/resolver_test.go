package uploader

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/media"
	"github.com/prn-tf/lumen-sync/internal/pkg/crypto"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

type resolverFixture struct {
	files       *fakeFiles
	collections *fakeCollections
	resolver    *Resolver
}

func newResolverFixture() *resolverFixture {
	files := newFakeFiles()
	collections := newFakeCollections()
	linker := NewLinker(files, collections, zerolog.Nop())
	return &resolverFixture{
		files:       files,
		collections: collections,
		resolver:    NewResolver(files, linker, testOwnerID, zerolog.Nop()),
	}
}

// insertUploaded seeds a remote-present row whose key material is valid for
// its collection, so linking can re-wrap it.
func (fx *resolverFixture) insertUploaded(t *testing.T, localID string, collectionID int64, hash string) *domain.File {
	t.Helper()
	ctx := context.Background()

	colKey, err := fx.collections.GetCollectionKey(ctx, collectionID)
	require.NoError(t, err)
	fileKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, nonce, err := crypto.WrapKey(fileKey, colKey)
	require.NoError(t, err)

	row := &domain.File{
		LocalID:            localID,
		Title:              "seed-" + hash,
		Type:               domain.FileTypeImage,
		CollectionID:       collectionID,
		OwnerID:            testOwnerID,
		UploadedFileID:     5000 + int64(len(fx.files.order)),
		UpdationTime:       99,
		Hash:               hash,
		EncryptedKey:       base64.StdEncoding.EncodeToString(sealed),
		KeyDecryptionNonce: base64.StdEncoding.EncodeToString(nonce),
	}
	require.NoError(t, fx.files.Insert(ctx, row))
	return row
}

func (fx *resolverFixture) insertCandidate(t *testing.T, localID string, collectionID int64) *domain.File {
	t.Helper()
	row := &domain.File{
		LocalID:        localID,
		Title:          "candidate",
		Type:           domain.FileTypeImage,
		CollectionID:   collectionID,
		OwnerID:        testOwnerID,
		UploadedFileID: domain.NoRemoteID,
	}
	require.NoError(t, fx.files.Insert(context.Background(), row))
	return row
}

func uploadDataWithHash(hash string) *media.UploadData {
	return &media.UploadData{SourcePath: "/tmp/ignored", FileHash: hash}
}

func TestResolverNoMatchProceeds(t *testing.T) {
	fx := newResolverFixture()
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.False(t, mapped)
}

func TestResolverSkipsAlreadyUploadedCandidate(t *testing.T) {
	fx := newResolverFixture()
	candidate := fx.insertUploaded(t, "LA", 9, "H1")

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.False(t, mapped, "already-uploaded candidates proceed, upstream handled them")
}

func TestResolverSameLocalIDSameCollection(t *testing.T) {
	fx := newResolverFixture()
	existing := fx.insertUploaded(t, "LA", 9, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.True(t, mapped)

	// The duplicate candidate row is gone; the existing row survives.
	_, err = fx.files.GetByGeneratedID(context.Background(), candidate.GeneratedID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	kept, err := fx.files.GetByGeneratedID(context.Background(), existing.GeneratedID)
	require.NoError(t, err)
	assert.Equal(t, existing.UploadedFileID, kept.UploadedFileID)
	assert.Zero(t, fx.collections.addCallCount())
}

func TestResolverStampsLocalIDOntoOrphanRecord(t *testing.T) {
	fx := newResolverFixture()
	existing := fx.insertUploaded(t, "", 9, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.True(t, mapped)

	stamped, err := fx.files.GetByGeneratedID(context.Background(), existing.GeneratedID)
	require.NoError(t, err)
	assert.Equal(t, "LA", stamped.LocalID)

	_, err = fx.files.GetByGeneratedID(context.Background(), candidate.GeneratedID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolverLinksAcrossCollections(t *testing.T) {
	fx := newResolverFixture()
	existing := fx.insertUploaded(t, "other-device", 11, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.True(t, mapped)

	require.Equal(t, 1, fx.collections.addCallCount())
	assert.Equal(t, addCall{collectionID: 9, fileID: existing.UploadedFileID}, fx.collections.addCalls[0])

	// Candidate row now mirrors the uploaded file inside collection 9 with a
	// key wrapped under collection 9's key.
	linked, err := fx.files.GetByGeneratedID(context.Background(), candidate.GeneratedID)
	require.NoError(t, err)
	assert.Equal(t, existing.UploadedFileID, linked.UploadedFileID)
	assert.Equal(t, int64(9), linked.CollectionID)

	dstKey, err := fx.collections.GetCollectionKey(context.Background(), 9)
	require.NoError(t, err)
	sealed, err := base64.StdEncoding.DecodeString(linked.EncryptedKey)
	require.NoError(t, err)
	nonce, err := base64.StdEncoding.DecodeString(linked.KeyDecryptionNonce)
	require.NoError(t, err)
	_, err = crypto.UnwrapKey(sealed, nonce, dstKey)
	assert.NoError(t, err, "linked key must unwrap under the destination collection key")
}

func TestResolverDeviceDuplicateUploadsAnew(t *testing.T) {
	fx := newResolverFixture()
	fx.insertUploaded(t, "LB", 9, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.False(t, mapped, "same collection, different localID means a distinct device copy")
	assert.Zero(t, fx.collections.addCallCount())
}

func TestResolverLivePhotoMatchesZipHash(t *testing.T) {
	fx := newResolverFixture()
	existing := fx.insertUploaded(t, "LA", 9, "ZIP-HASH")
	existing.Type = domain.FileTypeLivePhoto
	require.NoError(t, fx.files.Update(context.Background(), existing))

	candidate := fx.insertCandidate(t, "LA", 9)
	candidate.Type = domain.FileTypeLivePhoto
	require.NoError(t, fx.files.Update(context.Background(), candidate))

	data := &media.UploadData{FileHash: "H-IMG", ZipHash: "ZIP-HASH"}
	mapped, err := fx.resolver.Resolve(context.Background(), candidate, data, 9)
	require.NoError(t, err)
	assert.True(t, mapped)
}

func TestResolverSameLocalIDOutranksCrossCollection(t *testing.T) {
	fx := newResolverFixture()
	// Insertion order puts the cross-collection match first; the ranking must
	// still prefer the same-collection, same-localID duplicate.
	fx.insertUploaded(t, "other-device", 11, "H1")
	existing := fx.insertUploaded(t, "LA", 9, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.True(t, mapped)

	// Duplicate row deleted, no linking performed.
	_, err = fx.files.GetByGeneratedID(context.Background(), candidate.GeneratedID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Zero(t, fx.collections.addCallCount())

	kept, err := fx.files.GetByGeneratedID(context.Background(), existing.GeneratedID)
	require.NoError(t, err)
	assert.Equal(t, existing.UploadedFileID, kept.UploadedFileID)
}

func TestResolverStampOutranksCrossCollection(t *testing.T) {
	fx := newResolverFixture()
	fx.insertUploaded(t, "other-device", 11, "H1")
	orphan := fx.insertUploaded(t, "", 9, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.True(t, mapped)

	stamped, err := fx.files.GetByGeneratedID(context.Background(), orphan.GeneratedID)
	require.NoError(t, err)
	assert.Equal(t, "LA", stamped.LocalID)
	assert.Zero(t, fx.collections.addCallCount())
}

func TestResolverQueryOrderBreaksTiesWithinCase(t *testing.T) {
	fx := newResolverFixture()
	// Two cross-collection matches and nothing better: the first one returned
	// is the one linked.
	first := fx.insertUploaded(t, "x1", 11, "H1")
	fx.insertUploaded(t, "x2", 12, "H1")
	candidate := fx.insertCandidate(t, "LA", 9)

	mapped, err := fx.resolver.Resolve(context.Background(), candidate, uploadDataWithHash("H1"), 9)
	require.NoError(t, err)
	assert.True(t, mapped)

	require.Equal(t, 1, fx.collections.addCallCount())
	assert.Equal(t, first.UploadedFileID, fx.collections.addCalls[0].fileID)
}
