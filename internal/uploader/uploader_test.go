package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/media"
	"github.com/prn-tf/lumen-sync/internal/pkg/crypto"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeFiles is an in-memory FileRepository.
type fakeFiles struct {
	mu      sync.Mutex
	rows    map[int64]*domain.File
	invalid map[int64]bool
	nextID  int64
	order   []int64

	deleted []int64
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		rows:    make(map[int64]*domain.File),
		invalid: make(map[int64]bool),
	}
}

func (f *fakeFiles) Insert(_ context.Context, file *domain.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	file.GeneratedID = f.nextID
	f.rows[file.GeneratedID] = file.Clone()
	f.order = append(f.order, file.GeneratedID)
	return nil
}

func (f *fakeFiles) GetByGeneratedID(_ context.Context, generatedID int64) (*domain.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[generatedID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row.Clone(), nil
}

func (f *fakeFiles) GetByLocalID(_ context.Context, localID string) (*domain.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if row, ok := f.rows[id]; ok && row.LocalID == localID {
			return row.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeFiles) Update(_ context.Context, file *domain.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[file.GeneratedID]; !ok {
		return repository.ErrNotFound
	}
	f.rows[file.GeneratedID] = file.Clone()
	return nil
}

func (f *fakeFiles) Delete(_ context.Context, generatedID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, generatedID)
	f.deleted = append(f.deleted, generatedID)
	return nil
}

func (f *fakeFiles) GetUploadedFilesWithHashes(_ context.Context, hashes []string, fileType domain.FileType, ownerID int64) ([]*domain.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hashSet := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		hashSet[h] = true
	}
	var matches []*domain.File
	for _, id := range f.order {
		row, ok := f.rows[id]
		if !ok || f.invalid[id] {
			continue
		}
		if row.HasUploadedFile() && row.OwnerID == ownerID && row.Type == fileType && hashSet[row.Hash] {
			matches = append(matches, row.Clone())
		}
	}
	return matches, nil
}

func (f *fakeFiles) UpdateAcrossCollections(_ context.Context, file *domain.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range f.rows {
		if row.UploadedFileID != file.UploadedFileID {
			continue
		}
		updated := file.Clone()
		updated.GeneratedID = id
		updated.CollectionID = row.CollectionID
		f.rows[id] = updated
	}
	return nil
}

func (f *fakeFiles) MarkInvalid(_ context.Context, generatedID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid[generatedID] = true
	return nil
}

func (f *fakeFiles) isInvalid(generatedID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalid[generatedID]
}

// fakeCollections is an in-memory CollectionService recording link calls.
type fakeCollections struct {
	mu   sync.Mutex
	keys map[int64][]byte

	addCalls []addCall
	err      error
}

type addCall struct {
	collectionID int64
	fileID       int64
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{keys: make(map[int64][]byte)}
}

func (c *fakeCollections) GetCollectionKey(_ context.Context, collectionID int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.keys[collectionID]; ok {
		return key, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	c.keys[collectionID] = key
	return key, nil
}

func (c *fakeCollections) AddToCollection(_ context.Context, collectionID, fileID int64, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.addCalls = append(c.addCalls, addCall{collectionID: collectionID, fileID: fileID})
	return nil
}

func (c *fakeCollections) addCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.addCalls)
}

// fakeCatalog records create/update calls and assigns remote ids.
type fakeCatalog struct {
	mu        sync.Mutex
	nextID    int64
	creates   []*domain.CreateFileRequest
	updates   []*domain.UpdateFileRequest
	createErr error
	updateErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{nextID: 1000}
}

func (c *fakeCatalog) CreateFile(_ context.Context, req *domain.CreateFileRequest) (*domain.RemoteFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.nextID++
	c.creates = append(c.creates, req)
	return &domain.RemoteFile{
		ID:           c.nextID,
		OwnerID:      testOwnerID,
		CollectionID: req.CollectionID,
		UpdationTime: time.Now().UnixMicro(),
	}, nil
}

func (c *fakeCatalog) UpdateFile(_ context.Context, req *domain.UpdateFileRequest) (*domain.RemoteFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	c.updates = append(c.updates, req)
	return &domain.RemoteFile{
		ID:           req.ID,
		OwnerID:      testOwnerID,
		UpdationTime: time.Now().UnixMicro(),
	}, nil
}

func (c *fakeCatalog) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.creates)
}

// fakePutter records put paths and hands out sequential object keys.
type fakePutter struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (p *fakePutter) PutFile(_ context.Context, path string) (string, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", 0, p.err
	}
	p.paths = append(p.paths, path)
	return fmt.Sprintf("obj-%d", len(p.paths)), 64, nil
}

// fakeExtractor serves canned upload data per localID.
type fakeExtractor struct {
	mu   sync.Mutex
	data map[string]*media.UploadData
	errs map[string]error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		data: make(map[string]*media.UploadData),
		errs: make(map[string]error),
	}
}

func (e *fakeExtractor) Extract(_ context.Context, file *domain.File) (*media.UploadData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.errs[file.LocalID]; ok {
		return nil, err
	}
	if d, ok := e.data[file.LocalID]; ok {
		return d, nil
	}
	return nil, domain.NewUploadError(domain.ErrInvalidFile, file.LocalID, file.Title)
}

const testOwnerID int64 = 42
