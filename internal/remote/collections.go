package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/prn-tf/lumen-sync/internal/cache/memory"
	"github.com/prn-tf/lumen-sync/internal/domain"
)

// Collections talks to the collection endpoints of the catalog service.
// Collection keys are served by the device-local key service that fronts the
// account's key hierarchy; this client only transports them.
type Collections struct {
	client      *Client
	maxAttempts int
	backoff     time.Duration
	keys        *memory.Cache
}

// NewCollections creates a collections client with a per-process key cache.
func NewCollections(client *Client, maxAttempts int, backoff time.Duration) *Collections {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Collections{
		client:      client,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		keys:        memory.NewCache(),
	}
}

// GetCollectionKey returns the symmetric key of a collection. Keys are
// immutable, so a fetched key is cached for the life of the process.
func (c *Collections) GetCollectionKey(ctx context.Context, collectionID int64) ([]byte, error) {
	cacheKey := fmt.Sprintf("collection-key:%d", collectionID)
	if key, err := c.keys.Get(ctx, cacheKey); err == nil {
		return key, nil
	}

	var resp struct {
		Key string `json:"key"`
	}
	path := fmt.Sprintf("/collections/%d/key", collectionID)
	if err := c.withRetry(ctx, func() error {
		return c.client.do(ctx, http.MethodGet, path, nil, &resp)
	}); err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode collection key: %w", err)
	}
	c.keys.Set(ctx, cacheKey, key, 0)
	return key, nil
}

// addFilesRequest is the body of POST /collections/add-files.
type addFilesRequest struct {
	CollectionID int64             `json:"collectionID"`
	Files        []collectionEntry `json:"files"`
}

// collectionEntry maps one uploaded file into a collection, carrying the
// file key wrapped under that collection's key.
type collectionEntry struct {
	ID                 int64  `json:"id"`
	EncryptedKey       string `json:"encryptedKey"`
	KeyDecryptionNonce string `json:"keyDecryptionNonce"`
}

// AddToCollection maps an already-uploaded file into another collection.
// encryptedKey and nonce must wrap the file key under the destination
// collection's key.
func (c *Collections) AddToCollection(ctx context.Context, collectionID, fileID int64, encryptedKey, keyDecryptionNonce string) error {
	req := addFilesRequest{
		CollectionID: collectionID,
		Files: []collectionEntry{{
			ID:                 fileID,
			EncryptedKey:       encryptedKey,
			KeyDecryptionNonce: keyDecryptionNonce,
		}},
	}
	return c.withRetry(ctx, func() error {
		return c.client.do(ctx, http.MethodPost, "/collections/add-files", req, nil)
	})
}

// withRetry mirrors the catalog retry policy for collection operations.
func (c *Collections) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if statusOf(err) == http.StatusUpgradeRequired {
			return domain.ErrStorageLimitExceeded
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return lastErr
}
