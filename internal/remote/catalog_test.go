package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/lumen-sync/internal/config"
	"github.com/prn-tf/lumen-sync/internal/domain"
)

func newTestClient(endpoint string) *Client {
	return NewClient(config.APIConfig{
		Endpoint:       endpoint,
		AuthToken:      "test-token",
		RequestTimeout: 5 * time.Second,
	}, zerolog.Nop())
}

func sampleCreateRequest() *domain.CreateFileRequest {
	return &domain.CreateFileRequest{
		CollectionID:       7,
		EncryptedKey:       "ek",
		KeyDecryptionNonce: "nonce",
		File:               domain.UploadedObject{ObjectKey: "obj-file", DecryptionHeader: "hdr", Size: 128},
		Thumbnail:          domain.UploadedObject{ObjectKey: "obj-thumb", DecryptionHeader: "hdr", Size: 16},
		Metadata:           domain.MetadataBlob{EncryptedData: "md", DecryptionHeader: "hdr"},
	}
}

func TestCatalogCreateFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Auth-Token"))

		var req domain.CreateFileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(7), req.CollectionID)

		json.NewEncoder(w).Encode(domain.RemoteFile{
			ID: 1001, OwnerID: 42, CollectionID: req.CollectionID, UpdationTime: 1234,
		})
	}))
	defer srv.Close()

	catalog := NewCatalog(newTestClient(srv.URL), 4, time.Millisecond)

	remote, err := catalog.CreateFile(context.Background(), sampleCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1001), remote.ID)
	assert.Equal(t, int64(1234), remote.UpdationTime)
}

func TestCatalogFileTooLargeNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "file too large for plan", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	catalog := NewCatalog(newTestClient(srv.URL), 4, time.Millisecond)

	_, err := catalog.CreateFile(context.Background(), sampleCreateRequest())
	require.ErrorIs(t, err, domain.ErrFileTooLargeForPlan)
	assert.Equal(t, int32(1), hits.Load(), "413 must not be retried")
}

func TestCatalogStorageLimitNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "storage limit exceeded", http.StatusUpgradeRequired)
	}))
	defer srv.Close()

	catalog := NewCatalog(newTestClient(srv.URL), 4, time.Millisecond)

	_, err := catalog.UpdateFile(context.Background(), &domain.UpdateFileRequest{ID: 1001})
	require.ErrorIs(t, err, domain.ErrStorageLimitExceeded)
	assert.Equal(t, int32(1), hits.Load(), "426 must not be retried")
}

func TestCatalogRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(domain.RemoteFile{ID: 1002})
	}))
	defer srv.Close()

	catalog := NewCatalog(newTestClient(srv.URL), 4, time.Millisecond)

	remote, err := catalog.CreateFile(context.Background(), sampleCreateRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1002), remote.ID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCatalogExhaustsRetryBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	catalog := NewCatalog(newTestClient(srv.URL), 4, time.Millisecond)

	_, err := catalog.CreateFile(context.Background(), sampleCreateRequest())
	require.Error(t, err)
	assert.Equal(t, int32(4), hits.Load())
}

func TestFetchUploadURLsErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"payment required", http.StatusPaymentRequired, domain.ErrNoActiveSubscription},
		{"upgrade required", http.StatusUpgradeRequired, domain.ErrStorageLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchUploadURLs(context.Background(), 4)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchUploadURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/upload-urls", r.URL.Path)
		assert.Equal(t, "6", r.URL.Query().Get("count"))
		json.NewEncoder(w).Encode(map[string]any{
			"urls": []domain.UploadURL{
				{ObjectKey: "a", URL: "https://store.test/a"},
				{ObjectKey: "b", URL: "https://store.test/b"},
			},
		})
	}))
	defer srv.Close()

	urls, err := newTestClient(srv.URL).FetchUploadURLs(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "a", urls[0].ObjectKey)
}
