package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/prn-tf/lumen-sync/internal/domain"
)

// Catalog commits upload results to the catalog service. Transient failures
// are retried with a fixed backoff; plan-limit rejections are mapped to
// their domain error kinds and never retried.
type Catalog struct {
	client      *Client
	maxAttempts int
	backoff     time.Duration
}

// NewCatalog creates a catalog committer over the shared client.
func NewCatalog(client *Client, maxAttempts int, backoff time.Duration) *Catalog {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Catalog{client: client, maxAttempts: maxAttempts, backoff: backoff}
}

// CreateFile registers a freshly uploaded file and returns the remote record.
func (c *Catalog) CreateFile(ctx context.Context, req *domain.CreateFileRequest) (*domain.RemoteFile, error) {
	var remote domain.RemoteFile
	err := c.withRetry(ctx, func() error {
		return c.client.do(ctx, http.MethodPost, "/files", req, &remote)
	})
	if err != nil {
		return nil, err
	}
	return &remote, nil
}

// UpdateFile re-points an existing remote record at newly uploaded content.
func (c *Catalog) UpdateFile(ctx context.Context, req *domain.UpdateFileRequest) (*domain.RemoteFile, error) {
	var remote domain.RemoteFile
	err := c.withRetry(ctx, func() error {
		return c.client.do(ctx, http.MethodPut, "/files/update", req, &remote)
	})
	if err != nil {
		return nil, err
	}
	return &remote, nil
}

// withRetry runs op up to maxAttempts times with a fixed backoff between
// attempts. Plan-limit rejections short-circuit as domain errors.
func (c *Catalog) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		switch statusOf(err) {
		case http.StatusRequestEntityTooLarge:
			return domain.ErrFileTooLargeForPlan
		case http.StatusUpgradeRequired:
			return domain.ErrStorageLimitExceeded
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}
		c.client.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.maxAttempts).
			Msg("catalog request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return lastErr
}
