package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Putter uploads encrypted blobs to presigned URLs taken from a URL pool.
// Presigned URLs are single-use: every attempt consumes a fresh one.
type Putter struct {
	pool        *URLPool
	httpClient  *http.Client
	maxAttempts int
	logger      zerolog.Logger
}

// NewPutter creates a blob putter. maxAttempts bounds retries per blob.
func NewPutter(pool *URLPool, maxAttempts int, logger zerolog.Logger) *Putter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Putter{
		pool: pool,
		httpClient: &http.Client{
			// Large blobs on slow links; the worker's upload deadline is the
			// real bound.
			Timeout: 0,
		},
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("service", "blob_putter").Logger(),
	}
}

// PutFile streams the file at path to a presigned URL and returns the object
// key it was stored under, together with the byte count sent.
func (p *Putter) PutFile(ctx context.Context, path string) (string, int64, error) {
	var lastErr error
	var size int64
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		// The byte count is re-read on every attempt so a late flush by the
		// encryptor never ships a stale Content-Length.
		info, err := os.Stat(path)
		if err != nil {
			return "", 0, fmt.Errorf("failed to stat blob: %w", err)
		}
		if size != 0 && info.Size() != size {
			p.logger.Warn().
				Int64("expected", size).
				Int64("actual", info.Size()).
				Msg("blob size changed between attempts")
		}
		size = info.Size()

		uploadURL, err := p.pool.Take(ctx)
		if err != nil {
			// Pool failures carry their own retry/terminal semantics.
			return "", 0, err
		}

		sent, err := p.putOnce(ctx, uploadURL.URL, path, size)
		if err == nil {
			return uploadURL.ObjectKey, sent, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}

		// A first-attempt mismatch with a grown blob means the encryptor was
		// still flushing when this attempt stated it; go again without
		// burning the attempt.
		if attempt == 1 && isContentLengthMismatch(err) {
			if info, statErr := os.Stat(path); statErr == nil && info.Size() != size {
				attempt--
				continue
			}
		}

		p.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", p.maxAttempts).
			Str("object_key", uploadURL.ObjectKey).
			Msg("blob put failed")
	}
	return "", 0, fmt.Errorf("blob put failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// putOnce performs a single streamed PUT with an explicit Content-Length.
func (p *Putter) putOnce(ctx context.Context, url, path string, size int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return 0, fmt.Errorf("failed to build put request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("put request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &apiError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	elapsed := time.Since(start)
	rate := float64(size) / (1 << 20) / elapsed.Seconds()
	p.logger.Info().
		Int64("bytes", size).
		Dur("elapsed", elapsed).
		Float64("mib_per_sec", rate).
		Msg("blob uploaded")
	return size, nil
}

// isContentLengthMismatch reports whether the store rejected the PUT because
// the body did not match the declared Content-Length.
func isContentLengthMismatch(err error) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.StatusCode != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(ae.Body)
	return strings.Contains(body, "content-length") || strings.Contains(body, "contentlength") ||
		strings.Contains(body, "incompletebody")
}

// BlobPutter is what the upload worker needs from the blob transport.
type BlobPutter interface {
	PutFile(ctx context.Context, path string) (objectKey string, size int64, err error)
}

// Ensure Putter satisfies the worker's transport contract.
var _ BlobPutter = (*Putter)(nil)
