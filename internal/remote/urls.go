package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
)

// maxURLsPerRefill caps how many presigned URLs one refill may request.
const maxURLsPerRefill = 42

// URLSource produces presigned upload URLs. The catalog service is the
// default source; a direct S3 presigner can stand in for self-hosted stores.
type URLSource interface {
	FetchUploadURLs(ctx context.Context, count int) ([]domain.UploadURL, error)
}

// FetchUploadURLs asks the catalog service for count presigned PUT URLs.
func (c *Client) FetchUploadURLs(ctx context.Context, count int) ([]domain.UploadURL, error) {
	var resp struct {
		URLs []domain.UploadURL `json:"urls"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/files/upload-urls?count=%d", count), nil, &resp)
	if err != nil {
		switch statusOf(err) {
		case http.StatusPaymentRequired:
			return nil, domain.ErrNoActiveSubscription
		case http.StatusUpgradeRequired:
			return nil, domain.ErrStorageLimitExceeded
		}
		return nil, err
	}
	return resp.URLs, nil
}

// refill tracks one in-flight fetch shared by every waiter.
type refill struct {
	done chan struct{}
	err  error
}

// URLPool hands out presigned upload URLs FIFO and refills in bulk.
// Concurrent takers that find the pool empty share a single fetch instead of
// issuing one request each. Refill size scales with queue pressure:
// min(42, 2 x pending uploads).
type URLPool struct {
	source  URLSource
	pending func() int
	logger  zerolog.Logger

	mu       sync.Mutex
	urls     []domain.UploadURL
	inflight *refill
	fatal    error
}

// NewURLPool creates a pool over source. pending reports how many uploads
// are currently queued or running, sizing each refill.
func NewURLPool(source URLSource, pending func() int, logger zerolog.Logger) *URLPool {
	return &URLPool{
		source:  source,
		pending: pending,
		logger:  logger.With().Str("service", "url_pool").Logger(),
	}
}

// Take pops the oldest URL, refilling the pool first if it is empty.
// A session-terminal refill failure (no subscription, storage exceeded) is
// remembered and returned to every caller until Reset is invoked.
func (p *URLPool) Take(ctx context.Context) (domain.UploadURL, error) {
	for {
		p.mu.Lock()
		if p.fatal != nil {
			err := p.fatal
			p.mu.Unlock()
			return domain.UploadURL{}, err
		}
		if len(p.urls) > 0 {
			u := p.urls[0]
			p.urls = p.urls[1:]
			p.mu.Unlock()
			return u, nil
		}

		if p.inflight == nil {
			call := &refill{done: make(chan struct{})}
			p.inflight = call
			p.mu.Unlock()

			urls, err := p.fetch(ctx)

			p.mu.Lock()
			p.urls = append(p.urls, urls...)
			if err != nil && domain.SessionTerminal(err) {
				p.fatal = err
			}
			p.inflight = nil
			call.err = err
			p.mu.Unlock()
			close(call.done)

			if err != nil {
				return domain.UploadURL{}, err
			}
			continue
		}

		call := p.inflight
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.UploadURL{}, ctx.Err()
		case <-call.done:
			if call.err != nil {
				return domain.UploadURL{}, call.err
			}
		}
	}
}

// fetch asks the source for a pressure-sized batch of URLs.
func (p *URLPool) fetch(ctx context.Context) ([]domain.UploadURL, error) {
	count := 2 * p.pending()
	if count > maxURLsPerRefill {
		count = maxURLsPerRefill
	}
	if count < 1 {
		count = 1
	}

	urls, err := p.source.FetchUploadURLs(ctx, count)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("url source returned no upload urls")
	}
	p.logger.Debug().Int("requested", count).Int("received", len(urls)).Msg("refilled upload url pool")
	return urls, nil
}

// Size returns how many URLs are currently pooled.
func (p *URLPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

// Reset clears a remembered session-terminal failure so the next Take can
// refill again. Called when the account gains an active subscription.
func (p *URLPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatal = nil
}
