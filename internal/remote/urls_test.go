package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/lumen-sync/internal/domain"
)

// fakeURLSource is a controllable URLSource for pool tests.
type fakeURLSource struct {
	mu      sync.Mutex
	calls   int
	counts  []int
	err     error
	delay   time.Duration
	nextID  int
	failFor int // number of calls that return err before succeeding
}

func (f *fakeURLSource) FetchUploadURLs(ctx context.Context, count int) ([]domain.UploadURL, error) {
	f.mu.Lock()
	f.calls++
	f.counts = append(f.counts, count)
	fail := f.failFor > 0
	if fail {
		f.failFor--
	}
	failErr := f.err
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if fail {
		return nil, fmt.Errorf("transient refill failure")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]domain.UploadURL, count)
	for i := range urls {
		f.nextID++
		urls[i] = domain.UploadURL{
			ObjectKey: fmt.Sprintf("obj-%d", f.nextID),
			URL:       fmt.Sprintf("https://store.test/obj-%d", f.nextID),
		}
	}
	return urls, nil
}

func (f *fakeURLSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestURLPoolFIFOAndRefillSize(t *testing.T) {
	src := &fakeURLSource{}
	pool := NewURLPool(src, func() int { return 3 }, zerolog.Nop())

	u1, err := pool.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "obj-1", u1.ObjectKey)

	// Refill requested 2x pending = 6 URLs, so five remain pooled.
	assert.Equal(t, 5, pool.Size())
	assert.Equal(t, []int{6}, src.counts)

	u2, err := pool.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "obj-2", u2.ObjectKey)
	assert.Equal(t, 1, src.callCount())
}

func TestURLPoolRefillCapped(t *testing.T) {
	src := &fakeURLSource{}
	pool := NewURLPool(src, func() int { return 100 }, zerolog.Nop())

	_, err := pool.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{maxURLsPerRefill}, src.counts)
}

func TestURLPoolRefillAtLeastOne(t *testing.T) {
	src := &fakeURLSource{}
	pool := NewURLPool(src, func() int { return 0 }, zerolog.Nop())

	_, err := pool.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, src.counts)
}

func TestURLPoolCoalescesConcurrentRefills(t *testing.T) {
	src := &fakeURLSource{delay: 50 * time.Millisecond}
	pool := NewURLPool(src, func() int { return 8 }, zerolog.Nop())

	const takers = 8
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Take(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, src.callCount(), "concurrent takers must share one refill")
}

func TestURLPoolRemembersSessionTerminalFailure(t *testing.T) {
	src := &fakeURLSource{err: domain.ErrNoActiveSubscription}
	pool := NewURLPool(src, func() int { return 1 }, zerolog.Nop())

	_, err := pool.Take(context.Background())
	require.ErrorIs(t, err, domain.ErrNoActiveSubscription)

	// Subsequent takes do not hit the source again.
	_, err = pool.Take(context.Background())
	require.ErrorIs(t, err, domain.ErrNoActiveSubscription)
	assert.Equal(t, 1, src.callCount())

	// A purchased subscription resets the pool.
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	pool.Reset()

	_, err = pool.Take(context.Background())
	require.NoError(t, err)
}

func TestURLPoolTransientFailureIsNotSticky(t *testing.T) {
	src := &fakeURLSource{failFor: 1}
	pool := NewURLPool(src, func() int { return 1 }, zerolog.Nop())

	_, err := pool.Take(context.Background())
	require.Error(t, err)

	_, err = pool.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount())
}
