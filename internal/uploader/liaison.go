package uploader

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/lock"
	"github.com/prn-tf/lumen-sync/internal/repository"
)

// Liaison reports completion for items the background process took over.
// It runs only in the foreground process: parked items stay in the queue
// until the background lock disappears, then the local catalog decides
// whether the upload happened.
type Liaison struct {
	queue    *Queue
	locks    *lock.Store
	files    repository.FileRepository
	interval time.Duration
	running  atomic.Bool
	logger   zerolog.Logger
}

// NewLiaison creates a background liaison polling at interval.
func NewLiaison(queue *Queue, locks *lock.Store, files repository.FileRepository, interval time.Duration, logger zerolog.Logger) *Liaison {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Liaison{
		queue:    queue,
		locks:    locks,
		files:    files,
		interval: interval,
		logger:   logger.With().Str("service", "bg_liaison").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (l *Liaison) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick reconciles every parked item once. Guarded against overlap in case a
// slow database probe outlasts the interval.
func (l *Liaison) tick(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	defer l.running.Store(false)

	for _, localID := range l.queue.BackgroundItems() {
		held, err := l.locks.IsLockedBy(ctx, localID, domain.ProcessBackground)
		if err != nil {
			l.logger.Error().Err(err).Str("local_id", localID).Msg("failed to probe background lock")
			continue
		}
		if held {
			continue
		}

		// Lock is gone; the catalog tells us whether the upload landed.
		file, err := l.files.GetByLocalID(ctx, localID)
		switch {
		case err == nil && file.HasUploadedFile():
			l.logger.Info().Str("local_id", localID).Int64("uploaded_file_id", file.UploadedFileID).
				Msg("background process finished upload")
			l.queue.FulfillBackground(localID, file, nil)

		case err == nil || errors.Is(err, repository.ErrNotFound):
			l.logger.Info().Str("local_id", localID).Msg("background process released lock without a remote record")
			l.queue.FulfillBackground(localID, nil,
				domain.NewUploadError(domain.ErrSilentlyCancelUploads, localID, ""))

		default:
			l.logger.Error().Err(err).Str("local_id", localID).Msg("failed to re-read file after background release")
		}
	}
}
