package upload

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fileflow-backend/internal/chunkstore"
	"fileflow-backend/internal/store"
)

// Sweeper garbage-collects terminal sessions after a retention period,
// removing their records and any orphaned chunk directories. Failed sessions
// are kept for diagnostics until the retention window elapses.
type Sweeper struct {
	store     store.Store
	chunks    *chunkstore.Store
	interval  time.Duration
	retention time.Duration
	log       zerolog.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(st store.Store, chunks *chunkstore.Store, interval, retention time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:     st,
		chunks:    chunks,
		interval:  interval,
		retention: retention,
		log:       log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Sweep(ctx); err != nil {
				w.log.Error().Err(err).Msg("retention sweep failed")
			} else if n > 0 {
				w.log.Info().Int("removed", n).Msg("retention sweep completed")
			}
		}
	}
}

// Sweep removes terminal sessions whose last mutation is older than the
// retention window. Partial cleanup is not an error: a chunk namespace that
// is already gone is skipped, and per-session failures do not stop the sweep.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.retention)
	sessions, err := w.store.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range sessions {
		sess := &sessions[i]
		if err := w.chunks.RemoveSession(sess.ID); err != nil {
			w.log.Warn().Err(err).Str("upload_id", sess.ID.String()).Msg("orphaned chunk cleanup incomplete")
		}
		if err := w.store.DeleteSession(ctx, sess.ID); err != nil {
			w.log.Warn().Err(err).Str("upload_id", sess.ID.String()).Msg("session record deletion failed")
			continue
		}
		removed++
	}
	return removed, nil
}
