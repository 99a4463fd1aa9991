package memlayer

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/embedding"
	"github.com/rcliao/companion-memory/internal/store"
)

// Backfiller embeds chunks that were stored without vectors, one
// bounded batch at a time, sleeping between batches so interactive
// reads never wait on it. No transaction is held across a sleep.
type Backfiller struct {
	store    *store.Store
	provider embedding.Provider
	cfg      *config.Config
	log      *logrus.Logger
	clock    clockwork.Clock
}

// NewBackfiller builds a backfill task. clock may be nil for wall time.
func NewBackfiller(st *store.Store, provider embedding.Provider, cfg *config.Config, log *logrus.Logger, clock clockwork.Clock) *Backfiller {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Backfiller{store: st, provider: provider, cfg: cfg, log: log, clock: clock}
}

// Run processes batches until the context is cancelled. A drained store
// does not stop the loop: conversations keep arriving for as long as the
// host runs, so the task idles on IdleInterval and re-checks.
func (b *Backfiller) Run(ctx context.Context) error {
	if b.provider == nil {
		return nil
	}

	for {
		processed, err := b.RunOnce(ctx)
		if err != nil {
			return err
		}

		delay := b.cfg.Backfill.Delay
		if processed == 0 {
			delay = b.cfg.Backfill.IdleInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(delay):
		}
	}
}

// RunOnce embeds a single batch and reports how many chunks were
// processed.
func (b *Backfiller) RunOnce(ctx context.Context) (int, error) {
	chunks, err := b.store.ChunksMissingEmbeddings(ctx, b.cfg.Backfill.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := b.provider.BatchEmbed(ctx, texts)
	if err != nil {
		// Provider problems degrade search, they do not fail the engine.
		b.log.WithError(err).Warn("backfill: batch embed")
		return 0, nil
	}

	batch := make([]store.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		batch[i] = store.ChunkEmbedding{ChunkID: c.ID, Embedding: vecs[i]}
	}
	if err := b.store.SetChunkEmbeddings(ctx, batch); err != nil {
		return 0, err
	}

	remaining, err := b.store.CountChunksMissingEmbeddings(ctx)
	if err == nil {
		b.log.WithFields(logrus.Fields{
			"batch":     len(chunks),
			"remaining": remaining,
		}).Debug("backfill batch written")
	}
	return len(chunks), nil
}
