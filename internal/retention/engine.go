package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/store"
)

// Result describes one enforcement pass. Individual delete failures are
// collected in FailedKeys and never abort the remaining deletions.
type Result struct {
	DeletedCount int      `json:"deleted_count"`
	DeletedKeys  []string `json:"deleted_keys,omitempty"`
	FailedKeys   []string `json:"failed_keys,omitempty"`
}

// Engine applies a source's retention policy against the object store.
type Engine struct {
	logger zerolog.Logger
	store  store.ObjectStore
	now    func() time.Time
}

func NewEngine(logger zerolog.Logger, st store.ObjectStore) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "retention-engine").Logger(),
		store:  st,
		now:    time.Now,
	}
}

// Enforce lists the source's backups, plans the deletion set under its
// policy, and deletes best-effort per key. Only a listing failure returns an
// error; delete failures are logged and reported in the result.
func (e *Engine) Enforce(ctx context.Context, src model.Source) (Result, error) {
	var res Result

	if src.Retention.Empty() {
		return res, nil
	}

	backups, err := e.store.ListBackups(ctx, src.ID)
	if err != nil {
		return res, fmt.Errorf("retention for %s: %w", src.ID, err)
	}

	marked := Plan(backups, src.Retention, e.now())
	for _, key := range marked {
		if err := e.store.DeleteBackup(ctx, key); err != nil {
			e.logger.Error().Err(err).Str("source", src.ID).Str("key", key).Msg("failed to delete expired backup")
			res.FailedKeys = append(res.FailedKeys, key)
			continue
		}
		res.DeletedKeys = append(res.DeletedKeys, key)
		res.DeletedCount++
	}

	if res.DeletedCount > 0 || len(res.FailedKeys) > 0 {
		e.logger.Info().
			Str("source", src.ID).
			Int("deleted", res.DeletedCount).
			Int("failed", len(res.FailedKeys)).
			Msg("retention pass complete")
	}
	return res, nil
}
