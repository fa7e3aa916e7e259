package lifecycle

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/models"
)

// RecoverStuck re-runs every document left in "processing" by a previous,
// possibly crashed, run. Documents are handled one at a time with a fixed
// delay between them to bound peak resource use during recovery; one
// document's failure never stops the sweep.
func (m *Manager) RecoverStuck(ctx context.Context) {
	docs, err := m.store.GetDocumentsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		log.Error().Err(err).Msg("recovery sweep: could not list stuck documents")
		return
	}
	if len(docs) == 0 {
		return
	}

	log.Info().Int("count", len(docs)).Msg("recovery sweep: re-running stuck documents")

	for i := range docs {
		if i > 0 {
			select {
			case <-ctx.Done():
				log.Warn().Msg("recovery sweep interrupted")
				return
			case <-time.After(m.recoveryDelay):
			}
		}

		doc := docs[i]
		if res, err := m.run(ctx, &doc); err != nil {
			log.Warn().Err(err).Str("doc_id", doc.ID).Msg("recovery sweep: document errored")
		} else if !res.Success {
			log.Warn().Str("doc_id", doc.ID).Str("error", res.Error).Msg("recovery sweep: document failed")
		}
	}
}
