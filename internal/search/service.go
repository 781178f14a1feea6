package search

import (
	"context"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

// Service tries Meilisearch first and falls back to the store.
type Service struct {
	meili *Meili
	store app.DiscussionStore
}

var _ app.DiscussionIndex = (*Service)(nil)

// NewService builds the facade; meili may be nil when search is not configured.
func NewService(m *Meili, store app.DiscussionStore) *Service {
	return &Service{meili: m, store: store}
}

func (s *Service) Search(ctx context.Context, query string) ([]domain.Discussion, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchIDs(query)
		if err == nil {
			return s.store.DiscussionSummaries(ctx, ids)
		}
		log.Warn().Err(err).Str("module", "search").Msg("meilisearch failed, falling back to store")
	}
	found, err := s.store.SearchDiscussions(ctx, query)
	return app.CapResults(found), err
}

// Index adds d to Meilisearch in the background.
func (s *Service) Index(d domain.Discussion) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := recordOf(d)
	go func() {
		if err := s.meili.IndexDiscussions([]DiscussionRecord{rec}); err != nil {
			log.Warn().Err(err).Str("module", "search").Str("discussion", rec.ID).Msg("index discussion")
		}
	}()
}

// Reindex pushes every discussion matching the empty query into the index.
// It runs at startup so an empty index catches up with the store.
func (s *Service) Reindex(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	all, err := s.store.SearchDiscussions(ctx, "")
	if err != nil {
		return err
	}
	records := make([]DiscussionRecord, len(all))
	for i, d := range all {
		records[i] = recordOf(d)
	}
	return s.meili.IndexDiscussions(records)
}
