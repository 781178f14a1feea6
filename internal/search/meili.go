// Package search indexes discussions in Meilisearch and falls back to the
// store's substring search when the index is unavailable.
package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const (
	idxDiscussions = "campus_discussions"
	healthInterval = 10 * time.Second
)

// DiscussionRecord is the indexed shape of a discussion.
type DiscussionRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	CommunityID string `json:"communityId"`
	AuthorID    string `json:"authorId"`
	CreatedAt   int64  `json:"createdAt"`
}

func recordOf(d domain.Discussion) DiscussionRecord {
	return DiscussionRecord{
		ID:          string(d.ID),
		Title:       d.Title,
		Content:     d.Content,
		CommunityID: string(d.CommunityID),
		AuthorID:    string(d.AuthorID),
		CreatedAt:   d.CreatedAt.Unix(),
	}
}

type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to Meilisearch and starts a health monitor. An
// unreachable server is not an error; searches fall back until it recovers.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		log.Warn().Err(err).Str("module", "search").Str("url", url).Msg("meilisearch unavailable")
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxDiscussions, PrimaryKey: "id"}); err != nil {
		log.Debug().Err(err).Str("module", "search").Msg("create index (may already exist)")
	}
	index := m.client.Index(idxDiscussions)
	searchable := []string{"title", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Str("module", "search").Msg("update searchable attributes")
	}
	filterable := []interface{}{"communityId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Str("module", "search").Msg("update filterable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Str("module", "search").Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() { close(m.done) }

func (m *Meili) Healthy() bool { return m.healthy.Load() }

// SearchIDs returns matching discussion ids in relevance order.
func (m *Meili) SearchIDs(query string) ([]domain.DiscussionID, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	resp, err := m.client.Index(idxDiscussions).Search(query, &meili.SearchRequest{
		Limit:                app.MaxSearchResults,
		AttributesToRetrieve: []string{"id"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}
	ids := make([]domain.DiscussionID, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, ok := hit["id"]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			ids = append(ids, domain.DiscussionID(id))
		}
	}
	return ids, nil
}

func (m *Meili) IndexDiscussions(records []DiscussionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDiscussions).AddDocuments(records, nil)
	return err
}
