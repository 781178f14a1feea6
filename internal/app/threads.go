package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/Campus/internal/domain"
)

// DiscussionIndex is an optional full-text index over discussions.
type DiscussionIndex interface {
	Search(ctx context.Context, query string) ([]domain.Discussion, error)
	// Index is fire-and-forget.
	Index(d domain.Discussion)
}

type CreateDiscussionInput struct {
	Title       string
	Content     string
	CommunityID domain.CommunityID
	AuthorID    domain.UserID
}

// Threads creates discussions and serves the two-level thread view.
type Threads struct {
	users       UserStore
	communities CommunityStore
	discussions DiscussionStore
	messages    MessageStore
	index       DiscussionIndex
}

func NewThreads(gw Gateway, index DiscussionIndex) *Threads {
	return &Threads{users: gw, communities: gw, discussions: gw, messages: gw, index: index}
}

func (t *Threads) CreateDiscussion(ctx context.Context, in CreateDiscussionInput) (*domain.Discussion, error) {
	d, err := domain.NewDiscussion(Sanitize(in.Title), Sanitize(in.Content), in.CommunityID, in.AuthorID)
	if err != nil {
		return nil, err
	}
	if _, err := t.users.UserByID(ctx, d.AuthorID); err != nil {
		return nil, err
	}
	if _, err := t.communities.CommunityByID(ctx, d.CommunityID); err != nil {
		return nil, err
	}
	if err := t.discussions.CreateDiscussion(ctx, d); err != nil {
		return nil, err
	}
	if t.index != nil {
		t.index.Index(*d)
	}
	return d, nil
}

// GetDiscussion returns the discussion with one page of top-level messages,
// newest first, and all direct replies of each.
func (t *Threads) GetDiscussion(ctx context.Context, id domain.DiscussionID, page, size int) (*domain.Thread, error) {
	d, err := t.discussions.DiscussionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := NewPaging(page, size, DefaultPageSize)
	msgs, err := t.messages.TopLevelMessages(ctx, id, p.Offset, p.Size)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].Replies == nil {
			msgs[i].Replies = []domain.Message{}
		}
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return &domain.Thread{Discussion: *d, Messages: msgs}, nil
}

// MaxSearchResults caps every search result set, whichever backend serves it.
const MaxSearchResults = 50

// Search matches discussions by title or content. The index is used when
// configured and the store otherwise.
func (t *Threads) Search(ctx context.Context, query string) ([]domain.Discussion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query parameter is required", domain.ErrValidation)
	}
	if t.index != nil {
		return t.index.Search(ctx, query)
	}
	found, err := t.discussions.SearchDiscussions(ctx, query)
	return CapResults(found), err
}

// CapResults trims found to MaxSearchResults.
func CapResults(found []domain.Discussion) []domain.Discussion {
	if len(found) > MaxSearchResults {
		return found[:MaxSearchResults]
	}
	return found
}
