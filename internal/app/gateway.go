package app

import (
	"context"

	"github.com/dkeye/Campus/internal/domain"
)

// Gateway is the persistence boundary. Implementations report missing rows
// with domain.ErrNotFound, unique violations with domain.ErrConflict and any
// other store failure with domain.ErrPersistence.
type Gateway interface {
	UserStore
	CommunityStore
	DiscussionStore
	MessageStore
	NewsStore
	SubscriptionStore
	Close()
}

type UserStore interface {
	// CreateUser assigns ID and CreatedAt.
	CreateUser(ctx context.Context, u *domain.User) error
	UserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	// ListUsers returns one page and the total count; role nil means every role.
	ListUsers(ctx context.Context, role *domain.Role, offset, limit int) ([]domain.User, int, error)
	UpdateProfile(ctx context.Context, id domain.UserID, upd domain.ProfileUpdate) (*domain.User, error)
}

type CommunityStore interface {
	CreateCommunity(ctx context.Context, c *domain.Community) error
	// CommunityByID and ListCommunities embed members.
	CommunityByID(ctx context.Context, id domain.CommunityID) (*domain.Community, error)
	ListCommunities(ctx context.Context) ([]domain.Community, error)
}

type DiscussionStore interface {
	// CreateDiscussion assigns ID and CreatedAt and embeds author and community.
	CreateDiscussion(ctx context.Context, d *domain.Discussion) error
	DiscussionByID(ctx context.Context, id domain.DiscussionID) (*domain.Discussion, error)
	DiscussionsByCommunity(ctx context.Context, id domain.CommunityID) ([]domain.Discussion, error)
	// SearchDiscussions matches title or content case-insensitively.
	SearchDiscussions(ctx context.Context, query string) ([]domain.Discussion, error)
	// DiscussionSummaries loads the given discussions in the given order,
	// skipping missing ids. Results embed author, community and message count.
	DiscussionSummaries(ctx context.Context, ids []domain.DiscussionID) ([]domain.Discussion, error)
}

type MessageStore interface {
	// CreateMessage assigns ID; CreatedAt is kept as given.
	CreateMessage(ctx context.Context, m *domain.Message) error
	MessageByID(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	UpdateMessageContent(ctx context.Context, id domain.MessageID, content string) (*domain.Message, error)
	// DeleteMessage removes the message together with its replies.
	DeleteMessage(ctx context.Context, id domain.MessageID) error
	// TopLevelMessages returns a page of messages without parent, newest first,
	// each with its direct replies oldest first. Authors are embedded.
	TopLevelMessages(ctx context.Context, id domain.DiscussionID, offset, limit int) ([]domain.Message, error)
}

type NewsStore interface {
	CreateNews(ctx context.Context, n *domain.News) error
	// ListNews returns every post newest first with its author.
	ListNews(ctx context.Context) ([]domain.News, error)
}

type SubscriptionStore interface {
	// SaveSubscription upserts by endpoint.
	SaveSubscription(ctx context.Context, s *domain.Subscription) error
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}
