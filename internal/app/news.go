package app

import (
	"context"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

const NewsAlertTitle = "New News Alert!"

// Notifier fans a notification out to every push subscription. Notify must
// not block on delivery and never reports delivery failures.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

type News struct {
	store    NewsStore
	notifier Notifier
}

func NewNews(store NewsStore, notifier Notifier) *News {
	return &News{store: store, notifier: notifier}
}

func (s *News) List(ctx context.Context) ([]domain.News, error) {
	return s.store.ListNews(ctx)
}

// Publish stores a post by an admin or staff author and triggers a push alert.
func (s *News) Publish(ctx context.Context, author *domain.User, title, content string) (*domain.News, error) {
	if err := RequireRole(author, domain.RoleAdmin, domain.RoleStaff); err != nil {
		return nil, err
	}
	n, err := domain.NewNews(Sanitize(title), Sanitize(content), author.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateNews(ctx, n); err != nil {
		return nil, err
	}
	n.Author = author
	log.Info().Str("module", "app.news").Str("news", string(n.ID)).Msg("news published")
	if s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx), domain.Notification{Title: NewsAlertTitle, Body: n.Title})
	}
	return n, nil
}
