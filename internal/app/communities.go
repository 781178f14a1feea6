package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Campus/internal/domain"
)

type Communities struct {
	communities CommunityStore
	discussions DiscussionStore
}

func NewCommunities(communities CommunityStore, discussions DiscussionStore) *Communities {
	return &Communities{communities: communities, discussions: discussions}
}

func (s *Communities) List(ctx context.Context) ([]domain.Community, error) {
	return s.communities.ListCommunities(ctx)
}

func (s *Communities) Get(ctx context.Context, id domain.CommunityID) (*domain.Community, error) {
	return s.communities.CommunityByID(ctx, id)
}

func (s *Communities) Create(ctx context.Context, name, description string) (*domain.Community, error) {
	name, err := domain.ValidateName(Sanitize(name))
	if err != nil {
		return nil, err
	}
	c := &domain.Community{Name: name, Description: Sanitize(description), Members: []domain.User{}}
	if err := s.communities.CreateCommunity(ctx, c); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: community with this name already exists", domain.ErrConflict)
		}
		return nil, err
	}
	return c, nil
}

// Discussions lists a community's discussions; NotFound when the community is absent.
func (s *Communities) Discussions(ctx context.Context, id domain.CommunityID) ([]domain.Discussion, error) {
	if _, err := s.communities.CommunityByID(ctx, id); err != nil {
		return nil, err
	}
	return s.discussions.DiscussionsByCommunity(ctx, id)
}
