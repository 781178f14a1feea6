// Package memstore is an in-process persistence gateway. It backs the
// development profile when no database is configured and the service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/google/uuid"
)

type messageRow struct {
	msg domain.Message
	seq int64
}

type Store struct {
	mu            sync.RWMutex
	seq           int64
	now           func() time.Time
	users         map[domain.UserID]domain.User
	communities   map[domain.CommunityID]domain.Community
	discussions   map[domain.DiscussionID]domain.Discussion
	messages      map[domain.MessageID]*messageRow
	news          []domain.News
	subscriptions map[string]domain.Subscription
}

func New() *Store {
	return &Store{
		now:           time.Now,
		users:         make(map[domain.UserID]domain.User),
		communities:   make(map[domain.CommunityID]domain.Community),
		discussions:   make(map[domain.DiscussionID]domain.Discussion),
		messages:      make(map[domain.MessageID]*messageRow),
		subscriptions: make(map[string]domain.Subscription),
	}
}

func (s *Store) Close() {}

func notFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", domain.ErrNotFound, kind, id)
}

// public returns the user as embedded in other entities.
func public(u domain.User) *domain.User {
	u.PasswordHash = ""
	u.Community = nil
	return &u
}

func (s *Store) withCommunity(u domain.User) domain.User {
	if u.CommunityID != nil {
		if c, ok := s.communities[*u.CommunityID]; ok {
			c.Members = nil
			u.Community = &c
		}
	}
	return u
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email %s", domain.ErrConflict, u.Email)
		}
	}
	u.ID = domain.UserID(uuid.NewString())
	u.CreatedAt = s.now()
	if u.Role == "" {
		u.Role = domain.RoleStudent
	}
	s.users[u.ID] = *u
	return nil
}

func (s *Store) UserByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	u = s.withCommunity(u)
	return &u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			u = s.withCommunity(u)
			return &u, nil
		}
	}
	return nil, notFound("user", email)
}

func (s *Store) ListUsers(_ context.Context, role *domain.Role, offset, limit int) ([]domain.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if role != nil && u.Role != *role {
			continue
		}
		all = append(all, s.withCommunity(u))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return window(all, offset, limit), len(all), nil
}

func (s *Store) UpdateProfile(_ context.Context, id domain.UserID, upd domain.ProfileUpdate) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Age != nil {
		u.Age = upd.Age
	}
	if upd.Education != nil {
		u.Education = upd.Education
	}
	if upd.CommunityID != nil {
		if _, ok := s.communities[*upd.CommunityID]; !ok {
			return nil, notFound("community", *upd.CommunityID)
		}
		u.CommunityID = upd.CommunityID
	}
	s.users[id] = u
	u = s.withCommunity(u)
	return &u, nil
}

func (s *Store) CreateCommunity(_ context.Context, c *domain.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.communities {
		if existing.Name == c.Name {
			return fmt.Errorf("%w: community %s", domain.ErrConflict, c.Name)
		}
	}
	c.ID = domain.CommunityID(uuid.NewString())
	c.CreatedAt = s.now()
	if c.Members == nil {
		c.Members = []domain.User{}
	}
	stored := *c
	stored.Members = nil
	s.communities[c.ID] = stored
	return nil
}

func (s *Store) withMembers(c domain.Community) domain.Community {
	c.Members = []domain.User{}
	for _, u := range s.users {
		if u.CommunityID != nil && *u.CommunityID == c.ID {
			c.Members = append(c.Members, *public(u))
		}
	}
	sort.Slice(c.Members, func(i, j int) bool { return c.Members[i].CreatedAt.Before(c.Members[j].CreatedAt) })
	return c
}

func (s *Store) CommunityByID(_ context.Context, id domain.CommunityID) (*domain.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.communities[id]
	if !ok {
		return nil, notFound("community", id)
	}
	c = s.withMembers(c)
	return &c, nil
}

func (s *Store) ListCommunities(_ context.Context) ([]domain.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Community, 0, len(s.communities))
	for _, c := range s.communities {
		out = append(out, s.withMembers(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) enrichDiscussion(d domain.Discussion) domain.Discussion {
	if u, ok := s.users[d.AuthorID]; ok {
		d.Author = public(u)
	}
	if c, ok := s.communities[d.CommunityID]; ok {
		d.Community = &c
	}
	return d
}

func (s *Store) CreateDiscussion(_ context.Context, d *domain.Discussion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[d.AuthorID]; !ok {
		return notFound("user", d.AuthorID)
	}
	if _, ok := s.communities[d.CommunityID]; !ok {
		return notFound("community", d.CommunityID)
	}
	d.ID = domain.DiscussionID(uuid.NewString())
	d.CreatedAt = s.now()
	stored := *d
	stored.Author, stored.Community, stored.MessageCount = nil, nil, nil
	s.discussions[d.ID] = stored
	*d = s.enrichDiscussion(stored)
	return nil
}

func (s *Store) DiscussionByID(_ context.Context, id domain.DiscussionID) (*domain.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.discussions[id]
	if !ok {
		return nil, notFound("discussion", id)
	}
	d = s.enrichDiscussion(d)
	return &d, nil
}

func (s *Store) sortedDiscussions(keep func(domain.Discussion) bool) []domain.Discussion {
	out := []domain.Discussion{}
	for _, d := range s.discussions {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) DiscussionsByCommunity(_ context.Context, id domain.CommunityID) ([]domain.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedDiscussions(func(d domain.Discussion) bool { return d.CommunityID == id }), nil
}

func (s *Store) summary(d domain.Discussion) domain.Discussion {
	d = s.enrichDiscussion(d)
	n := 0
	for _, row := range s.messages {
		if row.msg.DiscussionID == d.ID {
			n++
		}
	}
	d.MessageCount = &n
	return d
}

func (s *Store) SearchDiscussions(_ context.Context, query string) ([]domain.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	found := s.sortedDiscussions(func(d domain.Discussion) bool {
		return strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.Content), q)
	})
	for i := range found {
		found[i] = s.summary(found[i])
	}
	return found, nil
}

func (s *Store) DiscussionSummaries(_ context.Context, ids []domain.DiscussionID) ([]domain.Discussion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Discussion, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.discussions[id]; ok {
			out = append(out, s.summary(d))
		}
	}
	return out, nil
}

func (s *Store) withAuthor(m domain.Message) domain.Message {
	if u, ok := s.users[m.AuthorID]; ok {
		m.Author = public(u)
	}
	return m
}

func (s *Store) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.discussions[m.DiscussionID]; !ok {
		return notFound("discussion", m.DiscussionID)
	}
	if _, ok := s.users[m.AuthorID]; !ok {
		return notFound("user", m.AuthorID)
	}
	m.ID = domain.MessageID(uuid.NewString())
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.seq++
	stored := *m
	stored.Author, stored.Replies = nil, nil
	s.messages[m.ID] = &messageRow{msg: stored, seq: s.seq}
	return nil
}

func (s *Store) MessageByID(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, notFound("message", id)
	}
	m := s.withAuthor(row.msg)
	return &m, nil
}

func (s *Store) UpdateMessageContent(_ context.Context, id domain.MessageID, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, notFound("message", id)
	}
	row.msg.Content = content
	m := s.withAuthor(row.msg)
	return &m, nil
}

func (s *Store) DeleteMessage(_ context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return notFound("message", id)
	}
	s.deleteTree(id)
	return nil
}

func (s *Store) deleteTree(id domain.MessageID) {
	delete(s.messages, id)
	for childID, row := range s.messages {
		if row.msg.ParentMessageID != nil && *row.msg.ParentMessageID == id {
			s.deleteTree(childID)
		}
	}
}

// newestFirst orders by creation time, breaking ties by insertion order.
func newestFirst(rows []*messageRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].msg.CreatedAt.Equal(rows[j].msg.CreatedAt) {
			return rows[i].seq > rows[j].seq
		}
		return rows[i].msg.CreatedAt.After(rows[j].msg.CreatedAt)
	})
}

func (s *Store) TopLevelMessages(_ context.Context, id domain.DiscussionID, offset, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var top []*messageRow
	replies := make(map[domain.MessageID][]*messageRow)
	for _, row := range s.messages {
		if row.msg.DiscussionID != id {
			continue
		}
		if row.msg.ParentMessageID == nil {
			top = append(top, row)
			continue
		}
		replies[*row.msg.ParentMessageID] = append(replies[*row.msg.ParentMessageID], row)
	}
	newestFirst(top)
	page := window(top, offset, limit)

	out := make([]domain.Message, 0, len(page))
	for _, row := range page {
		m := s.withAuthor(row.msg)
		rs := replies[m.ID]
		newestFirst(rs)
		m.Replies = make([]domain.Message, 0, len(rs))
		for i := len(rs) - 1; i >= 0; i-- {
			m.Replies = append(m.Replies, s.withAuthor(rs[i].msg))
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) CreateNews(_ context.Context, n *domain.News) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[n.AuthorID]; !ok {
		return notFound("user", n.AuthorID)
	}
	n.ID = domain.NewsID(uuid.NewString())
	n.CreatedAt = s.now()
	stored := *n
	stored.Author = nil
	s.news = append(s.news, stored)
	return nil
}

func (s *Store) ListNews(_ context.Context) ([]domain.News, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.News, 0, len(s.news))
	for i := len(s.news) - 1; i >= 0; i-- {
		n := s.news[i]
		if u, ok := s.users[n.AuthorID]; ok {
			n.Author = public(u)
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) SaveSubscription(_ context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subscriptions[sub.Endpoint]; ok {
		sub.ID, sub.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		sub.ID = domain.SubscriptionID(uuid.NewString())
		sub.CreatedAt = s.now()
	}
	s.subscriptions[sub.Endpoint] = *sub
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, endpoint)
	return nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
