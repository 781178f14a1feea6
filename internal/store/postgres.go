package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() { s.pool.Close() }

// classify maps driver errors onto domain error kinds.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s already exists", domain.ErrConflict, what)
		case "23503":
			return fmt.Errorf("%w: %s references a missing row", domain.ErrNotFound, what)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, what, err)
}

const userColumns = `u.id, u.name, u.email, u.password_hash, u.role, u.age, u.education, u.community_id, u.created_at,
	c.id, c.name, c.description, c.created_at`

const userFrom = `FROM users u LEFT JOIN communities c ON c.id = u.community_id`

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u                 domain.User
		communityID       *string
		cID, cName, cDesc *string
		cCreated          *time.Time
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Age, &u.Education, &communityID, &u.CreatedAt,
		&cID, &cName, &cDesc, &cCreated); err != nil {
		return nil, err
	}
	if communityID != nil {
		id := domain.CommunityID(*communityID)
		u.CommunityID = &id
	}
	if cID != nil {
		u.Community = &domain.Community{ID: domain.CommunityID(*cID), Name: *cName, Description: *cDesc, CreatedAt: *cCreated}
	}
	return &u, nil
}

// authorColumns select the embedded author of discussions, messages and news.
const authorColumns = `a.id, a.name, a.email, a.role, a.age, a.education, a.community_id, a.created_at`

func authorTargets(a *domain.User, communityID **string) []any {
	return []any{&a.ID, &a.Name, &a.Email, &a.Role, &a.Age, &a.Education, communityID, &a.CreatedAt}
}

func finishAuthor(a *domain.User, communityID *string) *domain.User {
	if communityID != nil {
		id := domain.CommunityID(*communityID)
		a.CommunityID = &id
	}
	return a
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *domain.User) error {
	u.ID = domain.UserID(uuid.NewString())
	if u.Role == "" {
		u.Role = domain.RoleStudent
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, age, education, community_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.Age, u.Education, u.CommunityID,
	).Scan(&u.CreatedAt)
	return classify(err, "user")
}

func (s *PostgresStore) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` `+userFrom+` WHERE u.id = $1`, id))
	return u, classify(err, "user")
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` `+userFrom+` WHERE u.email = $1`, email))
	return u, classify(err, "user")
}

func (s *PostgresStore) ListUsers(ctx context.Context, role *domain.Role, offset, limit int) ([]domain.User, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE $1::text IS NULL OR role = $1`, role).Scan(&total); err != nil {
		return nil, 0, classify(err, "users")
	}
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` `+userFrom+`
		WHERE $1::text IS NULL OR u.role = $1
		ORDER BY u.created_at, u.id
		OFFSET $2 LIMIT $3`, role, offset, limit)
	if err != nil {
		return nil, 0, classify(err, "users")
	}
	defer rows.Close()
	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, classify(err, "users")
		}
		users = append(users, *u)
	}
	return users, total, classify(rows.Err(), "users")
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id domain.UserID, upd domain.ProfileUpdate) (*domain.User, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			age = COALESCE($3, age),
			education = COALESCE($4, education),
			community_id = COALESCE($5, community_id)
		WHERE id = $1`,
		id, upd.Name, upd.Age, upd.Education, upd.CommunityID)
	if err != nil {
		return nil, classify(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return s.UserByID(ctx, id)
}

func (s *PostgresStore) CreateCommunity(ctx context.Context, c *domain.Community) error {
	c.ID = domain.CommunityID(uuid.NewString())
	err := s.pool.QueryRow(ctx, `
		INSERT INTO communities (id, name, description) VALUES ($1, $2, $3)
		RETURNING created_at`, c.ID, c.Name, c.Description).Scan(&c.CreatedAt)
	if c.Members == nil {
		c.Members = []domain.User{}
	}
	return classify(err, "community")
}

func (s *PostgresStore) CommunityByID(ctx context.Context, id domain.CommunityID) (*domain.Community, error) {
	var c domain.Community
	err := s.pool.QueryRow(ctx, `SELECT id, name, description, created_at FROM communities WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if err != nil {
		return nil, classify(err, "community")
	}
	members, err := s.members(ctx, []domain.CommunityID{c.ID})
	if err != nil {
		return nil, err
	}
	c.Members = members[c.ID]
	if c.Members == nil {
		c.Members = []domain.User{}
	}
	return &c, nil
}

func (s *PostgresStore) ListCommunities(ctx context.Context) ([]domain.Community, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, created_at FROM communities ORDER BY name`)
	if err != nil {
		return nil, classify(err, "communities")
	}
	communities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Community, error) {
		var c domain.Community
		err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, classify(err, "communities")
	}
	ids := make([]domain.CommunityID, len(communities))
	for i, c := range communities {
		ids[i] = c.ID
	}
	members, err := s.members(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range communities {
		communities[i].Members = members[communities[i].ID]
		if communities[i].Members == nil {
			communities[i].Members = []domain.User{}
		}
	}
	return communities, nil
}

func (s *PostgresStore) members(ctx context.Context, ids []domain.CommunityID) (map[domain.CommunityID][]domain.User, error) {
	out := make(map[domain.CommunityID][]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+authorColumns+` FROM users a WHERE a.community_id = ANY($1) ORDER BY a.created_at`, strs(ids))
	if err != nil {
		return nil, classify(err, "members")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			u           domain.User
			communityID *string
		)
		if err := rows.Scan(authorTargets(&u, &communityID)...); err != nil {
			return nil, classify(err, "members")
		}
		finishAuthor(&u, communityID)
		out[*u.CommunityID] = append(out[*u.CommunityID], u)
	}
	return out, classify(rows.Err(), "members")
}

const discussionColumns = `d.id, d.title, d.content, d.community_id, d.author_id, d.created_at,
	` + authorColumns + `, c.id, c.name, c.description, c.created_at`

const discussionFrom = `FROM discussions d
	JOIN users a ON a.id = d.author_id
	JOIN communities c ON c.id = d.community_id`

func scanDiscussion(row pgx.Row, extra ...any) (*domain.Discussion, error) {
	var (
		d           domain.Discussion
		author      domain.User
		community   domain.Community
		communityID *string
	)
	targets := []any{&d.ID, &d.Title, &d.Content, &d.CommunityID, &d.AuthorID, &d.CreatedAt}
	targets = append(targets, authorTargets(&author, &communityID)...)
	targets = append(targets, &community.ID, &community.Name, &community.Description, &community.CreatedAt)
	targets = append(targets, extra...)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	d.Author = finishAuthor(&author, communityID)
	d.Community = &community
	return &d, nil
}

func (s *PostgresStore) CreateDiscussion(ctx context.Context, d *domain.Discussion) error {
	d.ID = domain.DiscussionID(uuid.NewString())
	err := s.pool.QueryRow(ctx, `
		INSERT INTO discussions (id, title, content, community_id, author_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`, d.ID, d.Title, d.Content, d.CommunityID, d.AuthorID).Scan(&d.CreatedAt)
	if err != nil {
		return classify(err, "discussion")
	}
	full, err := s.DiscussionByID(ctx, d.ID)
	if err != nil {
		return err
	}
	*d = *full
	return nil
}

func (s *PostgresStore) DiscussionByID(ctx context.Context, id domain.DiscussionID) (*domain.Discussion, error) {
	d, err := scanDiscussion(s.pool.QueryRow(ctx, `SELECT `+discussionColumns+` `+discussionFrom+` WHERE d.id = $1`, id))
	return d, classify(err, "discussion")
}

func (s *PostgresStore) DiscussionsByCommunity(ctx context.Context, id domain.CommunityID) ([]domain.Discussion, error) {
	return s.queryDiscussions(ctx, false, `WHERE d.community_id = $1 ORDER BY d.created_at DESC`, id)
}

func strs[T ~string](ids []T) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// likePattern escapes LIKE metacharacters so the query matches literally.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func (s *PostgresStore) SearchDiscussions(ctx context.Context, query string) ([]domain.Discussion, error) {
	return s.queryDiscussions(ctx, true,
		`WHERE d.title ILIKE $1 OR d.content ILIKE $1 ORDER BY d.created_at DESC`, likePattern(query))
}

func (s *PostgresStore) DiscussionSummaries(ctx context.Context, ids []domain.DiscussionID) ([]domain.Discussion, error) {
	if len(ids) == 0 {
		return []domain.Discussion{}, nil
	}
	found, err := s.queryDiscussions(ctx, true, `WHERE d.id = ANY($1)`, strs(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[domain.DiscussionID]domain.Discussion, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}
	out := make([]domain.Discussion, 0, len(found))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *PostgresStore) queryDiscussions(ctx context.Context, withCount bool, where string, args ...any) ([]domain.Discussion, error) {
	cols := discussionColumns
	if withCount {
		cols += `, (SELECT COUNT(*) FROM messages m WHERE m.discussion_id = d.id)`
	}
	rows, err := s.pool.Query(ctx, `SELECT `+cols+` `+discussionFrom+` `+where, args...)
	if err != nil {
		return nil, classify(err, "discussions")
	}
	defer rows.Close()
	out := []domain.Discussion{}
	for rows.Next() {
		var (
			d     *domain.Discussion
			count int
			err   error
		)
		if withCount {
			d, err = scanDiscussion(rows, &count)
			if d != nil {
				d.MessageCount = &count
			}
		} else {
			d, err = scanDiscussion(rows)
		}
		if err != nil {
			return nil, classify(err, "discussions")
		}
		out = append(out, *d)
	}
	return out, classify(rows.Err(), "discussions")
}

const messageColumns = `m.id, m.content, m.author_id, m.discussion_id, m.parent_message_id, m.created_at, ` + authorColumns

const messageFrom = `FROM messages m JOIN users a ON a.id = m.author_id`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var (
		m           domain.Message
		parent      *string
		author      domain.User
		communityID *string
	)
	targets := append([]any{&m.ID, &m.Content, &m.AuthorID, &m.DiscussionID, &parent, &m.CreatedAt}, authorTargets(&author, &communityID)...)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	if parent != nil {
		p := domain.MessageID(*parent)
		m.ParentMessageID = &p
	}
	m.Author = finishAuthor(&author, communityID)
	m.Replies = []domain.Message{}
	return &m, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	m.ID = domain.MessageID(uuid.NewString())
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, content, author_id, discussion_id, parent_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Content, m.AuthorID, m.DiscussionID, m.ParentMessageID, m.CreatedAt)
	return classify(err, "message")
}

func (s *PostgresStore) MessageByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` `+messageFrom+` WHERE m.id = $1`, id))
	return m, classify(err, "message")
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id domain.MessageID, content string) (*domain.Message, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return nil, classify(err, "message")
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
	}
	return s.MessageByID(ctx, id)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return classify(err, "message")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) TopLevelMessages(ctx context.Context, id domain.DiscussionID, offset, limit int) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.discussion_id = $1 AND m.parent_message_id IS NULL
		ORDER BY m.created_at DESC, m.id DESC
		OFFSET $2 LIMIT $3`, id, offset, limit)
	if err != nil {
		return nil, classify(err, "messages")
	}
	top, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return top, nil
	}

	parents := make([]domain.MessageID, len(top))
	index := make(map[domain.MessageID]int, len(top))
	for i, m := range top {
		parents[i] = m.ID
		index[m.ID] = i
	}
	rows, err = s.pool.Query(ctx, `SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.parent_message_id = ANY($1)
		ORDER BY m.created_at, m.id`, strs(parents))
	if err != nil {
		return nil, classify(err, "replies")
	}
	replies, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		i := index[*r.ParentMessageID]
		top[i].Replies = append(top[i].Replies, r)
	}
	return top, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, classify(err, "messages")
		}
		out = append(out, *m)
	}
	return out, classify(rows.Err(), "messages")
}

func (s *PostgresStore) CreateNews(ctx context.Context, n *domain.News) error {
	n.ID = domain.NewsID(uuid.NewString())
	err := s.pool.QueryRow(ctx, `
		INSERT INTO news (id, title, content, author_id) VALUES ($1, $2, $3, $4)
		RETURNING created_at`, n.ID, n.Title, n.Content, n.AuthorID).Scan(&n.CreatedAt)
	return classify(err, "news")
}

func (s *PostgresStore) ListNews(ctx context.Context) ([]domain.News, error) {
	rows, err := s.pool.Query(ctx, `SELECT n.id, n.title, n.content, n.author_id, n.created_at, `+authorColumns+`
		FROM news n JOIN users a ON a.id = n.author_id
		ORDER BY n.created_at DESC`)
	if err != nil {
		return nil, classify(err, "news")
	}
	defer rows.Close()
	out := []domain.News{}
	for rows.Next() {
		var (
			n           domain.News
			author      domain.User
			communityID *string
		)
		targets := append([]any{&n.ID, &n.Title, &n.Content, &n.AuthorID, &n.CreatedAt}, authorTargets(&author, &communityID)...)
		if err := rows.Scan(targets...); err != nil {
			return nil, classify(err, "news")
		}
		n.Author = finishAuthor(&author, communityID)
		out = append(out, n)
	}
	return out, classify(rows.Err(), "news")
}

func (s *PostgresStore) SaveSubscription(ctx context.Context, sub *domain.Subscription) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, endpoint, p256dh, auth) VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		RETURNING id, created_at`,
		uuid.NewString(), sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth,
	).Scan(&sub.ID, &sub.CreatedAt)
	return classify(err, "subscription")
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, endpoint, p256dh, auth, created_at FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, classify(err, "subscriptions")
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subscription, error) {
		var sub domain.Subscription
		err := row.Scan(&sub.ID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt)
		return sub, err
	})
	return subs, classify(err, "subscriptions")
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE endpoint = $1`, endpoint)
	return classify(err, "subscription")
}
