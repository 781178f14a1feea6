package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/dkeye/Campus/internal/store/memstore"
)

type threadFixture struct {
	st        *memstore.Store
	threads   *app.Threads
	author    *domain.User
	community *domain.Community
}

func newThreadFixture(t *testing.T) *threadFixture {
	t.Helper()
	st := memstore.New()
	c := &domain.Community{Name: "Web Development"}
	if err := st.CreateCommunity(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return &threadFixture{
		st:        st,
		threads:   app.NewThreads(st, nil),
		author:    newUser(t, st, "author@x.edu", domain.RoleStudent),
		community: c,
	}
}

func (f *threadFixture) discussion(t *testing.T, title string) *domain.Discussion {
	t.Helper()
	d, err := f.threads.CreateDiscussion(context.Background(), app.CreateDiscussionInput{
		Title: title, Content: "body of " + title, CommunityID: f.community.ID, AuthorID: f.author.ID,
	})
	if err != nil {
		t.Fatalf("CreateDiscussion() error = %v", err)
	}
	return d
}

func (f *threadFixture) message(t *testing.T, d domain.DiscussionID, content string, at time.Time, parent *domain.MessageID) *domain.Message {
	t.Helper()
	m, err := domain.NewMessage(d, content, f.author.ID, parent, at)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.st.CreateMessage(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCreateDiscussion(t *testing.T) {
	f := newThreadFixture(t)
	d := f.discussion(t, "<i>Go</i> meetup")
	if d.ID == "" || d.Title != "Go meetup" || d.Author == nil || d.Community == nil {
		t.Fatalf("CreateDiscussion() = %+v", d)
	}

	tests := []struct {
		name string
		in   app.CreateDiscussionInput
		want error
	}{
		{"missing title", app.CreateDiscussionInput{Content: "c", CommunityID: f.community.ID, AuthorID: f.author.ID}, domain.ErrValidation},
		{"unknown author", app.CreateDiscussionInput{Title: "t", Content: "c", CommunityID: f.community.ID, AuthorID: "ghost"}, domain.ErrNotFound},
		{"unknown community", app.CreateDiscussionInput{Title: "t", Content: "c", CommunityID: "nope", AuthorID: f.author.ID}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.threads.CreateDiscussion(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("CreateDiscussion() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetDiscussionPaging(t *testing.T) {
	f := newThreadFixture(t)
	d := f.discussion(t, "paging")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := f.message(t, d.ID, "first", base, nil)
	f.message(t, d.ID, "second", base.Add(time.Minute), nil)
	f.message(t, d.ID, "third", base.Add(2*time.Minute), nil)
	f.message(t, d.ID, "reply later", base.Add(4*time.Minute), &first.ID)
	f.message(t, d.ID, "reply early", base.Add(3*time.Minute), &first.ID)

	ctx := context.Background()
	page1, err := f.threads.GetDiscussion(ctx, d.ID, 1, 2)
	if err != nil {
		t.Fatalf("GetDiscussion(page 1) error = %v", err)
	}
	if len(page1.Messages) != 2 || page1.Messages[0].Content != "third" || page1.Messages[1].Content != "second" {
		t.Fatalf("page 1 = %+v, want third, second", page1.Messages)
	}
	if page1.Author == nil || page1.Community == nil {
		t.Fatal("discussion should embed author and community")
	}

	page2, err := f.threads.GetDiscussion(ctx, d.ID, 2, 2)
	if err != nil {
		t.Fatalf("GetDiscussion(page 2) error = %v", err)
	}
	if len(page2.Messages) != 1 || page2.Messages[0].ID != first.ID {
		t.Fatalf("page 2 = %+v, want first", page2.Messages)
	}
	replies := page2.Messages[0].Replies
	if len(replies) != 2 || replies[0].Content != "reply early" || replies[1].Content != "reply later" {
		t.Fatalf("replies = %+v, want oldest first", replies)
	}
	if replies[0].Author == nil {
		t.Fatal("replies should embed their author")
	}

	defaults, err := f.threads.GetDiscussion(ctx, d.ID, 0, 0)
	if err != nil || len(defaults.Messages) != 3 {
		t.Fatalf("GetDiscussion(defaults) = %d messages, %v", len(defaults.Messages), err)
	}
	empty, err := f.threads.GetDiscussion(ctx, d.ID, 5, 2)
	if err != nil || empty.Messages == nil || len(empty.Messages) != 0 {
		t.Fatalf("GetDiscussion(past end) = %+v, %v", empty, err)
	}

	if _, err := f.threads.GetDiscussion(ctx, "missing", 1, 20); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetDiscussion(missing) error = %v", err)
	}
}

func TestNewPaging(t *testing.T) {
	tests := []struct {
		page, size int
		want       app.Paging
	}{
		{0, 0, app.Paging{Page: 1, Size: 20, Offset: 0}},
		{3, 10, app.Paging{Page: 3, Size: 10, Offset: 20}},
		{-1, 500, app.Paging{Page: 1, Size: 100, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.page, tt.size), func(t *testing.T) {
			if got := app.NewPaging(tt.page, tt.size, app.DefaultPageSize); got != tt.want {
				t.Fatalf("NewPaging() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type stubIndex struct {
	queries []string
	indexed []domain.DiscussionID
}

func (s *stubIndex) Search(_ context.Context, q string) ([]domain.Discussion, error) {
	s.queries = append(s.queries, q)
	return []domain.Discussion{}, nil
}

func (s *stubIndex) Index(d domain.Discussion) { s.indexed = append(s.indexed, d.ID) }

func TestSearchResultsAreCapped(t *testing.T) {
	f := newThreadFixture(t)
	for i := 0; i < app.MaxSearchResults+5; i++ {
		f.discussion(t, fmt.Sprintf("Robotics meetup %d", i))
	}
	found, err := f.threads.Search(context.Background(), "robotics")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(found) != app.MaxSearchResults {
		t.Fatalf("Search() returned %d, want %d", len(found), app.MaxSearchResults)
	}
}

func TestSearch(t *testing.T) {
	f := newThreadFixture(t)
	d := f.discussion(t, "Kubernetes study group")
	f.discussion(t, "Chess club")
	f.message(t, d.ID, "see you there", time.Now(), nil)

	found, err := f.threads.Search(context.Background(), "KUBER")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != d.ID || found[0].MessageCount == nil || *found[0].MessageCount != 1 {
		t.Fatalf("Search() = %+v", found)
	}
	if _, err := f.threads.Search(context.Background(), "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Search(blank) error = %v", err)
	}

	idx := &stubIndex{}
	indexed := app.NewThreads(f.st, idx)
	created, err := indexed.CreateDiscussion(context.Background(), app.CreateDiscussionInput{
		Title: "t", Content: "c", CommunityID: f.community.ID, AuthorID: f.author.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := indexed.Search(context.Background(), "chess"); err != nil {
		t.Fatal(err)
	}
	if len(idx.queries) != 1 || len(idx.indexed) != 1 || idx.indexed[0] != created.ID {
		t.Fatalf("index saw queries=%v indexed=%v", idx.queries, idx.indexed)
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func TestPublishNews(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	staff := newUser(t, st, "staff@x.edu", domain.RoleStaff)
	student := newUser(t, st, "student@x.edu", domain.RoleStudent)
	notifier := &recordingNotifier{}
	news := app.NewNews(st, notifier)

	n, err := news.Publish(ctx, staff, "Exams moved", "to June")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n.ID == "" || n.Author == nil {
		t.Fatalf("Publish() = %+v", n)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != (domain.Notification{Title: app.NewsAlertTitle, Body: "Exams moved"}) {
		t.Fatalf("notifications = %+v", notifier.sent)
	}

	if _, err := news.Publish(ctx, student, "x", "y"); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("student Publish() error = %v", err)
	}
	if _, err := news.Publish(ctx, staff, "", "y"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("untitled Publish() error = %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatal("failed publishes must not notify")
	}

	list, err := news.List(ctx)
	if err != nil || len(list) != 1 || list[0].Author == nil {
		t.Fatalf("List() = %+v, %v", list, err)
	}
}

func TestCommunities(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := app.NewCommunities(st, st)

	c, err := svc.Create(ctx, "Robotics", "robots")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Create(ctx, "Robotics", "again"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate Create() error = %v", err)
	}
	if _, err := svc.Discussions(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Discussions(missing) error = %v", err)
	}
	list, err := svc.Discussions(ctx, c.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("Discussions() = %+v, %v", list, err)
	}
	all, err := svc.List(ctx)
	if err != nil || len(all) != 1 || all[0].Members == nil {
		t.Fatalf("List() = %+v, %v", all, err)
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := app.NewSubscriptions(st)
	keys := domain.SubscriptionKeys{P256dh: "p", Auth: "a"}

	first, err := svc.Subscribe(ctx, "https://push.example/1", keys)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	again, err := svc.Subscribe(ctx, "https://push.example/1", domain.SubscriptionKeys{P256dh: "p2", Auth: "a2"})
	if err != nil || again.ID != first.ID {
		t.Fatalf("re-Subscribe() = %+v, %v", again, err)
	}
	subs, _ := st.ListSubscriptions(ctx)
	if len(subs) != 1 || subs[0].Keys.P256dh != "p2" {
		t.Fatalf("subscriptions = %+v", subs)
	}
	if _, err := svc.Subscribe(ctx, "http://insecure", keys); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Subscribe(http) error = %v", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"<b>hi</b>":                      "hi",
		"  a & b  ":                      "a &amp; b",
		"a &amp; b":                      "a &amp; b",
		"<p>x</p><br/>":                  "x",
		"plain":                          "plain",
		"&lt;script&gt;x&lt;/script&gt;": "",
		"<b>x</b>&lt;i&gt;":              "x",
		"&lt;img src=x onerror=y&gt;hi":  "hi",
	}
	for in, want := range tests {
		if got := app.Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
		if strings.ContainsAny(app.Sanitize(in), "<>") {
			t.Errorf("Sanitize(%q) left markup", in)
		}
	}
}
