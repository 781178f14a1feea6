package orch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/core"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/dkeye/Campus/internal/store/memstore"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Envelope
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return errors.New("buffer full")
	}
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) events(t EventType) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Envelope
	for _, e := range c.frames {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store *memstore.Store
	orch  *Orchestrator
	alice *domain.User
	bob   *domain.User
	admin *domain.User
	d1    *domain.Discussion
	d2    *domain.Discussion
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	f := &fixture{store: st}

	for _, u := range []**domain.User{&f.alice, &f.bob, &f.admin} {
		*u = &domain.User{Name: "user", Role: domain.RoleStudent}
	}
	f.alice.Email, f.bob.Email, f.admin.Email = "alice@campus.edu", "bob@campus.edu", "admin@campus.edu"
	f.admin.Role = domain.RoleAdmin
	for _, u := range []*domain.User{f.alice, f.bob, f.admin} {
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	c := &domain.Community{Name: "Open Source"}
	if err := st.CreateCommunity(ctx, c); err != nil {
		t.Fatalf("CreateCommunity: %v", err)
	}
	for _, d := range []**domain.Discussion{&f.d1, &f.d2} {
		*d = &domain.Discussion{Title: "t", Content: "c", CommunityID: c.ID, AuthorID: f.alice.ID}
		if err := st.CreateDiscussion(ctx, *d); err != nil {
			t.Fatalf("CreateDiscussion: %v", err)
		}
	}

	f.orch = New(core.NewRegistry(), st, app.KickPolicy{})
	return f
}

func (f *fixture) connect(t *testing.T, sid core.SessionID, u *domain.User, rooms ...domain.DiscussionID) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	f.orch.Attach(sid, conn, u)
	for _, r := range rooms {
		if err := f.orch.Join(sid, r); err != nil {
			t.Fatalf("Join(%s): %v", r, err)
		}
	}
	return conn
}

func TestIngestBroadcastsOnlyToRoomMembers(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a", f.alice, f.d1.ID)
	b := f.connect(t, "b", f.bob, f.d1.ID)
	c := f.connect(t, "c", f.bob, f.d2.ID)

	msg, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if msg.ID == "" || msg.Author == nil || msg.Author.ID != f.alice.ID {
		t.Fatalf("Ingest() returned %+v, want persisted message with author", msg)
	}

	for name, conn := range map[string]*fakeConn{"a": a, "b": b} {
		got := conn.events(EventNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s received %d newMessage events, want 1", name, len(got))
		}
		var m domain.Message
		if err := json.Unmarshal(got[0].Data, &m); err != nil {
			t.Fatalf("decode newMessage: %v", err)
		}
		if m.Content != "hi" || m.ID != msg.ID || m.Replies == nil {
			t.Fatalf("%s got %+v", name, m)
		}
	}
	if got := c.events(EventNewMessage); len(got) != 0 {
		t.Fatalf("member of another room received %d events", len(got))
	}

	thread, err := f.store.TopLevelMessages(context.Background(), f.d1.ID, 0, 10)
	if err != nil || len(thread) != 1 {
		t.Fatalf("stored messages = %d, %v; want exactly one", len(thread), err)
	}
}

type failingMessages struct {
	*memstore.Store
}

func (failingMessages) CreateMessage(context.Context, *domain.Message) error {
	return domain.ErrPersistence
}

func TestIngestPersistFailureSuppressesBroadcast(t *testing.T) {
	f := newFixture(t)
	f.orch.Messages = failingMessages{f.store}
	a := f.connect(t, "a", f.alice, f.d1.ID)

	_, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Ingest() error = %v, want ErrPersistence", err)
	}
	if got := a.events(EventNewMessage); len(got) != 0 {
		t.Fatalf("broadcast happened despite persist failure: %d events", len(got))
	}
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d2.ID, Content: "elsewhere", AuthorID: f.bob.ID})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	missing := domain.MessageID("missing")

	tests := []struct {
		name string
		in   IngestInput
		want error
	}{
		{"empty content", IngestInput{DiscussionID: f.d1.ID, Content: "  ", AuthorID: f.alice.ID}, domain.ErrValidation},
		{"markup only", IngestInput{DiscussionID: f.d1.ID, Content: "<br/>", AuthorID: f.alice.ID}, domain.ErrValidation},
		{"empty discussion", IngestInput{Content: "hi", AuthorID: f.alice.ID}, domain.ErrValidation},
		{"unknown author", IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: "ghost"}, domain.ErrNotFound},
		{"unknown discussion", IngestInput{DiscussionID: "nope", Content: "hi", AuthorID: f.alice.ID}, domain.ErrNotFound},
		{"missing parent", IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID, ParentMessageID: &missing}, domain.ErrValidation},
		{"parent in other discussion", IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID, ParentMessageID: &other.ID}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.orch.Ingest(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("Ingest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIngestStripsMarkup(t *testing.T) {
	f := newFixture(t)
	msg, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "<b>bold</b> & plain", AuthorID: f.alice.ID})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if msg.Content != "bold &amp; plain" {
		t.Fatalf("Content = %q", msg.Content)
	}
}

func TestIngestNeverStoresEncodedMarkup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.orch.Ingest(ctx, IngestInput{
		DiscussionID: f.d1.ID,
		Content:      "<b>x</b>&lt;script&gt;alert(1)&lt;/script&gt;",
		AuthorID:     f.alice.ID,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	stored, err := f.store.MessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(stored.Content, "<>") || stored.Content != "x" {
		t.Fatalf("stored content = %q", stored.Content)
	}

	if _, err := f.orch.Ingest(ctx, IngestInput{
		DiscussionID: f.d1.ID,
		Content:      "&lt;script&gt;alert(1)&lt;/script&gt;",
		AuthorID:     f.alice.ID,
	}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("markup-only content error = %v, want ErrValidation", err)
	}

	updated, err := f.orch.UpdateMessage(ctx, msg.ID, f.alice.ID, "ok &lt;iframe src=x&gt;")
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(updated.Content, "<>") {
		t.Fatalf("updated content = %q", updated.Content)
	}
}

func TestReplyAppearsUnderParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d1.ID, Content: "root", AuthorID: f.alice.ID})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d1.ID, Content: "reply", AuthorID: f.bob.ID, ParentMessageID: &root.ID})
	if err != nil {
		t.Fatal(err)
	}
	nested, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d1.ID, Content: "nested", AuthorID: f.alice.ID, ParentMessageID: &reply.ID})
	if err != nil {
		t.Fatal(err)
	}
	if nested.ParentMessageID == nil || *nested.ParentMessageID != reply.ID {
		t.Fatalf("parent should be stored as given, got %v", nested.ParentMessageID)
	}
	stored, err := f.store.MessageByID(ctx, nested.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ParentMessageID == nil || *stored.ParentMessageID != reply.ID {
		t.Fatalf("stored parent = %v, want %s", stored.ParentMessageID, reply.ID)
	}

	second, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d1.ID, Content: "second", AuthorID: f.alice.ID, ParentMessageID: &root.ID})
	if err != nil {
		t.Fatal(err)
	}

	top, err := f.store.TopLevelMessages(ctx, f.d1.ID, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || len(top[0].Replies) != 2 {
		t.Fatalf("thread = %+v, want one root with two direct replies", top)
	}
	if top[0].Replies[0].ID != reply.ID || top[0].Replies[1].ID != second.ID {
		t.Fatal("replies should be oldest first")
	}
}

func TestUpdateMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d1.ID, Content: "first", AuthorID: f.alice.ID})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.UpdateMessage(ctx, msg.ID, f.bob.ID, "hijack"); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("non-author update error = %v, want ErrAuthorization", err)
	}
	if _, err := f.orch.UpdateMessage(ctx, msg.ID, f.admin.ID, "admin edit"); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("admin update error = %v, want ErrAuthorization", err)
	}
	stored, _ := f.store.MessageByID(ctx, msg.ID)
	if stored.Content != "first" {
		t.Fatalf("content changed to %q after rejected edits", stored.Content)
	}

	updated, err := f.orch.UpdateMessage(ctx, msg.ID, f.alice.ID, "second")
	if err != nil || updated.Content != "second" {
		t.Fatalf("author update = %+v, %v", updated, err)
	}
	if _, err := f.orch.UpdateMessage(ctx, "missing", f.alice.ID, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing update error = %v, want ErrNotFound", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ingest := func(content string) *domain.Message {
		m, err := f.orch.Ingest(ctx, IngestInput{DiscussionID: f.d1.ID, Content: content, AuthorID: f.alice.ID})
		if err != nil {
			t.Fatal(err)
		}
		return m
	}
	byAuthor, byAdmin := ingest("one"), ingest("two")

	if err := f.orch.DeleteMessage(ctx, byAuthor.ID, f.bob.ID, domain.RoleStaff); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("stranger delete error = %v, want ErrAuthorization", err)
	}
	if err := f.orch.DeleteMessage(ctx, byAuthor.ID, f.alice.ID, domain.RoleStudent); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if err := f.orch.DeleteMessage(ctx, byAdmin.ID, f.admin.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	top, _ := f.store.TopLevelMessages(ctx, f.d1.ID, 0, 20)
	if len(top) != 0 {
		t.Fatalf("deleted messages still listed: %+v", top)
	}
	if err := f.orch.DeleteMessage(ctx, byAdmin.ID, f.admin.ID, domain.RoleAdmin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestSlowSessionIsKicked(t *testing.T) {
	f := newFixture(t)
	fast := f.connect(t, "fast", f.alice, f.d1.ID)
	slow := f.connect(t, "slow", f.bob, f.d1.ID)
	slow.full = true

	res := f.orch.Deliver(core.RoomID(f.d1.ID), mustEncode(EventPong, nil))
	if res.SentTo != 1 || len(res.Dropped) != 1 {
		t.Fatalf("Deliver() = %+v", res)
	}
	if !slow.closed {
		t.Fatal("slow connection should be closed")
	}
	if f.orch.Rooms.IsMember("slow", core.RoomID(f.d1.ID)) {
		t.Fatal("slow session should have lost its membership")
	}
	if !f.orch.Rooms.IsMember("fast", core.RoomID(f.d1.ID)) || fast.closed {
		t.Fatal("fast session should be untouched")
	}
}

type recordingRelay struct {
	mu     sync.Mutex
	frames map[core.RoomID]int
	err    error
}

func (r *recordingRelay) Publish(_ context.Context, room core.RoomID, _ core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.frames == nil {
		r.frames = make(map[core.RoomID]int)
	}
	r.frames[room]++
	return nil
}

func TestIngestUsesRelayWhenConfigured(t *testing.T) {
	f := newFixture(t)
	relay := &recordingRelay{}
	f.orch.Relay = relay
	a := f.connect(t, "a", f.alice, f.d1.ID)

	if _, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID}); err != nil {
		t.Fatal(err)
	}
	if relay.frames[core.RoomID(f.d1.ID)] != 1 {
		t.Fatalf("relay frames = %v", relay.frames)
	}
	if got := a.events(EventNewMessage); len(got) != 0 {
		t.Fatal("local broadcast should wait for the relay")
	}

	relay.err = errors.New("redis down")
	if _, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "again", AuthorID: f.alice.ID}); err != nil {
		t.Fatal(err)
	}
	if got := a.events(EventNewMessage); len(got) != 1 {
		t.Fatalf("fallback delivered %d events, want 1", len(got))
	}
}

func TestHandleSendAcksSenderAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	sender := f.connect(t, "sender", f.alice, f.d1.ID)
	peer := f.connect(t, "peer", f.bob, f.d1.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.orch.Handle(ctx, "sender", SendMessage{DiscussionID: f.d1.ID, Content: "from socket"})

	if got := sender.events(EventMessageAck); len(got) != 1 {
		t.Fatalf("sender acks = %d, want 1", len(got))
	}
	if got := peer.events(EventNewMessage); len(got) != 1 {
		t.Fatalf("peer newMessage = %d, want 1", len(got))
	}
	if got := peer.events(EventMessageAck); len(got) != 0 {
		t.Fatal("ack must only reach the sender")
	}
}

func TestHandleSendFailureNotifiesSenderOnly(t *testing.T) {
	f := newFixture(t)
	sender := f.connect(t, "sender", f.alice, f.d1.ID)
	peer := f.connect(t, "peer", f.bob, f.d1.ID)

	f.orch.Handle(context.Background(), "sender", SendMessage{DiscussionID: "missing", Content: "x"})

	if got := sender.events(EventError); len(got) != 1 {
		t.Fatalf("sender errors = %d, want 1", len(got))
	}
	if len(peer.events(EventError))+len(peer.events(EventNewMessage)) != 0 {
		t.Fatal("peer must not hear about a failed send")
	}
}

func TestJoinConfirmsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t, "s", f.alice)

	for i := 0; i < 2; i++ {
		f.orch.Handle(context.Background(), "s", JoinDiscussion{DiscussionID: f.d1.ID})
	}
	confirms := conn.events(EventJoinConfirmation)
	if len(confirms) != 2 {
		t.Fatalf("confirmations = %d, want 2", len(confirms))
	}
	var jc JoinConfirmation
	if err := json.Unmarshal(confirms[0].Data, &jc); err != nil {
		t.Fatal(err)
	}
	if jc.Status != JoinStatusSuccess || jc.DiscussionID != f.d1.ID {
		t.Fatalf("confirmation = %+v", jc)
	}
	if n := len(f.orch.Rooms.Members(core.RoomID(f.d1.ID))); n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}

	if err := f.orch.Join("s", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty join error = %v", err)
	}
	if got := conn.events(EventError); len(got) != 1 {
		t.Fatalf("errors = %d, want 1", len(got))
	}
}

func TestDisconnectedSessionMissesLaterMessages(t *testing.T) {
	f := newFixture(t)
	gone := f.connect(t, "gone", f.bob, f.d1.ID, f.d2.ID)
	f.orch.Disconnect("gone")

	for _, d := range []domain.DiscussionID{f.d1.ID, f.d2.ID} {
		if _, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: d, Content: "later", AuthorID: f.alice.ID}); err != nil {
			t.Fatal(err)
		}
	}
	if got := gone.events(EventNewMessage); len(got) != 0 {
		t.Fatalf("disconnected session received %d messages", len(got))
	}
}

func TestIngestStampsIngestionTime(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.orch.Now = func() time.Time { return at }

	msg, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !msg.CreatedAt.Equal(at) {
		t.Fatalf("CreatedAt = %v, want %v", msg.CreatedAt, at)
	}
}

func TestSlowSessionIsKeptUnderTolerantPolicy(t *testing.T) {
	f := newFixture(t)
	f.orch.Policy = app.TolerantPolicy{}
	slow := f.connect(t, "slow", f.bob, f.d1.ID)
	slow.full = true

	if _, err := f.orch.Ingest(context.Background(), IngestInput{DiscussionID: f.d1.ID, Content: "hi", AuthorID: f.alice.ID}); err != nil {
		t.Fatal(err)
	}
	if slow.closed || !f.orch.Rooms.IsMember("slow", core.RoomID(f.d1.ID)) {
		t.Fatal("tolerant policy should keep the slow session")
	}
}
