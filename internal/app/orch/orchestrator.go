// Package orch wires the room registry to message persistence. It owns the
// persist-then-broadcast path shared by the HTTP and websocket transports.
package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/core"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultIngestTimeout = 10 * time.Second

// Relay carries encoded room frames to every node, this one included.
type Relay interface {
	Publish(ctx context.Context, room core.RoomID, f core.Frame) error
}

type IngestInput struct {
	DiscussionID    domain.DiscussionID
	Content         string
	AuthorID        domain.UserID
	ParentMessageID *domain.MessageID
}

type Orchestrator struct {
	Rooms       *core.Registry
	Users       app.UserStore
	Discussions app.DiscussionStore
	Messages    app.MessageStore
	Policy      app.Policy
	// Relay is nil on a single node.
	Relay         Relay
	Now           func() time.Time
	IngestTimeout time.Duration
}

func New(rooms *core.Registry, gw app.Gateway, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Rooms:         rooms,
		Users:         gw,
		Discussions:   gw,
		Messages:      gw,
		Policy:        policy,
		Now:           time.Now,
		IngestTimeout: DefaultIngestTimeout,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now().UTC()
}

// Ingest validates, persists and then fans out a message. Nothing is
// broadcast when persistence fails.
func (o *Orchestrator) Ingest(ctx context.Context, in IngestInput) (*domain.Message, error) {
	msg, err := domain.NewMessage(in.DiscussionID, app.Sanitize(in.Content), in.AuthorID, in.ParentMessageID, o.now())
	if err != nil {
		return nil, err
	}
	author, err := o.Users.UserByID(ctx, msg.AuthorID)
	if err != nil {
		return nil, err
	}
	if _, err := o.Discussions.DiscussionByID(ctx, msg.DiscussionID); err != nil {
		return nil, err
	}
	if msg.ParentMessageID != nil {
		if err := o.checkParent(ctx, msg.DiscussionID, *msg.ParentMessageID); err != nil {
			return nil, err
		}
	}
	if err := o.Messages.CreateMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("discussion", string(msg.DiscussionID)).Msg("persist message failed")
		return nil, err
	}

	author.PasswordHash = ""
	author.Community = nil
	msg.Author = author
	msg.Replies = []domain.Message{}

	o.fanOut(ctx, core.RoomID(msg.DiscussionID), mustEncode(EventNewMessage, msg))
	log.Debug().Str("module", "app.orch").Str("discussion", string(msg.DiscussionID)).Str("message", string(msg.ID)).Msg("message ingested")
	return msg, nil
}

// checkParent requires the parent to exist in the same discussion. The parent
// id is stored as given.
func (o *Orchestrator) checkParent(ctx context.Context, discussion domain.DiscussionID, parentID domain.MessageID) error {
	parent, err := o.Messages.MessageByID(ctx, parentID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: parent message %s not found", domain.ErrValidation, parentID)
	}
	if err != nil {
		return err
	}
	if parent.DiscussionID != discussion {
		return fmt.Errorf("%w: parent message belongs to another discussion", domain.ErrValidation)
	}
	return nil
}

// UpdateMessage edits content; only the author may edit.
func (o *Orchestrator) UpdateMessage(ctx context.Context, id domain.MessageID, authorID domain.UserID, content string) (*domain.Message, error) {
	content, err := domain.ValidateContent(app.Sanitize(content))
	if err != nil {
		return nil, err
	}
	existing, err := o.Messages.MessageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.AuthorID != authorID {
		return nil, fmt.Errorf("%w: only the author can edit a message", domain.ErrAuthorization)
	}
	return o.Messages.UpdateMessageContent(ctx, id, content)
}

// DeleteMessage removes a message for its author or any admin.
func (o *Orchestrator) DeleteMessage(ctx context.Context, id domain.MessageID, requester domain.UserID, role domain.Role) error {
	existing, err := o.Messages.MessageByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.AuthorID != requester && role != domain.RoleAdmin {
		return fmt.Errorf("%w: only the author or an admin can delete a message", domain.ErrAuthorization)
	}
	return o.Messages.DeleteMessage(ctx, id)
}

func (o *Orchestrator) fanOut(ctx context.Context, room core.RoomID, f core.Frame) {
	if o.Relay != nil {
		err := o.Relay.Publish(ctx, room, f)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(room)).Msg("relay publish failed, delivering locally")
	}
	o.Deliver(room, f)
}

// Deliver broadcasts to local room members and applies the backpressure
// policy to sessions that could not take the frame. Relays call it for
// every frame they receive.
func (o *Orchestrator) Deliver(room core.RoomID, f core.Frame) core.PublishResult {
	res := o.Rooms.Broadcast(room, f)
	if o.Policy == nil {
		return res
	}
	for _, sid := range res.Dropped {
		switch o.Policy.OnBackPressure(room, sid) {
		case app.KickMember:
			log.Warn().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(room)).Msg("kicking slow session")
			o.Kick(sid)
		case app.DropFrame, app.NoAction:
		}
	}
	return res
}

// Kick removes every membership of sid and closes its connection.
func (o *Orchestrator) Kick(sid core.SessionID) {
	conn, ok := o.Rooms.Connection(sid)
	o.Rooms.Disconnect(sid)
	if ok {
		conn.Close()
	}
}
