package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Campus/internal/core"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

const JoinStatusSuccess = "success"

func (o *Orchestrator) Attach(sid core.SessionID, conn core.SignalConnection, user *domain.User) {
	o.Rooms.Attach(sid, conn, user)
}

// Join adds sid to the discussion room and confirms to the caller only.
func (o *Orchestrator) Join(sid core.SessionID, id domain.DiscussionID) error {
	if _, err := o.Rooms.Join(sid, core.RoomID(id)); err != nil {
		o.SendError(sid, err)
		return err
	}
	o.send(sid, EventJoinConfirmation, JoinConfirmation{Status: JoinStatusSuccess, DiscussionID: id})
	return nil
}

func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Rooms.Disconnect(sid)
}

// Handle dispatches one decoded command from a live session.
func (o *Orchestrator) Handle(ctx context.Context, sid core.SessionID, cmd Command) {
	switch c := cmd.(type) {
	case JoinDiscussion:
		_ = o.Join(sid, c.DiscussionID)
	case SendMessage:
		o.handleSend(ctx, sid, c)
	case Ping:
		o.send(sid, EventPong, nil)
	}
}

// handleSend runs ingestion detached from the connection so that a client
// hanging up mid-send does not abort persistence.
func (o *Orchestrator) handleSend(ctx context.Context, sid core.SessionID, c SendMessage) {
	user, ok := o.Rooms.User(sid)
	if !ok {
		return
	}
	timeout := o.IngestTimeout
	if timeout <= 0 {
		timeout = DefaultIngestTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	msg, err := o.Ingest(ctx, IngestInput{
		DiscussionID:    c.DiscussionID,
		Content:         c.Content,
		AuthorID:        user.ID,
		ParentMessageID: c.ParentMessageID,
	})
	if err != nil {
		o.SendError(sid, err)
		return
	}
	o.send(sid, EventMessageAck, msg)
}

// SendError reports a failure to one session. Persistence and unexpected
// errors are reported generically.
func (o *Orchestrator) SendError(sid core.SessionID, err error) {
	o.send(sid, EventError, ErrorEvent{Message: PublicMessage(err)})
}

func (o *Orchestrator) send(sid core.SessionID, t EventType, data any) {
	if err := o.Rooms.Send(sid, mustEncode(t, data)); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Str("event", string(t)).Msg("send to session failed")
	}
}

// PublicMessage is the text shown to clients for err.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrAuthentication),
		errors.Is(err, domain.ErrAuthorization),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return "internal error"
	}
}
