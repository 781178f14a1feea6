package orch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/Campus/internal/core"
	"github.com/dkeye/Campus/internal/domain"
)

type EventType string

// Client to server.
const (
	EventJoinDiscussion EventType = "joinDiscussion"
	EventSendMessage    EventType = "sendMessage"
	EventPing           EventType = "ping"
)

// Server to client.
const (
	EventJoinConfirmation EventType = "join-confirmation"
	EventNewMessage       EventType = "newMessage"
	EventMessageAck       EventType = "message-ack"
	EventError            EventType = "error"
	EventPong             EventType = "pong"
)

// Envelope is the wire shape of every event in both directions.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is a validated inbound event. The set is closed: JoinDiscussion,
// SendMessage and Ping.
type Command interface {
	command()
}

type JoinDiscussion struct {
	DiscussionID domain.DiscussionID
}

type SendMessage struct {
	DiscussionID    domain.DiscussionID `json:"discussionId"`
	Content         string              `json:"content"`
	ParentMessageID *domain.MessageID   `json:"parentMessageId,omitempty"`
}

type Ping struct{}

func (JoinDiscussion) command() {}
func (SendMessage) command()    {}
func (Ping) command()           {}

type JoinConfirmation struct {
	Status       string              `json:"status"`
	DiscussionID domain.DiscussionID `json:"discussionId"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// Decode parses and validates one inbound frame. Failures wrap domain.ErrValidation.
func Decode(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed event", domain.ErrValidation)
	}
	switch env.Type {
	case EventJoinDiscussion:
		id, err := decodeJoin(env.Data)
		if err != nil {
			return nil, err
		}
		return JoinDiscussion{DiscussionID: id}, nil
	case EventSendMessage:
		var m SendMessage
		if len(env.Data) == 0 || json.Unmarshal(env.Data, &m) != nil {
			return nil, fmt.Errorf("%w: sendMessage expects {discussionId, content}", domain.ErrValidation)
		}
		if strings.TrimSpace(string(m.DiscussionID)) == "" || strings.TrimSpace(m.Content) == "" {
			return nil, fmt.Errorf("%w: discussion id and content are required", domain.ErrValidation)
		}
		return m, nil
	case EventPing:
		return Ping{}, nil
	case "":
		return nil, fmt.Errorf("%w: event type is required", domain.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrValidation, env.Type)
	}
}

// decodeJoin accepts either a bare string id or {"discussionId": id}.
func decodeJoin(data json.RawMessage) (domain.DiscussionID, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			DiscussionID string `json:"discussionId"`
		}
		if json.Unmarshal(data, &obj) != nil {
			return "", fmt.Errorf("%w: discussion id is required", domain.ErrValidation)
		}
		id = obj.DiscussionID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: discussion id is required", domain.ErrValidation)
	}
	return domain.DiscussionID(id), nil
}

// Encode builds an outbound frame.
func Encode(t EventType, data any) (core.Frame, error) {
	env := Envelope{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func mustEncode(t EventType, data any) core.Frame {
	f, err := Encode(t, data)
	if err != nil {
		panic(err)
	}
	return f
}
