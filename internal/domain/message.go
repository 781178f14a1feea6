package domain

import (
	"fmt"
	"strings"
	"time"
)

const MaxMessageLen = 4000

type MessageID string

// Message belongs to one discussion. A nil ParentMessageID marks a top-level message.
type Message struct {
	ID              MessageID    `json:"id"`
	Content         string       `json:"content"`
	AuthorID        UserID       `json:"authorId"`
	Author          *User        `json:"author,omitempty"`
	DiscussionID    DiscussionID `json:"discussionId"`
	ParentMessageID *MessageID   `json:"parentMessageId"`
	CreatedAt       time.Time    `json:"createdAt"`
	Replies         []Message    `json:"replies"`
}

func (m *Message) IsTopLevel() bool { return m.ParentMessageID == nil }

// ValidateContent trims content and enforces the length bounds.
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len([]rune(content)) > MaxMessageLen {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxMessageLen)
	}
	return content, nil
}

// NewMessage builds an unsaved message stamped with the given ingestion time.
// An empty parent id is treated as top-level.
func NewMessage(discussionID DiscussionID, content string, authorID UserID, parentID *MessageID, now time.Time) (*Message, error) {
	if strings.TrimSpace(string(discussionID)) == "" {
		return nil, fmt.Errorf("%w: discussionId is required", ErrValidation)
	}
	if strings.TrimSpace(string(authorID)) == "" {
		return nil, fmt.Errorf("%w: authorId is required", ErrValidation)
	}
	content, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}
	if parentID != nil && strings.TrimSpace(string(*parentID)) == "" {
		parentID = nil
	}
	return &Message{
		Content:         content,
		AuthorID:        authorID,
		DiscussionID:    discussionID,
		ParentMessageID: parentID,
		CreatedAt:       now,
		Replies:         []Message{},
	}, nil
}
