package domain

import (
	"fmt"
	"strings"
	"time"
)

type DiscussionID string

// Discussion is the root of a message thread. It is never edited after creation.
type Discussion struct {
	ID           DiscussionID `json:"id"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	CommunityID  CommunityID  `json:"communityId"`
	AuthorID     UserID       `json:"authorId"`
	Author       *User        `json:"author,omitempty"`
	Community    *Community   `json:"community,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	MessageCount *int         `json:"messageCount,omitempty"`
}

// Thread is a discussion with one page of its top-level messages.
type Thread struct {
	Discussion
	Messages []Message `json:"messages"`
}

func NewDiscussion(title, content string, communityID CommunityID, authorID UserID) (*Discussion, error) {
	d := &Discussion{
		Title:       strings.TrimSpace(title),
		Content:     strings.TrimSpace(content),
		CommunityID: CommunityID(strings.TrimSpace(string(communityID))),
		AuthorID:    UserID(strings.TrimSpace(string(authorID))),
	}
	if d.Title == "" || d.Content == "" || d.CommunityID == "" || d.AuthorID == "" {
		return nil, fmt.Errorf("%w: title, content, authorId and communityId are required", ErrValidation)
	}
	return d, nil
}
