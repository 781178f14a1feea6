package domain

import (
	"fmt"
	"strings"
	"time"
)

type NewsID string

type News struct {
	ID        NewsID    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	AuthorID  UserID    `json:"authorId"`
	Author    *User     `json:"author,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewNews(title, content string, authorID UserID) (*News, error) {
	n := &News{
		Title:    strings.TrimSpace(title),
		Content:  strings.TrimSpace(content),
		AuthorID: authorID,
	}
	if n.Title == "" || n.Content == "" || n.AuthorID == "" {
		return nil, fmt.Errorf("%w: title, content, and authorId are required", ErrValidation)
	}
	return n, nil
}
