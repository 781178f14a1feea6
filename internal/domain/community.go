package domain

import "time"

type CommunityID string

type Community struct {
	ID          CommunityID `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Members     []User      `json:"members,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}
