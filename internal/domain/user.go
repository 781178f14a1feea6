// Package domain contains entities without transport or storage logic.
package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxNameLen  = 100
	MaxEmailLen = 254
)

type UserID string

type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// ParseRole maps an optional role string onto the closed role set.
// An empty value means the default student role.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case "":
		return RoleStudent, nil
	case RoleStudent, RoleStaff, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
}

type User struct {
	ID           UserID       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         Role         `json:"role"`
	Age          *int         `json:"age,omitempty"`
	Education    *string      `json:"education,omitempty"`
	CommunityID  *CommunityID `json:"communityId,omitempty"`
	Community    *Community   `json:"community,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// NormalizeEmail lower-cases and trims an address; uniqueness is checked on this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName checks a display name the same way on signup and profile updates.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len([]rune(name)) > MaxNameLen {
		return "", fmt.Errorf("%w: name too long", ErrValidation)
	}
	return name, nil
}

// ProfileUpdate carries the whitelisted profile fields; nil means unchanged.
type ProfileUpdate struct {
	Name        *string
	Age         *int
	Education   *string
	CommunityID *CommunityID
}
