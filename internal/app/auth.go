package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 7 * 24 * time.Hour

// Claims is the JWT payload. UserID is the subject.
type Claims struct {
	UserID string      `json:"id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 tokens and resolves them to users.
// It is shared by the HTTP middleware and the websocket handshake.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  UserStore
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, users UserStore) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, users: users, now: time.Now}
}

func (a *Authenticator) IssueToken(u *domain.User) (string, error) {
	now := a.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: string(u.ID),
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies signature and expiry and loads the subject. Every
// rejection wraps domain.ErrAuthentication; store failures pass through.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", domain.ErrAuthentication)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", domain.ErrAuthentication)
		}
		return nil, fmt.Errorf("%w: invalid token", domain.ErrAuthentication)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	u, err := a.users.UserByID(ctx, domain.UserID(claims.UserID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrAuthentication)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// RequireRole fails with domain.ErrAuthorization unless u holds one of roles.
func RequireRole(u *domain.User, roles ...domain.Role) error {
	if u == nil {
		return fmt.Errorf("%w: missing identity", domain.ErrAuthentication)
	}
	if slices.Contains(roles, u.Role) {
		return nil
	}
	return fmt.Errorf("%w: role %s is not allowed", domain.ErrAuthorization, u.Role)
}
