package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/dkeye/Campus/internal/store/memstore"
	"github.com/golang-jwt/jwt/v5"
)

func newUser(t *testing.T, st *memstore.Store, email string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{Name: "Test User", Email: email, Role: role}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestAuthenticateRoundTrip(t *testing.T) {
	st := memstore.New()
	u := newUser(t, st, "a@campus.edu", domain.RoleStaff)
	auth := app.NewAuthenticator("secret", time.Hour, st)

	token, err := auth.IssueToken(u)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	got, err := auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != u.ID || got.Role != domain.RoleStaff {
		t.Fatalf("Authenticate() = %+v, want %s", got, u.ID)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	st := memstore.New()
	u := newUser(t, st, "a@campus.edu", domain.RoleStudent)
	auth := app.NewAuthenticator("secret", time.Hour, st)

	sign := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", sign(app.Claims{UserID: string(u.ID), RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(future)}}, jwt.SigningMethodHS256, []byte("other"))},
		{"expired", sign(app.Claims{UserID: string(u.ID), RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(past)}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"no expiry", sign(app.Claims{UserID: string(u.ID)}, jwt.SigningMethodHS256, []byte("secret"))},
		{"unknown subject", sign(app.Claims{UserID: "ghost", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(future)}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"no subject", sign(app.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(future)}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"wrong algorithm", sign(app.Claims{UserID: string(u.ID), RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(future)}}, jwt.SigningMethodHS384, []byte("secret"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(context.Background(), tt.token)
			if !errors.Is(err, domain.ErrAuthentication) {
				t.Fatalf("Authenticate() error = %v, want ErrAuthentication", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc ": "abc",
		"Basic abc":   "",
		"":            "",
		"Bearer ":     "",
	}
	for header, want := range tests {
		if got := app.BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestRequireRole(t *testing.T) {
	staff := &domain.User{Role: domain.RoleStaff}
	if err := app.RequireRole(staff, domain.RoleAdmin, domain.RoleStaff); err != nil {
		t.Fatalf("RequireRole(staff) error = %v", err)
	}
	if err := app.RequireRole(&domain.User{Role: domain.RoleStudent}, domain.RoleAdmin); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("RequireRole(student) error = %v, want ErrAuthorization", err)
	}
	if err := app.RequireRole(nil, domain.RoleAdmin); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("RequireRole(nil) error = %v, want ErrAuthentication", err)
	}
}
