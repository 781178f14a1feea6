package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 6
	// bcrypt rejects longer inputs.
	MaxPasswordLen  = 72
	DefaultUserPage = 10
)

var errBadCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrAuthentication)

type SignupInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// UserPage is one page of the user directory.
type UserPage struct {
	Users       []domain.User `json:"users"`
	Total       int           `json:"total"`
	TotalPages  int           `json:"totalPages"`
	CurrentPage int           `json:"currentPage"`
}

// Accounts covers signup, login, the user directory and profile edits.
type Accounts struct {
	users       UserStore
	communities CommunityStore
	auth        *Authenticator
	cost        int
}

func NewAccounts(users UserStore, communities CommunityStore, auth *Authenticator) *Accounts {
	return &Accounts{users: users, communities: communities, auth: auth, cost: bcrypt.DefaultCost}
}

// WithHashCost lowers the bcrypt cost, for tests and seeding.
func (a *Accounts) WithHashCost(cost int) *Accounts {
	a.cost = cost
	return a
}

// Signup creates a student or staff account and returns it with a token.
// Admin accounts are only provisioned by seeding.
func (a *Accounts) Signup(ctx context.Context, in SignupInput) (*domain.User, string, error) {
	name, err := domain.ValidateName(in.Name)
	if err != nil {
		return nil, "", err
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, "", err
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return nil, "", err
	}
	if role == domain.RoleAdmin {
		return nil, "", fmt.Errorf("%w: admin accounts cannot sign up", domain.ErrAuthorization)
	}
	u, err := a.createUser(ctx, name, email, in.Password, role)
	if err != nil {
		return nil, "", err
	}
	token, err := a.auth.IssueToken(u)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("module", "app.accounts").Str("user", string(u.ID)).Str("role", string(u.Role)).Msg("user signed up")
	return u, token, nil
}

func (a *Accounts) createUser(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return nil, fmt.Errorf("%w: password must be %d to %d characters", domain.ErrValidation, MinPasswordLen, MaxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &domain.User{Name: name, Email: email, PasswordHash: string(hash), Role: role}
	if err := a.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return nil, err
	}
	return u, nil
}

func (a *Accounts) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	u, err := a.users.UserByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", errBadCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", errBadCredentials
	}
	token, err := a.auth.IssueToken(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (a *Accounts) ListUsers(ctx context.Context, role string, page, limit int) (*UserPage, error) {
	var filter *domain.Role
	if role != "" {
		r, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		filter = &r
	}
	p := NewPaging(page, limit, DefaultUserPage)
	users, total, err := a.users.ListUsers(ctx, filter, p.Offset, p.Size)
	if err != nil {
		return nil, err
	}
	return &UserPage{
		Users:       users,
		Total:       total,
		TotalPages:  (total + p.Size - 1) / p.Size,
		CurrentPage: p.Page,
	}, nil
}

func (a *Accounts) UpdateProfile(ctx context.Context, id domain.UserID, upd domain.ProfileUpdate) (*domain.User, error) {
	if upd.Name != nil {
		name, err := domain.ValidateName(*upd.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	if upd.Age != nil && (*upd.Age < 1 || *upd.Age > 150) {
		return nil, fmt.Errorf("%w: age out of range", domain.ErrValidation)
	}
	if upd.Education != nil {
		edu := Sanitize(*upd.Education)
		upd.Education = &edu
	}
	if upd.CommunityID != nil {
		if _, err := a.communities.CommunityByID(ctx, *upd.CommunityID); err != nil {
			return nil, err
		}
	}
	return a.users.UpdateProfile(ctx, id, upd)
}

// JoinCommunity makes communityID the user's affiliation.
func (a *Accounts) JoinCommunity(ctx context.Context, id domain.UserID, communityID domain.CommunityID) (*domain.User, error) {
	if communityID == "" {
		return nil, fmt.Errorf("%w: community id is required", domain.ErrValidation)
	}
	return a.UpdateProfile(ctx, id, domain.ProfileUpdate{CommunityID: &communityID})
}

var validate = validator.New()

func validateEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if err := validate.Var(email, fmt.Sprintf("email,max=%d", domain.MaxEmailLen)); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrValidation)
	}
	return email, nil
}
