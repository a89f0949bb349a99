package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/Shivika2934/labquestion/internal/pool"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	maxEmailLen    = 120
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLen = 72
)

// Service registers and authenticates users.
type Service struct {
	store Store
	cost  int
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account. An empty role means student.
func (s *Service) Register(ctx context.Context, in NewUser) (User, error) {
	username := strings.TrimSpace(in.Username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return User{}, invalid("username", fmt.Sprintf("must be %d to %d characters", minUsernameLen, maxUsernameLen))
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil || len(addr.Address) > maxEmailLen {
		return User{}, invalid("email", "must be a valid email address")
	}
	if len(in.Password) < minPasswordLen || len(in.Password) > maxPasswordLen {
		return User{}, invalid("password", fmt.Sprintf("must be %d to %d bytes", minPasswordLen, maxPasswordLen))
	}
	role := in.Role
	if role == "" {
		role = pool.RoleStudent
	}
	if !role.Valid() {
		return User{}, invalid("role", fmt.Sprintf("unknown role %q", in.Role))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.Create(ctx, User{
		Username:     username,
		Email:        strings.ToLower(addr.Address),
		Role:         role,
		PasswordHash: string(hash),
	})
	if err != nil {
		return User{}, err
	}
	slog.Info("user registered", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

// Authenticate checks a username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := s.store.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, pool.ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.Warn("failed login", "username", u.Username)
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.store.GetByID(ctx, id)
}

// EnsureAdmin creates the bootstrap administrator unless the username is
// already taken. An existing account with that name must be an admin.
func (s *Service) EnsureAdmin(ctx context.Context, username, password, email string) (User, error) {
	existing, err := s.store.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if existing.Role != pool.RoleAdmin {
			return User{}, fmt.Errorf("bootstrap admin %q exists with role %s", username, existing.Role)
		}
		return existing, nil
	case !errors.Is(err, pool.ErrNotFound):
		return User{}, err
	}

	if email == "" {
		email = username + "@localhost"
	}
	u, err := s.Register(ctx, NewUser{
		Username: username,
		Email:    email,
		Password: password,
		Role:     pool.RoleAdmin,
	})
	if err != nil {
		return User{}, fmt.Errorf("create bootstrap admin: %w", err)
	}
	slog.Info("bootstrap admin created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

func invalid(field, reason string) error {
	return &pool.ValidationError{Index: -1, Field: field, Reason: reason}
}
