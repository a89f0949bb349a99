// Package users manages accounts and password authentication.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/Shivika2934/labquestion/internal/pool"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong
// password. Both cases return the same error.
var ErrInvalidCredentials = errors.New("invalid username or password")

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         pool.Role `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal returns the capability this user acts under.
func (u User) Principal() pool.Principal {
	return pool.Principal{UserID: u.ID, Role: u.Role}
}

// NewUser is the input for registering an account.
type NewUser struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     pool.Role `json:"role"`
}

// Store persists users. Create reports a taken username or email with an
// error wrapping pool.ErrAlreadyExists.
type Store interface {
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
}
