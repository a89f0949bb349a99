package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivika2934/labquestion/internal/pool"
)

const dbTimeout = 5 * time.Second

const userColumns = `id::text, username, email, role, password_hash, created_at`

// PostgresStore persists users in the users table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed user store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, u User) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	id := uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, email, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		id, u.Username, u.Email, u.PasswordHash, string(u.Role),
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return User{}, fmt.Errorf("email %q: %w", u.Email, pool.ErrAlreadyExists)
			default:
				return User{}, fmt.Errorf("username %q: %w", u.Username, pool.ErrAlreadyExists)
			}
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	u.ID = id.String()
	return u, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return User{}, fmt.Errorf("user %q: %w", id, pool.ErrNotFound)
	}
	return s.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid, id)
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.get(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username, username)
}

func (s *PostgresStore) get(ctx context.Context, query string, arg any, key string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var u User
	var role string
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Email, &role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", key, pool.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	u.Role = pool.Role(role)
	return u, nil
}
