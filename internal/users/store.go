package users

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivika2934/labquestion/internal/pool"
)

// Directory receives every user created in memory. The in-memory question
// pool implements it so joined listings can show usernames.
type Directory interface {
	AddUser(id, username string, role pool.Role)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]string
	byEmail    map[string]string
	directory  Directory
}

// NewMemoryStore creates an empty store. directory may be nil.
func NewMemoryStore(directory Directory) *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		directory:  directory,
	}
}

func (s *MemoryStore) Create(ctx context.Context, u User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[u.Username]; ok {
		return User{}, fmt.Errorf("username %q: %w", u.Username, pool.ErrAlreadyExists)
	}
	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return User{}, fmt.Errorf("email %q: %w", u.Email, pool.ErrAlreadyExists)
	}

	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	s.byID[u.ID] = u
	s.byUsername[u.Username] = u.ID
	s.byEmail[email] = u.ID

	if s.directory != nil {
		s.directory.AddUser(u.ID, u.Username, u.Role)
	}
	return u, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, pool.ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", username, pool.ErrNotFound)
	}
	return s.byID[id], nil
}
