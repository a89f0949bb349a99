package ai

import (
	"fmt"
	"sync"
)

// BudgetChecker checks and records token usage against per-user budgets.
type BudgetChecker interface {
	// Check returns true if the user has budget remaining.
	Check(userID string) (bool, error)
	// Record records token usage for a user.
	Record(userID string, tokens int) error
	// Usage returns current usage and limit for a user. A zero limit is unlimited.
	Usage(userID string) (used int64, budget int64, err error)
}

// InMemoryBudget tracks token usage in process memory. Usage resets on restart.
type InMemoryBudget struct {
	mu           sync.RWMutex
	defaultLimit int64
	budgets      map[string]int64 // user -> budget limit
	usage        map[string]int64 // user -> tokens used
}

// NewInMemoryBudget creates a tracker that applies defaultLimit to every
// user without an explicit budget. Zero means unlimited.
func NewInMemoryBudget(defaultLimit int64) *InMemoryBudget {
	return &InMemoryBudget{
		defaultLimit: defaultLimit,
		budgets:      make(map[string]int64),
		usage:        make(map[string]int64),
	}
}

// SetBudget sets the token budget for a user.
func (b *InMemoryBudget) SetBudget(userID string, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budgets[userID] = tokens
}

func (b *InMemoryBudget) Check(userID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := b.limit(userID)
	if limit <= 0 {
		return true, nil
	}
	return b.usage[userID] < limit, nil
}

func (b *InMemoryBudget) Record(userID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[userID] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(userID string) (int64, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[userID], b.limit(userID), nil
}

func (b *InMemoryBudget) limit(userID string) int64 {
	if l, ok := b.budgets[userID]; ok {
		return l
	}
	return b.defaultLimit
}
