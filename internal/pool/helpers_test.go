package pool_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/Shivika2934/labquestion/internal/pool"
)

// harness bundles a store with a way to create users it will accept as
// foreign keys.
type harness struct {
	store   pool.Store
	newUser func(t *testing.T, role pool.Role) pool.Principal
}

func memoryHarness() harness {
	store := pool.NewMemoryStore()
	return harness{
		store: store,
		newUser: func(t *testing.T, role pool.Role) pool.Principal {
			t.Helper()
			id := uuid.NewString()
			store.AddUser(id, "user-"+id[:8], role)
			return pool.Principal{UserID: id, Role: role}
		},
	}
}

func (h harness) students(t *testing.T, n int) []pool.Principal {
	t.Helper()
	out := make([]pool.Principal, n)
	for i := range out {
		out[i] = h.newUser(t, pool.RoleStudent)
	}
	return out
}

// topicWithQuestions creates a topic owned by a fresh admin and ingests n
// numbered questions into it.
func (h harness) topicWithQuestions(t *testing.T, n int) (pool.Topic, pool.Principal) {
	t.Helper()
	admin := h.newUser(t, pool.RoleAdmin)

	catalog := pool.NewCatalog(h.store, nil, nil)
	topic, err := catalog.CreateTopic(context.Background(), admin, pool.NewTopic{
		Name:       "Sorting " + uuid.NewString()[:8],
		Difficulty: "medium",
		Category:   "Algorithms",
	})
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}

	if n > 0 {
		res, err := pool.NewIngestor(h.store).Ingest(context.Background(), admin, topic.ID, candidates(n))
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Admitted != n {
			t.Fatalf("Admitted = %d, want %d", res.Admitted, n)
		}
	}
	return topic, admin
}

func candidates(n int) []pool.Candidate {
	out := make([]pool.Candidate, n)
	for i := range out {
		out[i] = pool.Candidate{
			Text:   fmt.Sprintf("Sort list #%d using merge sort and report the comparisons.", i+1),
			Answer: fmt.Sprintf("answer %d", i+1),
		}
	}
	return out
}

type generatorFunc func(ctx context.Context, req pool.GenerationRequest) ([]pool.Candidate, error)

func (f generatorFunc) Generate(ctx context.Context, req pool.GenerationRequest) ([]pool.Candidate, error) {
	return f(ctx, req)
}

type validatorFunc func(ctx context.Context, topic pool.Topic, c pool.Candidate) (bool, string, error)

func (f validatorFunc) Validate(ctx context.Context, topic pool.Topic, c pool.Candidate) (bool, string, error) {
	return f(ctx, topic, c)
}

// memoryStatsCache records cache traffic for assertions.
type memoryStatsCache struct {
	entries     map[string]pool.PoolStats
	invalidated []string
	// beforeSet, when non-nil, runs once ahead of the next Set.
	beforeSet func()
}

func newMemoryStatsCache() *memoryStatsCache {
	return &memoryStatsCache{entries: make(map[string]pool.PoolStats)}
}

func (m *memoryStatsCache) Get(_ context.Context, topicID string) (pool.PoolStats, bool) {
	st, ok := m.entries[topicID]
	return st, ok
}

func (m *memoryStatsCache) Set(_ context.Context, st pool.PoolStats) {
	if f := m.beforeSet; f != nil {
		m.beforeSet = nil
		f()
	}
	m.entries[st.TopicID] = st
}

func (m *memoryStatsCache) Invalidate(_ context.Context, topicID string) {
	delete(m.entries, topicID)
	m.invalidated = append(m.invalidated, topicID)
}
