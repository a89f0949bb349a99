package pool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Shivika2934/labquestion/internal/pool"
)

// conflictStore loses every claim race.
type conflictStore struct {
	pool.Store
	claims atomic.Int32
}

func (s *conflictStore) ClaimQuestion(context.Context, string, string, string) (pool.Assignment, error) {
	s.claims.Add(1)
	return pool.Assignment{}, pool.ErrConflict
}

func TestAllocator_PicksFromAvailableSnapshot(t *testing.T) {
	h := memoryHarness()
	ctx := context.Background()
	topic, admin := h.topicWithQuestions(t, 4)
	qs, err := h.store.ListQuestions(ctx, topic.ID)
	if err != nil {
		t.Fatalf("ListQuestions() error = %v", err)
	}

	var sizes []int
	alloc := pool.NewAllocator(h.store, pool.WithRandom(func(n int) int {
		sizes = append(sizes, n)
		return n - 1
	}))

	for _, p := range h.students(t, 4) {
		if _, err := alloc.Assign(ctx, p, topic.ID); err != nil {
			t.Fatalf("Assign() error = %v", err)
		}
	}

	want := []int{4, 3, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("intn calls = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("intn call %d n = %d, want %d", i, sizes[i], want[i])
		}
	}

	after, err := pool.NewCatalog(h.store, nil, nil).ListQuestions(ctx, admin, topic.ID)
	if err != nil {
		t.Fatalf("ListQuestions() error = %v", err)
	}
	for i, q := range after {
		if !q.Assigned {
			t.Errorf("question %d (%s) not assigned", i, qs[i].ID)
		}
	}
}

func TestAllocator_Uniform(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}
	ctx := context.Background()

	const trials = 3000
	counts := map[int]int{}
	for range trials {
		h := memoryHarness()
		topic, _ := h.topicWithQuestions(t, 3)
		p := h.newUser(t, pool.RoleStudent)

		a, err := pool.NewAllocator(h.store).Assign(ctx, p, topic.ID)
		if err != nil {
			t.Fatalf("Assign() error = %v", err)
		}
		d, err := h.store.GetAssignment(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAssignment() error = %v", err)
		}
		counts[d.Variation]++
	}

	// Expected 1000 each; the bounds sit roughly six standard deviations out.
	for v := 1; v <= 3; v++ {
		if c := counts[v]; c < 850 || c > 1150 {
			t.Errorf("variation %d picked %d times out of %d, want about %d", v, c, trials, trials/3)
		}
	}
}

func TestAllocator_GivesUpAfterMaxAttempts(t *testing.T) {
	h := memoryHarness()
	topic, _ := h.topicWithQuestions(t, 2)
	store := &conflictStore{Store: h.store}

	p := h.newUser(t, pool.RoleStudent)
	_, err := pool.NewAllocator(store, pool.WithMaxAttempts(3)).Assign(context.Background(), p, topic.ID)
	if !errors.Is(err, pool.ErrConflict) {
		t.Fatalf("Assign() error = %v, want ErrConflict", err)
	}
	if got := store.claims.Load(); got != 3 {
		t.Errorf("claims = %d, want 3", got)
	}
}

func TestAllocator_Errors(t *testing.T) {
	h := memoryHarness()
	topic, admin := h.topicWithQuestions(t, 1)
	student := h.newUser(t, pool.RoleStudent)
	alloc := pool.NewAllocator(h.store)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		p       pool.Principal
		topicID string
		want    error
	}{
		{"admin cannot take questions", context.Background(), admin, topic.ID, pool.ErrForbidden},
		{"anonymous", context.Background(), pool.Principal{Role: pool.RoleStudent}, topic.ID, pool.ErrForbidden},
		{"unknown topic", context.Background(), student, "missing", pool.ErrNotFound},
		{"cancelled context", cancelled, student, topic.ID, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := alloc.Assign(tt.ctx, tt.p, tt.topicID); !errors.Is(err, tt.want) {
				t.Errorf("Assign() error = %v, want %v", err, tt.want)
			}
		})
	}

	if ids, _ := h.store.AvailableQuestionIDs(context.Background(), topic.ID); len(ids) != 1 {
		t.Errorf("available = %d, want 1 after failed calls", len(ids))
	}
}

func TestAllocator_RecordsEventAndInvalidatesStats(t *testing.T) {
	h := memoryHarness()
	ctx := context.Background()
	topic, _ := h.topicWithQuestions(t, 2)
	events := pool.NewMemoryEventLogger()
	stats := newMemoryStatsCache()
	stats.Set(ctx, pool.PoolStats{TopicID: topic.ID, Total: 2, Available: 2})

	p := h.newUser(t, pool.RoleStudent)
	alloc := pool.NewAllocator(h.store, pool.WithAllocatorEvents(events), pool.WithAllocatorStats(stats))
	a, err := alloc.Assign(ctx, p, topic.ID)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if _, err := alloc.Assign(ctx, p, topic.ID); err != nil {
		t.Fatalf("second Assign() error = %v", err)
	}

	assigned := events.OfType(pool.EventQuestionAssigned)
	if len(assigned) != 1 {
		t.Fatalf("assigned events = %d, want 1 (repeat call records nothing)", len(assigned))
	}
	if assigned[0].Data["assignment_id"] != a.ID {
		t.Errorf("event assignment_id = %v, want %s", assigned[0].Data["assignment_id"], a.ID)
	}
	if _, ok := stats.Get(ctx, topic.ID); ok {
		t.Error("stats entry should be invalidated after a claim")
	}
}
