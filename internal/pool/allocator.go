package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
)

// DefaultMaxAttempts bounds how many claims Assign tries after lost races.
const DefaultMaxAttempts = 8

// Allocator hands out one question per (user, topic), chosen uniformly at
// random from the questions still available when the attempt starts.
type Allocator struct {
	store       Store
	intn        func(n int) int
	maxAttempts int
	events      EventLogger
	stats       StatsCache
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithMaxAttempts sets the number of claim attempts before giving up with
// ErrConflict.
func WithMaxAttempts(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRandom replaces the source of random indices. intn must return a value
// in [0, n) and be safe for concurrent use.
func WithRandom(intn func(n int) int) AllocatorOption {
	return func(a *Allocator) {
		a.intn = intn
	}
}

// WithAllocatorEvents sets the event logger.
func WithAllocatorEvents(l EventLogger) AllocatorOption {
	return func(a *Allocator) {
		a.events = l
	}
}

// WithAllocatorStats sets the stats cache invalidated after each claim.
func WithAllocatorStats(c StatsCache) AllocatorOption {
	return func(a *Allocator) {
		a.stats = c
	}
}

// NewAllocator creates an Allocator backed by store.
func NewAllocator(store Store, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		store:       store,
		intn:        rand.IntN,
		maxAttempts: DefaultMaxAttempts,
		events:      NopEventLogger{},
		stats:       NopStatsCache{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assign returns the principal's assignment for topicID, claiming a question
// if none exists yet. Repeated calls return the same assignment.
//
// Every claim is one atomic store operation. A claim lost to a concurrent
// caller is retried against a fresh snapshot of available questions, up to
// the configured attempt limit.
func (a *Allocator) Assign(ctx context.Context, p Principal, topicID string) (Assignment, error) {
	if !p.IsStudent() {
		return Assignment{}, fmt.Errorf("assign question: %w", ErrForbidden)
	}
	if _, err := a.store.GetTopic(ctx, topicID); err != nil {
		return Assignment{}, err
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Assignment{}, err
		}

		existing, err := a.store.FindAssignment(ctx, p.UserID, topicID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Assignment{}, err
		}

		available, err := a.store.AvailableQuestionIDs(ctx, topicID)
		if err != nil {
			return Assignment{}, err
		}
		if len(available) == 0 {
			slog.Warn("question pool exhausted",
				"topic_id", topicID,
				"user_id", p.UserID,
			)
			return Assignment{}, fmt.Errorf("topic %s: %w", topicID, ErrPoolExhausted)
		}

		questionID := available[a.intn(len(available))]
		assignment, err := a.store.ClaimQuestion(ctx, p.UserID, topicID, questionID)
		switch {
		case err == nil:
			a.stats.Invalidate(ctx, topicID)
			slog.Info("question assigned",
				"topic_id", topicID,
				"user_id", p.UserID,
				"question_id", questionID,
				"attempt", attempt,
			)
			recordEvent(ctx, a.events, Event{
				UserID:    p.UserID,
				TopicID:   topicID,
				EventType: EventQuestionAssigned,
				Data: map[string]any{
					"assignment_id": assignment.ID,
					"question_id":   questionID,
					"attempt":       attempt,
				},
			})
			return assignment, nil

		case errors.Is(err, ErrAlreadyAssigned):
			// A concurrent call for the same user won; return its result.
			return a.store.FindAssignment(ctx, p.UserID, topicID)

		case errors.Is(err, ErrConflict):
			slog.Debug("lost claim race, retrying",
				"topic_id", topicID,
				"user_id", p.UserID,
				"question_id", questionID,
				"attempt", attempt,
			)

		default:
			return Assignment{}, err
		}
	}

	slog.Warn("assignment gave up after repeated conflicts",
		"topic_id", topicID,
		"user_id", p.UserID,
		"attempts", a.maxAttempts,
	)
	return Assignment{}, fmt.Errorf("topic %s after %d attempts: %w", topicID, a.maxAttempts, ErrConflict)
}
