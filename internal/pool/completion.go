package pool

import (
	"context"
	"fmt"
	"log/slog"
)

// Tracker records completion of assignments by their owners.
type Tracker struct {
	store  Store
	events EventLogger
}

// NewTracker creates a completion Tracker. A nil logger disables events.
func NewTracker(store Store, events EventLogger) *Tracker {
	if events == nil {
		events = NopEventLogger{}
	}
	return &Tracker{store: store, events: events}
}

// Complete marks the principal's assignment as completed. Completing an
// already completed assignment is a no-op. Assignments owned by someone
// else are reported as ErrNotFound so their existence is not revealed.
func (t *Tracker) Complete(ctx context.Context, p Principal, assignmentID string) (Assignment, error) {
	if p.UserID == "" {
		return Assignment{}, fmt.Errorf("complete assignment: %w", ErrForbidden)
	}

	current, err := t.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Assignment{}, err
	}
	if current.UserID != p.UserID {
		return Assignment{}, fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
	}
	if current.Completed {
		return current.Assignment, nil
	}

	done, err := t.store.CompleteAssignment(ctx, assignmentID, p.UserID)
	if err != nil {
		return Assignment{}, err
	}

	slog.Info("assignment completed",
		"assignment_id", done.ID,
		"user_id", p.UserID,
		"topic_id", done.TopicID,
	)
	recordEvent(ctx, t.events, Event{
		UserID:    p.UserID,
		TopicID:   done.TopicID,
		EventType: EventAssignmentCompleted,
		Data:      map[string]any{"assignment_id": done.ID},
	})
	return done, nil
}
