package pool

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

const (
	maxTopicNameLen      = 100
	maxCategoryLen       = 50
	maxDescriptionLen    = 2000
	defaultTopicCategory = "General"
)

// Catalog exposes topic management and the read-only queries over pools
// and assignments.
type Catalog struct {
	store  Store
	events EventLogger
	stats  StatsCache
}

// NewCatalog creates a Catalog. Nil collaborators are replaced with no-ops.
func NewCatalog(store Store, events EventLogger, stats StatsCache) *Catalog {
	if events == nil {
		events = NopEventLogger{}
	}
	if stats == nil {
		stats = NopStatsCache{}
	}
	return &Catalog{store: store, events: events, stats: stats}
}

// CreateTopic creates a topic owned by the principal.
func (c *Catalog) CreateTopic(ctx context.Context, p Principal, in NewTopic) (Topic, error) {
	if !p.IsAdmin() {
		return Topic{}, fmt.Errorf("create topic: %w", ErrForbidden)
	}

	name := normalize(in.Name)
	if name == "" {
		return Topic{}, invalid("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxTopicNameLen {
		return Topic{}, invalid("name", fmt.Sprintf("must be at most %d characters", maxTopicNameLen))
	}
	difficulty, err := ParseDifficulty(in.Difficulty)
	if err != nil {
		return Topic{}, err
	}
	category := normalize(in.Category)
	if category == "" {
		category = defaultTopicCategory
	}
	if utf8.RuneCountInString(category) > maxCategoryLen {
		return Topic{}, invalid("category", fmt.Sprintf("must be at most %d characters", maxCategoryLen))
	}
	description := normalize(in.Description)
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return Topic{}, invalid("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLen))
	}

	topic, err := c.store.CreateTopic(ctx, Topic{
		Name:        name,
		Description: description,
		Difficulty:  difficulty,
		Category:    category,
		CreatedBy:   p.UserID,
	})
	if err != nil {
		return Topic{}, fmt.Errorf("create topic %q: %w", name, err)
	}

	slog.Info("topic created", "topic_id", topic.ID, "name", topic.Name, "created_by", p.UserID)
	recordEvent(ctx, c.events, Event{
		UserID:    p.UserID,
		TopicID:   topic.ID,
		EventType: EventTopicCreated,
		Data:      map[string]any{"name": topic.Name, "difficulty": string(topic.Difficulty)},
	})
	return topic, nil
}

// GetTopic returns a topic by id.
func (c *Catalog) GetTopic(ctx context.Context, id string) (Topic, error) {
	return c.store.GetTopic(ctx, id)
}

// FindTopicByName returns the topic with this name, compared in the same
// normalized form CreateTopic stores.
func (c *Catalog) FindTopicByName(ctx context.Context, name string) (Topic, error) {
	return c.store.FindTopicByName(ctx, normalize(name))
}

// ListTopics returns topics, newest first.
func (c *Catalog) ListTopics(ctx context.Context, filter TopicFilter) ([]Topic, error) {
	return c.store.ListTopics(ctx, filter)
}

// DeleteTopic removes a topic together with its questions and assignments.
func (c *Catalog) DeleteTopic(ctx context.Context, p Principal, id string) error {
	if !p.IsAdmin() {
		return fmt.Errorf("delete topic: %w", ErrForbidden)
	}

	topic, err := c.store.GetTopic(ctx, id)
	if err != nil {
		return err
	}
	stats, err := c.store.PoolStats(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.DeleteTopic(ctx, id); err != nil {
		return err
	}
	c.stats.Invalidate(ctx, id)

	slog.Warn("topic deleted",
		"topic_id", id,
		"name", topic.Name,
		"questions", stats.Total,
		"assignments", stats.Consumed,
		"deleted_by", p.UserID,
	)
	recordEvent(ctx, c.events, Event{
		UserID:    p.UserID,
		TopicID:   id,
		EventType: EventTopicDeleted,
		Data: map[string]any{
			"name":      topic.Name,
			"questions": stats.Total,
		},
	})
	return nil
}

// ListQuestions returns a topic's pool in variation order. Administrators only,
// since the pool includes expected answers.
func (c *Catalog) ListQuestions(ctx context.Context, p Principal, topicID string) ([]Question, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("list questions: %w", ErrForbidden)
	}
	return c.store.ListQuestions(ctx, topicID)
}

// ListAssignments returns assignments matching filter. Students only ever
// see their own.
func (c *Catalog) ListAssignments(ctx context.Context, p Principal, filter AssignmentFilter) ([]AssignmentDetail, error) {
	switch {
	case p.IsAdmin():
	case p.IsStudent():
		filter.UserID = p.UserID
	default:
		return nil, fmt.Errorf("list assignments: %w", ErrForbidden)
	}
	return c.store.ListAssignments(ctx, filter)
}

// GetAssignment returns one assignment with its question. Anyone other than
// the owner or an administrator gets ErrNotFound.
func (c *Catalog) GetAssignment(ctx context.Context, p Principal, id string) (AssignmentDetail, error) {
	d, err := c.store.GetAssignment(ctx, id)
	if err != nil {
		return AssignmentDetail{}, err
	}
	if d.UserID != p.UserID && !p.IsAdmin() {
		return AssignmentDetail{}, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	return d, nil
}

// PoolStats returns availability counts for a topic, served from the cache
// when possible.
func (c *Catalog) PoolStats(ctx context.Context, topicID string) (PoolStats, error) {
	if st, ok := c.stats.Get(ctx, topicID); ok {
		return st, nil
	}
	st, err := c.store.PoolStats(ctx, topicID)
	if err != nil {
		return PoolStats{}, err
	}
	c.stats.Set(ctx, st)

	// A write committed between the read and Set has already invalidated,
	// so re-read and drop the entry if it went stale.
	fresh, err := c.store.PoolStats(ctx, topicID)
	if err != nil || fresh != st {
		c.stats.Invalidate(ctx, topicID)
	}
	if err != nil {
		return PoolStats{}, err
	}
	return fresh, nil
}

// Dashboard returns system-wide counts. Administrators only.
func (c *Catalog) Dashboard(ctx context.Context, p Principal) (Dashboard, error) {
	if !p.IsAdmin() {
		return Dashboard{}, fmt.Errorf("dashboard: %w", ErrForbidden)
	}
	return c.store.Dashboard(ctx)
}
