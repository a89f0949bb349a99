package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxGenerate bounds the number of variants requested in one call.
const DefaultMaxGenerate = 50

// GenerationRequest describes the variants to request from a Generator.
type GenerationRequest struct {
	Topic        Topic
	BaseQuestion string
	Count        int
	RequestedBy  string
}

// Generator produces candidate question variants. It may return fewer
// candidates than requested. An error means nothing usable was produced.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) ([]Candidate, error)
}

// QualityValidator is an optional advisory check on candidate text.
// Errors are treated as approval.
type QualityValidator interface {
	Validate(ctx context.Context, topic Topic, c Candidate) (ok bool, feedback string, err error)
}

// IngestResult reports the outcome of one ingestion batch.
type IngestResult struct {
	TopicID   string            `json:"topic_id"`
	Requested int               `json:"requested,omitempty"`
	Submitted int               `json:"submitted"`
	Admitted  int               `json:"admitted"`
	Skipped   []ValidationError `json:"skipped"`
	Questions []Question        `json:"questions"`
}

// Ingestor admits candidate variants into a topic's pool.
type Ingestor struct {
	store     Store
	generator Generator
	validator QualityValidator
	events    EventLogger
	stats     StatsCache
	maxCount  int
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithGenerator sets the collaborator used by Generate.
func WithGenerator(g Generator) IngestorOption {
	return func(in *Ingestor) {
		in.generator = g
	}
}

// WithQualityValidator enables the advisory quality check.
func WithQualityValidator(v QualityValidator) IngestorOption {
	return func(in *Ingestor) {
		in.validator = v
	}
}

// WithIngestEvents sets the event logger.
func WithIngestEvents(l EventLogger) IngestorOption {
	return func(in *Ingestor) {
		in.events = l
	}
}

// WithIngestStats sets the stats cache invalidated after each batch.
func WithIngestStats(c StatsCache) IngestorOption {
	return func(in *Ingestor) {
		in.stats = c
	}
}

// WithMaxGenerate bounds the count accepted by Generate.
func WithMaxGenerate(n int) IngestorOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxCount = n
		}
	}
}

// NewIngestor creates an Ingestor backed by store.
func NewIngestor(store Store, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		store:    store,
		events:   NopEventLogger{},
		stats:    NopStatsCache{},
		maxCount: DefaultMaxGenerate,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest screens candidates and persists the accepted ones as one atomic
// batch. Malformed candidates are skipped and reported in the result; a
// store failure rolls back the whole batch.
func (in *Ingestor) Ingest(ctx context.Context, p Principal, topicID string, candidates []Candidate) (IngestResult, error) {
	if !p.IsAdmin() {
		return IngestResult{}, fmt.Errorf("ingest questions: %w", ErrForbidden)
	}

	topic, err := in.store.GetTopic(ctx, topicID)
	if err != nil {
		return IngestResult{}, err
	}

	accepted, skipped := in.screen(ctx, topic, candidates)
	for _, s := range skipped {
		slog.Warn("candidate skipped",
			"topic_id", topic.ID,
			"index", s.Index,
			"reason", s.Reason,
		)
	}

	result := IngestResult{
		TopicID:   topic.ID,
		Submitted: len(candidates),
		Skipped:   skipped,
		Questions: []Question{},
	}
	if len(accepted) == 0 {
		if len(candidates) > 0 {
			slog.Warn("ingestion admitted no questions", "topic_id", topic.ID, "submitted", len(candidates))
		}
		return result, nil
	}

	questions, err := in.store.InsertQuestions(ctx, topic.ID, accepted)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest batch for topic %s: %w", topic.ID, err)
	}
	in.stats.Invalidate(ctx, topic.ID)

	result.Admitted = len(questions)
	result.Questions = questions

	if result.Admitted < result.Submitted {
		slog.Warn("ingestion admitted fewer questions than submitted",
			"topic_id", topic.ID,
			"submitted", result.Submitted,
			"admitted", result.Admitted,
		)
	}
	slog.Info("questions ingested",
		"topic_id", topic.ID,
		"admitted", result.Admitted,
		"first_variation", questions[0].Variation,
	)
	recordEvent(ctx, in.events, Event{
		UserID:    p.UserID,
		TopicID:   topic.ID,
		EventType: EventQuestionsIngested,
		Data: map[string]any{
			"submitted": result.Submitted,
			"admitted":  result.Admitted,
			"skipped":   len(skipped),
		},
	})
	return result, nil
}

// Generate asks the generator for count variants of baseQuestion and ingests
// them. A generator failure admits nothing and wraps ErrGenerationProvider.
func (in *Ingestor) Generate(ctx context.Context, p Principal, topicID, baseQuestion string, count int) (IngestResult, error) {
	if !p.IsAdmin() {
		return IngestResult{}, fmt.Errorf("generate questions: %w", ErrForbidden)
	}
	if in.generator == nil {
		return IngestResult{}, fmt.Errorf("%w: no generator configured", ErrGenerationProvider)
	}

	base := normalize(baseQuestion)
	if base == "" {
		return IngestResult{}, invalid("base_question", "base question is required")
	}
	if count < 1 || count > in.maxCount {
		return IngestResult{}, invalid("count", fmt.Sprintf("must be between 1 and %d, got %d", in.maxCount, count))
	}

	topic, err := in.store.GetTopic(ctx, topicID)
	if err != nil {
		return IngestResult{}, err
	}

	candidates, err := in.generator.Generate(ctx, GenerationRequest{
		Topic:        topic,
		BaseQuestion: base,
		Count:        count,
		RequestedBy:  p.UserID,
	})
	if err != nil {
		slog.Error("question generation failed",
			"topic_id", topic.ID,
			"count", count,
			"error", err,
		)
		return IngestResult{}, fmt.Errorf("%w: %w", ErrGenerationProvider, err)
	}
	if len(candidates) < count {
		slog.Warn("generator returned fewer variants than requested",
			"topic_id", topic.ID,
			"requested", count,
			"returned", len(candidates),
		)
	}

	result, err := in.Ingest(ctx, p, topic.ID, candidates)
	if err != nil {
		return IngestResult{}, err
	}
	result.Requested = count
	return result, nil
}

// screen normalizes candidates and separates the admissible ones from the
// malformed or rejected ones. Indices refer to the input slice.
func (in *Ingestor) screen(ctx context.Context, topic Topic, candidates []Candidate) ([]Candidate, []ValidationError) {
	accepted := make([]Candidate, 0, len(candidates))
	skipped := []ValidationError{}

	for i, c := range candidates {
		if field := unstorable(c); field != "" {
			skipped = append(skipped, ValidationError{Index: i, Field: field, Reason: "contains a NUL byte or invalid UTF-8"})
			continue
		}
		c = Candidate{Text: normalize(c.Text), Answer: normalize(c.Answer)}
		if c.Text == "" {
			skipped = append(skipped, ValidationError{Index: i, Field: "question", Reason: "question text is empty"})
			continue
		}

		if in.validator != nil {
			ok, feedback, err := in.validator.Validate(ctx, topic, c)
			switch {
			case err != nil:
				// Advisory check: fail open.
				slog.Warn("quality validation unavailable, accepting candidate",
					"topic_id", topic.ID,
					"index", i,
					"error", err,
				)
			case !ok:
				skipped = append(skipped, ValidationError{
					Index:  i,
					Field:  "question",
					Reason: "rejected by quality check: " + feedback,
				})
				continue
			}
		}

		accepted = append(accepted, c)
	}
	return accepted, skipped
}

// unstorable names the first field Postgres text columns would reject.
func unstorable(c Candidate) string {
	switch {
	case !storable(c.Text):
		return "question"
	case !storable(c.Answer):
		return "expected_answer"
	}
	return ""
}

func storable(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
