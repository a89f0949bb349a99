package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Shivika2934/labquestion/internal/pool"
)

// DefaultCount is the number of variants generated for a seed without one.
const DefaultCount = 5

// Catalog is the part of pool.Catalog used to apply seeds.
type Catalog interface {
	FindTopicByName(ctx context.Context, name string) (pool.Topic, error)
	CreateTopic(ctx context.Context, p pool.Principal, in pool.NewTopic) (pool.Topic, error)
	PoolStats(ctx context.Context, topicID string) (pool.PoolStats, error)
}

// Ingestor is the part of pool.Ingestor used to fill seeded pools.
type Ingestor interface {
	Ingest(ctx context.Context, p pool.Principal, topicID string, candidates []pool.Candidate) (pool.IngestResult, error)
	Generate(ctx context.Context, p pool.Principal, topicID, baseQuestion string, count int) (pool.IngestResult, error)
}

// Summary counts what Apply did.
type Summary struct {
	Created   int
	Ingested  int
	Generated int
	Failed    int
}

// Apply creates missing topics and fills empty pools, acting as admin.
// Existing topics with questions are left untouched. Generation only runs
// when generate is true; a failure for one topic is logged and counted
// without stopping the others.
func Apply(ctx context.Context, topics []Topic, admin pool.Principal, catalog Catalog, ingestor Ingestor, generate bool) (Summary, error) {
	var sum Summary
	for _, seed := range topics {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		topic, err := catalog.FindTopicByName(ctx, seed.Name)
		switch {
		case errors.Is(err, pool.ErrNotFound):
			topic, err = catalog.CreateTopic(ctx, admin, pool.NewTopic{
				Name:        seed.Name,
				Description: seed.Description,
				Difficulty:  seed.Difficulty,
				Category:    seed.Category,
			})
			if err != nil {
				slog.Warn("failed to create seed topic", "name", seed.Name, "error", err)
				sum.Failed++
				continue
			}
			sum.Created++
		case err != nil:
			return sum, fmt.Errorf("look up seed topic %q: %w", seed.Name, err)
		}

		stats, err := catalog.PoolStats(ctx, topic.ID)
		if err != nil {
			return sum, fmt.Errorf("pool stats for %q: %w", seed.Name, err)
		}
		if stats.Total > 0 {
			continue
		}

		switch {
		case len(seed.Questions) > 0:
			candidates := make([]pool.Candidate, len(seed.Questions))
			for i, q := range seed.Questions {
				candidates[i] = pool.Candidate{Text: q.Question, Answer: q.ExpectedAnswer}
			}
			res, err := ingestor.Ingest(ctx, admin, topic.ID, candidates)
			if err != nil {
				slog.Warn("failed to ingest seed questions", "topic", seed.Name, "error", err)
				sum.Failed++
				continue
			}
			sum.Ingested += res.Admitted

		case seed.BaseQuestion != "" && generate:
			count := seed.Count
			if count <= 0 {
				count = DefaultCount
			}
			res, err := ingestor.Generate(ctx, admin, topic.ID, seed.BaseQuestion, count)
			if err != nil {
				slog.Warn("failed to generate seed questions", "topic", seed.Name, "error", err)
				sum.Failed++
				continue
			}
			sum.Generated += res.Admitted

		case seed.BaseQuestion != "":
			slog.Info("seed topic left empty, no AI provider configured", "topic", seed.Name)
		}
	}

	slog.Info("topic seeds applied",
		"created", sum.Created,
		"ingested", sum.Ingested,
		"generated", sum.Generated,
		"failed", sum.Failed,
	)
	return sum, nil
}
