package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Shivika2934/labquestion/internal/ai"
	"github.com/Shivika2934/labquestion/internal/pool"
)

const (
	defaultMaxTokens   = 2000
	defaultTemperature = 0.7
)

const generatorSystemPrompt = "You are an expert laboratory instructor specializing in creating fair and equivalent question variations for student assessments."

var (
	variationsSchema = mustSchema(`{
		"type": "object",
		"required": ["variations"],
		"properties": {
			"variations": {"type": "array"}
		}
	}`)

	variationSchema = mustSchema(`{
		"type": "object",
		"required": ["question"],
		"properties": {
			"question": {"type": "string", "minLength": 1},
			"expected_answer": {"type": "string"}
		}
	}`)
)

// GeneratorConfig holds dependencies for the Generator.
type GeneratorConfig struct {
	AI        Completer
	Budget    ai.BudgetChecker // optional, keyed by requesting administrator
	Model     string           // empty lets the provider choose
	MaxTokens int              // default 2000
}

// Generator produces question variants through the AI gateway.
type Generator struct {
	ai        Completer
	budget    ai.BudgetChecker
	model     string
	maxTokens int
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Generator{
		ai:        cfg.AI,
		budget:    cfg.Budget,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Generate requests req.Count variants of req.BaseQuestion. The reply must
// be a JSON document with a "variations" array; a malformed document fails
// the whole call, while a malformed entry becomes a candidate with empty
// text so ingestion reports it against its index.
func (g *Generator) Generate(ctx context.Context, req pool.GenerationRequest) ([]pool.Candidate, error) {
	if g.ai == nil {
		return nil, ai.ErrNoProvider
	}
	if err := g.checkBudget(req.RequestedBy); err != nil {
		return nil, err
	}

	resp, err := g.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: generatorSystemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: defaultTemperature,
		Task:        ai.TaskGeneration,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("complete generation request: %w", err)
	}
	g.recordUsage(req.RequestedBy, resp.TotalTokens())

	candidates, err := parseVariations(resp.Content)
	if err != nil {
		slog.Error("failed to parse generated variations",
			"topic_id", req.Topic.ID,
			"model", resp.Model,
			"error", err,
		)
		return nil, err
	}

	if len(candidates) > req.Count {
		slog.Debug("generator returned extra variations, truncating",
			"topic_id", req.Topic.ID,
			"requested", req.Count,
			"returned", len(candidates),
		)
		candidates = candidates[:req.Count]
	}
	if len(candidates) < req.Count {
		slog.Warn("fewer variations generated than requested",
			"topic_id", req.Topic.ID,
			"requested", req.Count,
			"returned", len(candidates),
		)
	}

	slog.Info("question variations generated",
		"topic_id", req.Topic.ID,
		"topic", req.Topic.Name,
		"count", len(candidates),
		"model", resp.Model,
		"tokens", resp.TotalTokens(),
	)
	return candidates, nil
}

func (g *Generator) checkBudget(userID string) error {
	if g.budget == nil || userID == "" {
		return nil
	}
	ok, err := g.budget.Check(userID)
	if err != nil {
		return fmt.Errorf("check token budget: %w", err)
	}
	if !ok {
		used, limit, _ := g.budget.Usage(userID)
		return fmt.Errorf("%w: used %d of %d tokens", ErrBudgetExceeded, used, limit)
	}
	return nil
}

func (g *Generator) recordUsage(userID string, tokens int) {
	if g.budget == nil || userID == "" {
		return
	}
	if err := g.budget.Record(userID, tokens); err != nil {
		slog.Warn("failed to record token usage", "user_id", userID, "error", err)
	}
}

func buildPrompt(req pool.GenerationRequest) string {
	var b strings.Builder
	b.WriteString("You are an expert lab instructor creating variations of laboratory questions for students.\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic.Name)
	fmt.Fprintf(&b, "Category: %s\n", req.Topic.Category)
	fmt.Fprintf(&b, "Difficulty: %s\n", req.Topic.Difficulty)
	fmt.Fprintf(&b, "Base Question: %s\n\n", req.BaseQuestion)
	fmt.Fprintf(&b, "Generate %d unique but equivalent laboratory questions based on the base question above.\n", req.Count)
	b.WriteString("Each question should:\n")
	b.WriteString("1. Test the same core concept and skills\n")
	fmt.Fprintf(&b, "2. Have the same difficulty level (%s)\n", req.Topic.Difficulty)
	b.WriteString("3. Be completely unique in wording and specific details\n")
	b.WriteString("4. Be suitable for a laboratory setting\n")
	b.WriteString("5. Include a brief expected answer or approach\n\n")
	b.WriteString("Respond with a JSON object containing an array of question variations.\n")
	b.WriteString(`Format: {"variations": [{"question": "question text", "expected_answer": "brief expected answer"}, ...]}`)
	return b.String()
}

// parseVariations validates the document, then each entry on its own.
func parseVariations(content string) ([]pool.Candidate, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	if err := validate(variationsSchema, gojsonschema.NewStringLoader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	var doc struct {
		Variations []json.RawMessage `json:"variations"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	out := make([]pool.Candidate, 0, len(doc.Variations))
	for i, item := range doc.Variations {
		var c pool.Candidate
		if err := validate(variationSchema, gojsonschema.NewBytesLoader(item)); err != nil {
			slog.Warn("malformed generated variation", "index", i, "error", err)
			out = append(out, pool.Candidate{})
			continue
		}
		if err := json.Unmarshal(item, &c); err != nil {
			slog.Warn("malformed generated variation", "index", i, "error", err)
			out = append(out, pool.Candidate{})
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
