package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Shivika2934/labquestion/internal/ai"
	"github.com/Shivika2934/labquestion/internal/pool"
)

const qualitySystemPrompt = "You are a quality assurance expert for educational content."

var verdictSchema = mustSchema(`{
	"type": "object",
	"required": ["valid"],
	"properties": {
		"valid": {"type": "boolean"},
		"feedback": {"type": "string"}
	}
}`)

// QualityChecker reviews candidate questions for clarity, difficulty and
// relevance. pool.Ingestor treats its errors as approval.
type QualityChecker struct {
	ai    Completer
	model string
}

// NewQualityChecker creates a QualityChecker.
func NewQualityChecker(completer Completer, model string) *QualityChecker {
	return &QualityChecker{ai: completer, model: model}
}

// Validate returns the provider's verdict on c.
func (q *QualityChecker) Validate(ctx context.Context, topic pool.Topic, c pool.Candidate) (bool, string, error) {
	if q.ai == nil {
		return true, "", nil
	}

	var b strings.Builder
	b.WriteString("Evaluate this laboratory question for quality and appropriateness:\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", topic.Name)
	fmt.Fprintf(&b, "Difficulty: %s\n", topic.Difficulty)
	fmt.Fprintf(&b, "Question: %s\n\n", c.Text)
	b.WriteString("Assess the question on:\n")
	b.WriteString("1. Clarity and understandability\n")
	b.WriteString("2. Appropriate difficulty level\n")
	b.WriteString("3. Relevance to the topic\n")
	b.WriteString("4. Suitability for laboratory setting\n\n")
	b.WriteString(`Respond with JSON: {"valid": true/false, "feedback": "brief explanation"}`)

	resp, err := q.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: qualitySystemPrompt},
			{Role: "user", Content: b.String()},
		},
		Model:     q.model,
		MaxTokens: 500,
		Task:      ai.TaskValidation,
		JSON:      true,
	})
	if err != nil {
		return false, "", fmt.Errorf("complete quality check: %w", err)
	}

	raw := extractJSON(resp.Content)
	if err := validate(verdictSchema, gojsonschema.NewStringLoader(raw)); err != nil {
		return false, "", fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	var verdict struct {
		Valid    bool   `json:"valid"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return false, "", fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return verdict.Valid, verdict.Feedback, nil
}
