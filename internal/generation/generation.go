// Package generation asks an AI provider for question variants and screens
// them for quality. It plugs into pool.Ingestor as its Generator and
// QualityValidator.
package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Shivika2934/labquestion/internal/ai"
)

var (
	// ErrInvalidResponse is returned when the provider's reply is not the
	// expected JSON document.
	ErrInvalidResponse = errors.New("invalid AI response")
	// ErrBudgetExceeded is returned when the requesting administrator has
	// used up their token budget.
	ErrBudgetExceeded = errors.New("token budget exceeded")
)

// Completer is the slice of ai.Router used here.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error)
}

// extractJSON strips a markdown code fence some providers wrap around JSON
// even when asked not to.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

// validate checks doc against schema and folds the violations into one error.
func validate(schema *gojsonschema.Schema, doc gojsonschema.JSONLoader) error {
	result, err := schema.Validate(doc)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
