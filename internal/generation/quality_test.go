package generation_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Shivika2934/labquestion/internal/ai"
	"github.com/Shivika2934/labquestion/internal/generation"
	"github.com/Shivika2934/labquestion/internal/pool"
)

func TestQualityChecker_Validate(t *testing.T) {
	topic := pool.Topic{Name: "Graphs", Difficulty: pool.DifficultyHard}
	candidate := pool.Candidate{Text: "Find the shortest path from A to F."}

	tests := []struct {
		name         string
		response     string
		err          error
		wantOK       bool
		wantFeedback string
		wantErr      bool
	}{
		{"approved", `{"valid": true, "feedback": "clear"}`, nil, true, "clear", false},
		{"rejected", `{"valid": false, "feedback": "ambiguous graph"}`, nil, false, "ambiguous graph", false},
		{"fenced", "```json\n{\"valid\": false}\n```", nil, false, "", false},
		{"missing verdict", `{"feedback": "fine"}`, nil, false, "", true},
		{"wrong type", `{"valid": "yes"}`, nil, false, "", true},
		{"not json", "looks good to me", nil, false, "", true},
		{"provider error", "", errors.New("timeout"), false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &ai.MockProvider{Response: tt.response, Err: tt.err}
			checker := generation.NewQualityChecker(mock, "")

			ok, feedback, err := checker.Validate(context.Background(), topic, candidate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if ok != tt.wantOK || feedback != tt.wantFeedback {
				t.Errorf("Validate() = (%v, %q), want (%v, %q)", ok, feedback, tt.wantOK, tt.wantFeedback)
			}
			if mock.LastRequest.Task != ai.TaskValidation || !mock.LastRequest.JSON {
				t.Errorf("request = %+v", mock.LastRequest)
			}
			if !strings.Contains(mock.LastRequest.Messages[1].Content, candidate.Text) {
				t.Error("prompt should include the question text")
			}
		})
	}
}

func TestQualityChecker_NoProviderApproves(t *testing.T) {
	ok, _, err := generation.NewQualityChecker(nil, "").Validate(context.Background(), pool.Topic{}, pool.Candidate{Text: "Q"})
	if err != nil || !ok {
		t.Fatalf("Validate() = (%v, %v), want approval", ok, err)
	}
}

func TestQualityChecker_FailsOpenInIngestion(t *testing.T) {
	ctx := context.Background()
	store := pool.NewMemoryStore()
	admin := pool.Principal{UserID: "admin-1", Role: pool.RoleAdmin}
	topic, err := pool.NewCatalog(store, nil, nil).CreateTopic(ctx, admin, pool.NewTopic{Name: "Trees", Difficulty: "hard"})
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}

	mock := ai.NewMockProvider("")
	mock.Responses = []string{
		`{"valid": false, "feedback": "off topic"}`,
		"provider returned prose",
		`{"valid": true}`,
	}
	in := pool.NewIngestor(store, pool.WithQualityValidator(generation.NewQualityChecker(mock, "")))

	res, err := in.Ingest(ctx, admin, topic.ID, []pool.Candidate{{Text: "Q1"}, {Text: "Q2"}, {Text: "Q3"}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Admitted != 2 {
		t.Errorf("Admitted = %d, want 2", res.Admitted)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Index != 0 || !strings.Contains(res.Skipped[0].Reason, "off topic") {
		t.Errorf("Skipped = %+v", res.Skipped)
	}
}
