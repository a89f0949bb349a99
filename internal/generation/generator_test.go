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

func request(count int) pool.GenerationRequest {
	return pool.GenerationRequest{
		Topic: pool.Topic{
			ID:         "topic-1",
			Name:       "Binary Search",
			Category:   "Algorithms",
			Difficulty: pool.DifficultyMedium,
		},
		BaseQuestion: "Find the first index of 7 in a sorted array.",
		Count:        count,
		RequestedBy:  "admin-1",
	}
}

func TestGenerator_Generate(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		count     int
		wantErr   error
		wantTexts []string
	}{
		{
			name:      "valid document",
			response:  `{"variations": [{"question": "Q1", "expected_answer": "A1"}, {"question": "Q2"}]}`,
			count:     2,
			wantTexts: []string{"Q1", "Q2"},
		},
		{
			name:      "fenced document",
			response:  "```json\n{\"variations\": [{\"question\": \"Q1\", \"expected_answer\": \"A1\"}]}\n```",
			count:     1,
			wantTexts: []string{"Q1"},
		},
		{
			name:      "malformed entries keep their position",
			response:  `{"variations": [{"question": "Q1"}, {"expected_answer": "no question"}, "text", {"question": ""}, {"question": "Q5"}]}`,
			count:     5,
			wantTexts: []string{"Q1", "", "", "", "Q5"},
		},
		{
			name:      "shortfall",
			response:  `{"variations": [{"question": "Q1"}]}`,
			count:     3,
			wantTexts: []string{"Q1"},
		},
		{
			name:      "extra variations are dropped",
			response:  `{"variations": [{"question": "Q1"}, {"question": "Q2"}, {"question": "Q3"}]}`,
			count:     2,
			wantTexts: []string{"Q1", "Q2"},
		},
		{
			name:     "not json",
			response: "Here are your questions: 1. ...",
			count:    2,
			wantErr:  generation.ErrInvalidResponse,
		},
		{
			name:     "missing variations",
			response: `{"questions": []}`,
			count:    2,
			wantErr:  generation.ErrInvalidResponse,
		},
		{
			name:     "variations not an array",
			response: `{"variations": "Q1"}`,
			count:    2,
			wantErr:  generation.ErrInvalidResponse,
		},
		{
			name:     "empty",
			response: "  ",
			count:    2,
			wantErr:  generation.ErrInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := ai.NewMockProvider(tt.response)
			gen := generation.NewGenerator(generation.GeneratorConfig{AI: mock})

			got, err := gen.Generate(context.Background(), request(tt.count))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Generate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if len(got) != len(tt.wantTexts) {
				t.Fatalf("len(candidates) = %d, want %d", len(got), len(tt.wantTexts))
			}
			for i, want := range tt.wantTexts {
				if got[i].Text != want {
					t.Errorf("candidate %d text = %q, want %q", i, got[i].Text, want)
				}
			}
		})
	}
}

func TestGenerator_Request(t *testing.T) {
	mock := ai.NewMockProvider(`{"variations": []}`)
	gen := generation.NewGenerator(generation.GeneratorConfig{AI: mock, Model: "gpt-4o-mini"})

	if _, err := gen.Generate(context.Background(), request(4)); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	req := mock.LastRequest
	if req == nil {
		t.Fatal("provider was not called")
	}
	if !req.JSON {
		t.Error("request should ask for JSON output")
	}
	if req.Task != ai.TaskGeneration {
		t.Errorf("Task = %v, want generation", req.Task)
	}
	if req.Model != "gpt-4o-mini" || req.MaxTokens != 2000 {
		t.Errorf("Model = %q MaxTokens = %d", req.Model, req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	prompt := req.Messages[1].Content
	for _, want := range []string{"Binary Search", "Algorithms", "medium", "Find the first index of 7", "Generate 4 unique"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerator_ProviderError(t *testing.T) {
	mock := &ai.MockProvider{Err: errors.New("upstream 503")}
	gen := generation.NewGenerator(generation.GeneratorConfig{AI: mock})

	if _, err := gen.Generate(context.Background(), request(2)); err == nil {
		t.Fatal("Generate() should fail when the provider fails")
	}
}

func TestGenerator_NoProvider(t *testing.T) {
	gen := generation.NewGenerator(generation.GeneratorConfig{})
	if _, err := gen.Generate(context.Background(), request(2)); !errors.Is(err, ai.ErrNoProvider) {
		t.Fatalf("Generate() error = %v, want ErrNoProvider", err)
	}
}

func TestGenerator_ThroughRouter(t *testing.T) {
	router := ai.NewRouter()
	router.Register("broken", &ai.MockProvider{Err: errors.New("down")})
	router.Register("working", ai.NewMockProvider(`{"variations": [{"question": "Q1"}]}`))

	got, err := generation.NewGenerator(generation.GeneratorConfig{AI: router}).Generate(context.Background(), request(1))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 1 || got[0].Text != "Q1" {
		t.Errorf("candidates = %+v", got)
	}
}

func TestGenerator_Budget(t *testing.T) {
	response := `{"variations": [{"question": "Q1"}]}`
	mock := ai.NewMockProvider(response)
	budget := ai.NewInMemoryBudget(0)
	budget.SetBudget("admin-1", 40)
	gen := generation.NewGenerator(generation.GeneratorConfig{AI: mock, Budget: budget})

	if _, err := gen.Generate(context.Background(), request(1)); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	used, _, _ := budget.Usage("admin-1")
	if want := int64(10 + len(response)); used != want {
		t.Errorf("used = %d, want %d", used, want)
	}

	if _, err := gen.Generate(context.Background(), request(1)); !errors.Is(err, generation.ErrBudgetExceeded) {
		t.Fatalf("second Generate() error = %v, want ErrBudgetExceeded", err)
	}
	if mock.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", mock.Calls())
	}

	// Other administrators are unaffected.
	req := request(1)
	req.RequestedBy = "admin-2"
	if _, err := gen.Generate(context.Background(), req); err != nil {
		t.Errorf("Generate(admin-2) error = %v", err)
	}
}

func TestGenerator_WithIngestor(t *testing.T) {
	ctx := context.Background()
	store := pool.NewMemoryStore()
	store.AddUser("admin-1", "root", pool.RoleAdmin)
	admin := pool.Principal{UserID: "admin-1", Role: pool.RoleAdmin}

	topic, err := pool.NewCatalog(store, nil, nil).CreateTopic(ctx, admin, pool.NewTopic{Name: "Stacks", Difficulty: "easy"})
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}

	mock := ai.NewMockProvider(`{"variations": [{"question": "Q1", "expected_answer": "A1"}, {"question": 3}, {"question": "Q3"}]}`)
	in := pool.NewIngestor(store, pool.WithGenerator(generation.NewGenerator(generation.GeneratorConfig{AI: mock})))

	res, err := in.Generate(ctx, admin, topic.ID, "Reverse a string with a stack.", 3)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Admitted != 2 || len(res.Skipped) != 1 || res.Skipped[0].Index != 1 {
		t.Errorf("result = %+v", res)
	}

	// A broken document admits nothing.
	mock.Response = "not json"
	if _, err := in.Generate(ctx, admin, topic.ID, "Reverse a string with a stack.", 3); !errors.Is(err, pool.ErrGenerationProvider) {
		t.Fatalf("Generate() error = %v, want ErrGenerationProvider", err)
	}
	qs, err := store.ListQuestions(ctx, topic.ID)
	if err != nil {
		t.Fatalf("ListQuestions() error = %v", err)
	}
	if len(qs) != 2 {
		t.Errorf("len(questions) = %d, want 2", len(qs))
	}
}
