package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Shivika2934/labquestion/internal/api"
	"github.com/Shivika2934/labquestion/internal/auth"
	"github.com/Shivika2934/labquestion/internal/pool"
	"github.com/Shivika2934/labquestion/internal/users"
)

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req pool.GenerationRequest) ([]pool.Candidate, error) {
	out := make([]pool.Candidate, req.Count)
	for i := range out {
		out[i] = pool.Candidate{
			Text:   fmt.Sprintf("%s (variant %d)", req.BaseQuestion, i+1),
			Answer: fmt.Sprintf("answer %d", i+1),
		}
	}
	return out, nil
}

type fixture struct {
	t            *testing.T
	handler      http.Handler
	users        *users.Service
	tokens       *auth.Tokens
	adminToken   string
	studentToken string
	student      users.User
}

func newFixture(t *testing.T, checks map[string]api.Check) *fixture {
	t.Helper()

	store := pool.NewMemoryStore()
	svc := users.NewService(users.NewMemoryStore(store), users.WithBcryptCost(bcrypt.MinCost))
	tokens := auth.NewTokens("test-secret", time.Hour)

	f := &fixture{t: t, users: svc, tokens: tokens}
	f.handler = api.NewRouter(api.Deps{
		Catalog:      pool.NewCatalog(store, nil, nil),
		Allocator:    pool.NewAllocator(store),
		Tracker:      pool.NewTracker(store, nil),
		Ingestor:     pool.NewIngestor(store, pool.WithGenerator(stubGenerator{}), pool.WithMaxGenerate(10)),
		Users:        svc,
		Tokens:       tokens,
		Checks:       checks,
		CORSOrigins:  []string{"http://localhost:3000"},
		FeedInterval: 10 * time.Millisecond,
	})

	_, f.adminToken = f.newUser("admin", pool.RoleAdmin)
	f.student, f.studentToken = f.newUser("student", pool.RoleStudent)
	return f
}

func (f *fixture) newUser(username string, role pool.Role) (users.User, string) {
	f.t.Helper()
	u, err := f.users.Register(context.Background(), users.NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Role:     role,
	})
	if err != nil {
		f.t.Fatalf("Register(%s) error = %v", username, err)
	}
	token, _, err := f.tokens.Issue(u.Principal())
	if err != nil {
		f.t.Fatalf("Issue() error = %v", err)
	}
	return u, token
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. It returns the status code.
func (f *fixture) do(method, path, token string, body any, out any) int {
	f.t.Helper()

	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			f.t.Fatalf("%s %s: decode response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func (f *fixture) createTopic(name string) pool.Topic {
	f.t.Helper()
	var topic pool.Topic
	code := f.do(http.MethodPost, "/api/v1/topics", f.adminToken, pool.NewTopic{
		Name:       name,
		Difficulty: "medium",
		Category:   "Networking",
	}, &topic)
	if code != http.StatusCreated {
		f.t.Fatalf("create topic status = %d, want 201", code)
	}
	return topic
}

func (f *fixture) ingest(topicID string, texts ...string) pool.IngestResult {
	f.t.Helper()
	qs := make([]pool.Candidate, len(texts))
	for i, text := range texts {
		qs[i] = pool.Candidate{Text: text, Answer: "answer"}
	}
	var res pool.IngestResult
	code := f.do(http.MethodPost, "/api/v1/topics/"+topicID+"/questions", f.adminToken,
		map[string]any{"questions": qs}, &res)
	if code != http.StatusCreated {
		f.t.Fatalf("ingest status = %d, want 201", code)
	}
	return res
}

type errorBody struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Details *pool.ValidationError `json:"details"`
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"healthz returns ok", "/healthz", http.StatusOK, "ok"},
		{"readyz without checks", "/readyz", http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			if code := f.do(http.MethodGet, tt.path, "", nil, &body); code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %v, want %q", body["status"], tt.wantBody)
			}
		})
	}
}

func TestReadyz_ReportsFailingCheck(t *testing.T) {
	f := newFixture(t, map[string]api.Check{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return errors.New("connection refused") },
	})

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if code := f.do(http.MethodGet, "/readyz", "", nil, &body); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body.Status != "unavailable" {
		t.Errorf("status = %q, want unavailable", body.Status)
	}
	if got := body.Checks["cache"]; got != "connection refused" {
		t.Errorf("cache check = %q, want connection refused", got)
	}
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	f := newFixture(t, nil)

	var u users.User
	code := f.do(http.MethodPost, "/api/v1/auth/register", "", users.NewUser{
		Username: "mallory",
		Email:    "mallory@example.com",
		Password: "password123",
		Role:     pool.RoleAdmin,
	}, &u)
	if code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", code)
	}
	if u.Role != pool.RoleStudent {
		t.Errorf("anonymous registration role = %q, want student", u.Role)
	}

	var staff users.User
	code = f.do(http.MethodPost, "/api/v1/auth/register", f.adminToken, users.NewUser{
		Username: "staff",
		Email:    "staff@example.com",
		Password: "password123",
		Role:     pool.RoleAdmin,
	}, &staff)
	if code != http.StatusCreated || staff.Role != pool.RoleAdmin {
		t.Errorf("admin-created account = %d %q, want 201 admin", code, staff.Role)
	}

	var dup errorBody
	code = f.do(http.MethodPost, "/api/v1/auth/register", "", users.NewUser{
		Username: "mallory",
		Email:    "other@example.com",
		Password: "password123",
	}, &dup)
	if code != http.StatusConflict || dup.Error != "already_exists" {
		t.Errorf("duplicate register = %d %q, want 409 already_exists", code, dup.Error)
	}

	var bad errorBody
	if code := f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "mallory", "password": "wrong-password",
	}, &bad); code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", code)
	}

	var tok struct {
		AccessToken string     `json:"access_token"`
		TokenType   string     `json:"token_type"`
		User        users.User `json:"user"`
	}
	if code := f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "mallory", "password": "password123",
	}, &tok); code != http.StatusOK {
		t.Fatalf("login status = %d, want 200", code)
	}
	if tok.TokenType != "Bearer" || tok.AccessToken == "" {
		t.Errorf("token response = %+v", tok)
	}

	var me users.User
	if code := f.do(http.MethodGet, "/api/v1/auth/me", tok.AccessToken, nil, &me); code != http.StatusOK {
		t.Fatalf("me status = %d, want 200", code)
	}
	if me.ID != u.ID || me.Username != "mallory" {
		t.Errorf("me = %+v, want %s", me, u.ID)
	}
}

func TestAuth_MalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "{"},
		{"unknown field", `{"username":"a","password":"b","extra":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, req)
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", w.Code)
			}
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/api/v1/topics", "/api/v1/assignments", "/api/v1/admin/dashboard"} {
		t.Run(path, func(t *testing.T) {
			if code := f.do(http.MethodGet, path, "", nil, nil); code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", code)
			}
			if code := f.do(http.MethodGet, path, "not-a-token", nil, nil); code != http.StatusUnauthorized {
				t.Errorf("garbage token status = %d, want 401", code)
			}
		})
	}
}

func TestTopics_CreateValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		token      string
		in         pool.NewTopic
		wantStatus int
		wantField  string
	}{
		{"student forbidden", f.studentToken, pool.NewTopic{Name: "TCP", Difficulty: "easy"}, http.StatusForbidden, ""},
		{"missing name", f.adminToken, pool.NewTopic{Difficulty: "easy"}, http.StatusUnprocessableEntity, "name"},
		{"bad difficulty", f.adminToken, pool.NewTopic{Name: "TCP", Difficulty: "extreme"}, http.StatusUnprocessableEntity, "difficulty"},
		{"ok", f.adminToken, pool.NewTopic{Name: "TCP", Difficulty: "easy"}, http.StatusCreated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			code := f.do(http.MethodPost, "/api/v1/topics", tt.token, tt.in, &body)
			if code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", code, tt.wantStatus, body.Message)
			}
			if tt.wantField != "" && (body.Details == nil || body.Details.Field != tt.wantField) {
				t.Errorf("details = %+v, want field %q", body.Details, tt.wantField)
			}
		})
	}
}

func TestTopics_ListFilters(t *testing.T) {
	f := newFixture(t, nil)
	f.createTopic("Routing")
	var easy pool.Topic
	f.do(http.MethodPost, "/api/v1/topics", f.adminToken, pool.NewTopic{Name: "Sockets", Difficulty: "easy"}, &easy)

	var all []pool.Topic
	if code := f.do(http.MethodGet, "/api/v1/topics", f.studentToken, nil, &all); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(all) != 2 {
		t.Errorf("topics = %d, want 2", len(all))
	}

	var filtered []pool.Topic
	f.do(http.MethodGet, "/api/v1/topics?difficulty=easy", f.studentToken, nil, &filtered)
	if len(filtered) != 1 || filtered[0].ID != easy.ID {
		t.Errorf("easy topics = %+v, want only %s", filtered, easy.ID)
	}

	if code := f.do(http.MethodGet, "/api/v1/topics?difficulty=impossible", f.studentToken, nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("bad filter status = %d, want 422", code)
	}
}

func TestAssignmentFlow(t *testing.T) {
	f := newFixture(t, nil)
	topic := f.createTopic("Congestion control")

	res := f.ingest(topic.ID, "What is slow start?", "What is AIMD?")
	if res.Admitted != 2 {
		t.Fatalf("admitted = %d, want 2", res.Admitted)
	}

	var gen pool.IngestResult
	code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/generate", f.adminToken,
		map[string]any{"base_question": "Explain fast retransmit"}, &gen)
	if code != http.StatusCreated {
		t.Fatalf("generate status = %d, want 201", code)
	}
	if gen.Requested != 5 || gen.Admitted != 5 {
		t.Errorf("generate = requested %d admitted %d, want 5/5", gen.Requested, gen.Admitted)
	}

	if code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/generate", f.studentToken,
		map[string]any{"base_question": "x", "count": 1}, nil); code != http.StatusForbidden {
		t.Errorf("student generate status = %d, want 403", code)
	}
	if code := f.do(http.MethodGet, "/api/v1/topics/"+topic.ID+"/questions", f.studentToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("student list questions status = %d, want 403", code)
	}

	var first pool.AssignmentDetail
	if code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/assign", f.studentToken, nil, &first); code != http.StatusOK {
		t.Fatalf("assign status = %d, want 200", code)
	}
	if first.QuestionText == "" || first.UserID != f.student.ID || first.TopicName != topic.Name {
		t.Errorf("assignment = %+v", first)
	}

	var again pool.AssignmentDetail
	f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/assign", f.studentToken, nil, &again)
	if again.ID != first.ID || again.QuestionID != first.QuestionID {
		t.Errorf("repeat assign = %s/%s, want %s/%s", again.ID, again.QuestionID, first.ID, first.QuestionID)
	}

	var stats pool.PoolStats
	f.do(http.MethodGet, "/api/v1/topics/"+topic.ID+"/pool", f.studentToken, nil, &stats)
	if stats.Total != 7 || stats.Available != 6 || stats.Consumed != 1 {
		t.Errorf("stats = %+v, want 7/6/1", stats)
	}

	var mine []pool.AssignmentDetail
	f.do(http.MethodGet, "/api/v1/assignments?completed=false", f.studentToken, nil, &mine)
	if len(mine) != 1 || mine[0].ID != first.ID {
		t.Errorf("my open assignments = %+v", mine)
	}

	_, otherToken := f.newUser("other", pool.RoleStudent)
	if code := f.do(http.MethodGet, "/api/v1/assignments/"+first.ID, otherToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("other student get status = %d, want 404", code)
	}
	if code := f.do(http.MethodPost, "/api/v1/assignments/"+first.ID+"/complete", otherToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("other student complete status = %d, want 404", code)
	}

	var done pool.Assignment
	if code := f.do(http.MethodPost, "/api/v1/assignments/"+first.ID+"/complete", f.studentToken, nil, &done); code != http.StatusOK {
		t.Fatalf("complete status = %d, want 200", code)
	}
	if !done.Completed || done.CompletedAt == nil {
		t.Errorf("completed assignment = %+v", done)
	}

	var completed []pool.AssignmentDetail
	f.do(http.MethodGet, "/api/v1/assignments?completed=true", f.studentToken, nil, &completed)
	if len(completed) != 1 {
		t.Errorf("completed assignments = %d, want 1", len(completed))
	}
	if code := f.do(http.MethodGet, "/api/v1/assignments?completed=maybe", f.studentToken, nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("bad completed filter status = %d, want 422", code)
	}

	var dash pool.Dashboard
	if code := f.do(http.MethodGet, "/api/v1/admin/dashboard", f.adminToken, nil, &dash); code != http.StatusOK {
		t.Fatalf("dashboard status = %d, want 200", code)
	}
	if dash.Questions != 7 || dash.Assignments != 1 || dash.Completed != 1 {
		t.Errorf("dashboard = %+v", dash)
	}
	if code := f.do(http.MethodGet, "/api/v1/admin/dashboard", f.studentToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("student dashboard status = %d, want 403", code)
	}

	if code := f.do(http.MethodDelete, "/api/v1/topics/"+topic.ID, f.adminToken, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", code)
	}
	if code := f.do(http.MethodGet, "/api/v1/topics/"+topic.ID, f.studentToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("get deleted topic status = %d, want 404", code)
	}
}

func TestAssign_PoolExhausted(t *testing.T) {
	f := newFixture(t, nil)
	topic := f.createTopic("Checksums")
	f.ingest(topic.ID, "Compute the Internet checksum of 0x4500")

	if code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/assign", f.studentToken, nil, nil); code != http.StatusOK {
		t.Fatalf("first assign status = %d, want 200", code)
	}

	_, otherToken := f.newUser("latecomer", pool.RoleStudent)
	var body errorBody
	if code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/assign", otherToken, nil, &body); code != http.StatusConflict {
		t.Fatalf("second assign status = %d, want 409", code)
	}
	if body.Error != "pool_exhausted" {
		t.Errorf("error = %q, want pool_exhausted", body.Error)
	}

	if code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/assign", f.adminToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("admin assign status = %d, want 403", code)
	}
	if code := f.do(http.MethodPost, "/api/v1/topics/missing/assign", otherToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown topic assign status = %d, want 404", code)
	}
}

func TestIngest_ReportsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	topic := f.createTopic("DNS")

	var res pool.IngestResult
	code := f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/questions", f.adminToken, map[string]any{
		"questions": []pool.Candidate{{Text: "   "}, {Text: "What is a CNAME?"}},
	}, &res)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", code)
	}
	if res.Admitted != 1 || len(res.Skipped) != 1 || res.Skipped[0].Index != 0 {
		t.Errorf("result = admitted %d skipped %+v", res.Admitted, res.Skipped)
	}

	code = f.do(http.MethodPost, "/api/v1/topics/"+topic.ID+"/questions", f.adminToken, map[string]any{
		"questions": []pool.Candidate{{Text: ""}},
	}, &res)
	if code != http.StatusOK || res.Admitted != 0 {
		t.Errorf("all-skipped batch = %d admitted %d, want 200/0", code, res.Admitted)
	}
}
