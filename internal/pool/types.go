// Package pool implements the question pool and exclusive assignment engine:
// ingestion of generated question variants, race-safe allocation of one
// question per (user, topic), and completion tracking.
package pool

import (
	"fmt"
	"strings"
	"time"
)

// Difficulty is the fixed difficulty tier of a topic.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty validates a difficulty tier, case-insensitively.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", &ValidationError{Index: -1, Field: "difficulty", Reason: fmt.Sprintf("unknown difficulty %q", s)}
	}
}

// Role is the role a user acts under.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStudent
}

// Principal is the capability passed explicitly into every engine operation.
// It is produced by the authentication layer and never read from ambient state.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the principal may perform administrative operations.
func (p Principal) IsAdmin() bool {
	return p.UserID != "" && p.Role == RoleAdmin
}

// IsStudent reports whether the principal may request assignments.
func (p Principal) IsStudent() bool {
	return p.UserID != "" && p.Role == RoleStudent
}

// Topic is a named subject area owning a pool of questions.
type Topic struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
	Category    string     `json:"category"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewTopic is the input for creating a topic.
type NewTopic struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
	Category    string `json:"category"`
}

// Question is one variant in a topic's pool.
type Question struct {
	ID         string     `json:"id"`
	TopicID    string     `json:"topic_id"`
	Text       string     `json:"question_text"`
	Answer     string     `json:"expected_answer"`
	Difficulty Difficulty `json:"difficulty"`
	Variation  int        `json:"variation_number"`
	Assigned   bool       `json:"is_assigned"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Candidate is a generated question variant awaiting ingestion.
type Candidate struct {
	Text   string `json:"question"`
	Answer string `json:"expected_answer,omitempty"`
}

// Assignment binds one question to one user within one topic.
type Assignment struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	QuestionID  string     `json:"question_id"`
	TopicID     string     `json:"topic_id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	AssignedAt  time.Time  `json:"assigned_at"`
}

// AssignmentDetail is an assignment joined with its topic, question and user.
type AssignmentDetail struct {
	Assignment
	Username     string     `json:"username"`
	TopicName    string     `json:"topic_name"`
	Category     string     `json:"category"`
	Difficulty   Difficulty `json:"difficulty"`
	QuestionText string     `json:"question_text"`
	Answer       string     `json:"expected_answer"`
	Variation    int        `json:"variation_number"`
}

// PoolStats summarizes the availability of a topic's pool.
type PoolStats struct {
	TopicID   string `json:"topic_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Consumed  int    `json:"consumed"`
}

// Dashboard holds system-wide counts for administrators.
type Dashboard struct {
	Topics      int         `json:"topics"`
	Questions   int         `json:"questions"`
	Students    int         `json:"students"`
	Assignments int         `json:"assignments"`
	Completed   int         `json:"completed"`
	Pools       []PoolStats `json:"pools"`
}

// TopicFilter narrows ListTopics. Zero values match everything.
type TopicFilter struct {
	Difficulty Difficulty
	Category   string
}

// AssignmentFilter narrows ListAssignments. Zero values match everything.
type AssignmentFilter struct {
	UserID    string
	TopicID   string
	Completed *bool
}
