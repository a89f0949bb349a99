package pool

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists topics, their question pools and assignments.
//
// InsertQuestions must be atomic: either every candidate becomes a question or
// none does. ClaimQuestion must flip the question's availability and insert the
// assignment in one indivisible step, reporting ErrConflict when the question
// was already consumed and ErrAlreadyAssigned when the user already holds an
// assignment for the topic. Neither outcome may leave partial state behind.
type Store interface {
	CreateTopic(ctx context.Context, topic Topic) (Topic, error)
	GetTopic(ctx context.Context, id string) (Topic, error)
	FindTopicByName(ctx context.Context, name string) (Topic, error)
	ListTopics(ctx context.Context, filter TopicFilter) ([]Topic, error)
	DeleteTopic(ctx context.Context, id string) error

	InsertQuestions(ctx context.Context, topicID string, candidates []Candidate) ([]Question, error)
	ListQuestions(ctx context.Context, topicID string) ([]Question, error)
	AvailableQuestionIDs(ctx context.Context, topicID string) ([]string, error)

	ClaimQuestion(ctx context.Context, userID, topicID, questionID string) (Assignment, error)
	FindAssignment(ctx context.Context, userID, topicID string) (Assignment, error)
	GetAssignment(ctx context.Context, id string) (AssignmentDetail, error)
	CompleteAssignment(ctx context.Context, id, userID string) (Assignment, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]AssignmentDetail, error)

	PoolStats(ctx context.Context, topicID string) (PoolStats, error)
	Dashboard(ctx context.Context) (Dashboard, error)
}

type memUser struct {
	username string
	role     Role
}

// MemoryStore is an in-memory implementation of Store used in tests and
// when no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	topics      map[string]*Topic
	topicOrder  []string
	questions   map[string]*Question
	byTopic     map[string][]string // topic -> question ids in variation order
	assignments map[string]*Assignment
	userTopic   map[[2]string]string // (user, topic) -> assignment id
	users       map[string]memUser
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics:      make(map[string]*Topic),
		questions:   make(map[string]*Question),
		byTopic:     make(map[string][]string),
		assignments: make(map[string]*Assignment),
		userTopic:   make(map[[2]string]string),
		users:       make(map[string]memUser),
	}
}

// AddUser registers a user so joined listings can report usernames and the
// dashboard can count students.
func (s *MemoryStore) AddUser(id, username string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = memUser{username: username, role: role}
}

func (s *MemoryStore) CreateTopic(ctx context.Context, topic Topic) (Topic, error) {
	if err := ctx.Err(); err != nil {
		return Topic{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	topic.ID = uuid.NewString()
	topic.CreatedAt = time.Now().UTC()
	s.topics[topic.ID] = &topic
	s.topicOrder = append(s.topicOrder, topic.ID)
	return topic, nil
}

func (s *MemoryStore) GetTopic(_ context.Context, id string) (Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[id]
	if !ok {
		return Topic{}, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return *t, nil
}

func (s *MemoryStore) FindTopicByName(_ context.Context, name string) (Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.topicOrder {
		if t := s.topics[id]; t.Name == name {
			return *t, nil
		}
	}
	return Topic{}, fmt.Errorf("topic %q: %w", name, ErrNotFound)
}

func (s *MemoryStore) ListTopics(_ context.Context, filter TopicFilter) ([]Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Topic{}
	// Newest first.
	for i := len(s.topicOrder) - 1; i >= 0; i-- {
		t := s.topics[s.topicOrder[i]]
		if filter.Difficulty != "" && t.Difficulty != filter.Difficulty {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) DeleteTopic(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[id]; !ok {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}

	for _, qid := range s.byTopic[id] {
		delete(s.questions, qid)
	}
	delete(s.byTopic, id)

	for key, aid := range s.userTopic {
		if key[1] == id {
			delete(s.assignments, aid)
			delete(s.userTopic, key)
		}
	}

	delete(s.topics, id)
	s.topicOrder = slices.DeleteFunc(s.topicOrder, func(tid string) bool { return tid == id })
	return nil
}

func (s *MemoryStore) InsertQuestions(ctx context.Context, topicID string, candidates []Candidate) ([]Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	topic, ok := s.topics[topicID]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}

	next := 1
	if ids := s.byTopic[topicID]; len(ids) > 0 {
		next = s.questions[ids[len(ids)-1]].Variation + 1
	}

	now := time.Now().UTC()
	out := make([]Question, 0, len(candidates))
	for i, c := range candidates {
		q := &Question{
			ID:         uuid.NewString(),
			TopicID:    topicID,
			Text:       c.Text,
			Answer:     c.Answer,
			Difficulty: topic.Difficulty,
			Variation:  next + i,
			CreatedAt:  now,
		}
		s.questions[q.ID] = q
		s.byTopic[topicID] = append(s.byTopic[topicID], q.ID)
		out = append(out, *q)
	}
	return out, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context, topicID string) ([]Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.topics[topicID]; !ok {
		return nil, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}

	out := make([]Question, 0, len(s.byTopic[topicID]))
	for _, id := range s.byTopic[topicID] {
		out = append(out, *s.questions[id])
	}
	return out, nil
}

func (s *MemoryStore) AvailableQuestionIDs(_ context.Context, topicID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, id := range s.byTopic[topicID] {
		if !s.questions[id].Assigned {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ClaimQuestion(ctx context.Context, userID, topicID, questionID string) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topicID]; !ok {
		return Assignment{}, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	q, ok := s.questions[questionID]
	if !ok || q.TopicID != topicID {
		return Assignment{}, fmt.Errorf("question %s: %w", questionID, ErrConflict)
	}
	if q.Assigned {
		return Assignment{}, fmt.Errorf("question %s: %w", questionID, ErrConflict)
	}
	key := [2]string{userID, topicID}
	if _, ok := s.userTopic[key]; ok {
		return Assignment{}, fmt.Errorf("user %s topic %s: %w", userID, topicID, ErrAlreadyAssigned)
	}

	a := &Assignment{
		ID:         uuid.NewString(),
		UserID:     userID,
		QuestionID: questionID,
		TopicID:    topicID,
		AssignedAt: time.Now().UTC(),
	}
	q.Assigned = true
	s.assignments[a.ID] = a
	s.userTopic[key] = a.ID
	return *a, nil
}

func (s *MemoryStore) FindAssignment(_ context.Context, userID, topicID string) (Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userTopic[[2]string{userID, topicID}]
	if !ok {
		return Assignment{}, fmt.Errorf("assignment for user %s topic %s: %w", userID, topicID, ErrNotFound)
	}
	return *s.assignments[id], nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, id string) (AssignmentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return AssignmentDetail{}, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	return s.detail(a), nil
}

func (s *MemoryStore) CompleteAssignment(ctx context.Context, id, userID string) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok || a.UserID != userID {
		return Assignment{}, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	if !a.Completed {
		now := time.Now().UTC()
		a.Completed = true
		a.CompletedAt = &now
	}
	return *a, nil
}

func (s *MemoryStore) ListAssignments(_ context.Context, filter AssignmentFilter) ([]AssignmentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []AssignmentDetail{}
	for _, a := range s.assignments {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.TopicID != "" && a.TopicID != filter.TopicID {
			continue
		}
		if filter.Completed != nil && a.Completed != *filter.Completed {
			continue
		}
		out = append(out, s.detail(a))
	}
	slices.SortFunc(out, func(x, y AssignmentDetail) int {
		if c := y.AssignedAt.Compare(x.AssignedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

func (s *MemoryStore) PoolStats(_ context.Context, topicID string) (PoolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.topics[topicID]; !ok {
		return PoolStats{}, fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	return s.stats(topicID), nil
}

func (s *MemoryStore) Dashboard(_ context.Context) (Dashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := Dashboard{
		Topics:      len(s.topics),
		Questions:   len(s.questions),
		Assignments: len(s.assignments),
		Pools:       []PoolStats{},
	}
	for _, u := range s.users {
		if u.role == RoleStudent {
			d.Students++
		}
	}
	for _, a := range s.assignments {
		if a.Completed {
			d.Completed++
		}
	}
	for i := len(s.topicOrder) - 1; i >= 0; i-- {
		d.Pools = append(d.Pools, s.stats(s.topicOrder[i]))
	}
	return d, nil
}

func (s *MemoryStore) stats(topicID string) PoolStats {
	st := PoolStats{TopicID: topicID}
	for _, id := range s.byTopic[topicID] {
		st.Total++
		if s.questions[id].Assigned {
			st.Consumed++
		}
	}
	st.Available = st.Total - st.Consumed
	return st
}

func (s *MemoryStore) detail(a *Assignment) AssignmentDetail {
	d := AssignmentDetail{Assignment: *a, Username: s.users[a.UserID].username}
	if t, ok := s.topics[a.TopicID]; ok {
		d.TopicName = t.Name
		d.Category = t.Category
		d.Difficulty = t.Difficulty
	}
	if q, ok := s.questions[a.QuestionID]; ok {
		d.QuestionText = q.Text
		d.Answer = q.Answer
		d.Variation = q.Variation
	}
	return d
}
