package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	topicColumns      = "id::text, name, description, difficulty, category, created_by::text, created_at"
	questionColumns   = "id::text, topic_id::text, question_text, expected_answer, difficulty, variation_number, is_assigned, created_at"
	assignmentColumns = "id::text, user_id::text, question_id::text, topic_id::text, completed, completed_at, assigned_at"
)

var detailColumns = []string{
	"a.id::text", "a.user_id::text", "a.question_id::text", "a.topic_id::text",
	"a.completed", "a.completed_at", "a.assigned_at",
	"u.username", "t.name", "t.category", "t.difficulty",
	"q.question_text", "q.expected_answer", "q.variation_number",
}

// PostgresStore is a PostgreSQL-backed Store. Uniqueness of (user, topic)
// and single ownership of a question are enforced by table constraints.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed pool store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateTopic(ctx context.Context, topic Topic) (Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	owner, err := parseID("user", topic.CreatedBy)
	if err != nil {
		return Topic{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO topics (id, name, description, difficulty, category, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+topicColumns,
		uuid.New(),
		topic.Name,
		topic.Description,
		string(topic.Difficulty),
		topic.Category,
		owner,
	)
	created, err := scanTopic(row)
	if err != nil {
		return Topic{}, mapError(err, "topic", topic.Name)
	}
	return created, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, id string) (Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tid, err := parseID("topic", id)
	if err != nil {
		return Topic{}, err
	}

	t, err := scanTopic(s.pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = $1`, tid))
	if err != nil {
		return Topic{}, mapError(err, "topic", id)
	}
	return t, nil
}

func (s *PostgresStore) FindTopicByName(ctx context.Context, name string) (Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	t, err := scanTopic(s.pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE name = $1 ORDER BY created_at LIMIT 1`, name))
	if err != nil {
		return Topic{}, mapError(err, "topic", name)
	}
	return t, nil
}

func (s *PostgresStore) ListTopics(ctx context.Context, filter TopicFilter) ([]Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q := psql.Select(topicColumns).From("topics").OrderBy("created_at DESC", "id")
	if filter.Difficulty != "" {
		q = q.Where(sq.Eq{"difficulty": string(filter.Difficulty)})
	}
	if filter.Category != "" {
		q = q.Where(sq.Eq{"category": filter.Category})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topic query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	topics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Topic, error) {
		return scanTopic(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collect topics: %w", err)
	}
	return topics, nil
}

func (s *PostgresStore) DeleteTopic(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tid, err := parseID("topic", id)
	if err != nil {
		return err
	}

	// Questions and assignments go with the topic via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM topics WHERE id = $1`, tid)
	if err != nil {
		return mapError(err, "topic", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertQuestions(ctx context.Context, topicID string, candidates []Candidate) ([]Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tid, err := parseID("topic", topicID)
	if err != nil {
		return nil, err
	}

	var out []Question
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Serializes batches for one topic so variation numbers stay dense.
		// NO KEY UPDATE does not block the KEY SHARE taken by assignment inserts.
		var difficulty string
		if err := tx.QueryRow(ctx,
			`SELECT difficulty FROM topics WHERE id = $1 FOR NO KEY UPDATE`, tid,
		).Scan(&difficulty); err != nil {
			return mapError(err, "topic", topicID)
		}

		var last int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(variation_number), 0) FROM questions WHERE topic_id = $1`, tid,
		).Scan(&last); err != nil {
			return fmt.Errorf("read last variation: %w", err)
		}

		now := time.Now().UTC()
		rows := make([][]any, 0, len(candidates))
		out = make([]Question, 0, len(candidates))
		for i, c := range candidates {
			id := uuid.New()
			q := Question{
				ID:         id.String(),
				TopicID:    topicID,
				Text:       c.Text,
				Answer:     c.Answer,
				Difficulty: Difficulty(difficulty),
				Variation:  last + i + 1,
				CreatedAt:  now,
			}
			out = append(out, q)
			rows = append(rows, []any{id, tid, q.Text, q.Answer, difficulty, q.Variation, false, now})
		}
		if len(rows) == 0 {
			return nil
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"questions"},
			[]string{"id", "topic_id", "question_text", "expected_answer", "difficulty", "variation_number", "is_assigned", "created_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return mapError(err, "questions for topic", topicID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, topicID string) ([]Question, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tid, err := parseID("topic", topicID)
	if err != nil {
		return nil, err
	}
	if err := s.topicExists(ctx, tid, topicID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE topic_id = $1 ORDER BY variation_number`, tid)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	questions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Question, error) {
		var q Question
		var difficulty string
		err := row.Scan(&q.ID, &q.TopicID, &q.Text, &q.Answer, &difficulty, &q.Variation, &q.Assigned, &q.CreatedAt)
		q.Difficulty = Difficulty(difficulty)
		return q, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect questions: %w", err)
	}
	return questions, nil
}

func (s *PostgresStore) AvailableQuestionIDs(ctx context.Context, topicID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tid, err := parseID("topic", topicID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id::text FROM questions WHERE topic_id = $1 AND NOT is_assigned`, tid)
	if err != nil {
		return nil, fmt.Errorf("query available questions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect available questions: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ClaimQuestion(ctx context.Context, userID, topicID, questionID string) (Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	uid, err := parseID("user", userID)
	if err != nil {
		return Assignment{}, err
	}
	tid, err := parseID("topic", topicID)
	if err != nil {
		return Assignment{}, err
	}
	qid, err := parseID("question", questionID)
	if err != nil {
		return Assignment{}, err
	}

	var a Assignment
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Check-and-set on the availability flag. A concurrent winner makes
		// this match zero rows once its transaction commits.
		tag, err := tx.Exec(ctx,
			`UPDATE questions SET is_assigned = true
			 WHERE id = $1 AND topic_id = $2 AND NOT is_assigned`,
			qid, tid,
		)
		if err != nil {
			return mapError(err, "question", questionID)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("question %s: %w", questionID, ErrConflict)
		}

		id := uuid.New()
		a = Assignment{
			ID:         id.String(),
			UserID:     userID,
			QuestionID: questionID,
			TopicID:    topicID,
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO assignments (id, user_id, question_id, topic_id)
			 VALUES ($1, $2, $3, $4)
			 RETURNING assigned_at`,
			id, uid, qid, tid,
		).Scan(&a.AssignedAt); err != nil {
			return mapError(err, "assignment for user", userID)
		}
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (s *PostgresStore) FindAssignment(ctx context.Context, userID, topicID string) (Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	uid, err := parseID("user", userID)
	if err != nil {
		return Assignment{}, err
	}
	tid, err := parseID("topic", topicID)
	if err != nil {
		return Assignment{}, err
	}

	a, err := scanAssignment(s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = $1 AND topic_id = $2`,
		uid, tid,
	))
	if err != nil {
		return Assignment{}, mapError(err, "assignment for user", userID)
	}
	return a, nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, id string) (AssignmentDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	aid, err := parseID("assignment", id)
	if err != nil {
		return AssignmentDetail{}, err
	}

	query, args, err := detailQuery().Where(sq.Eq{"a.id": aid}).ToSql()
	if err != nil {
		return AssignmentDetail{}, fmt.Errorf("build assignment query: %w", err)
	}
	d, err := scanDetail(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return AssignmentDetail{}, mapError(err, "assignment", id)
	}
	return d, nil
}

func (s *PostgresStore) CompleteAssignment(ctx context.Context, id, userID string) (Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	aid, err := parseID("assignment", id)
	if err != nil {
		return Assignment{}, err
	}
	uid, err := parseID("user", userID)
	if err != nil {
		return Assignment{}, err
	}

	// Ownership is part of the predicate so a foreign assignment looks absent.
	a, err := scanAssignment(s.pool.QueryRow(ctx,
		`UPDATE assignments
		 SET completed = true, completed_at = COALESCE(completed_at, now())
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+assignmentColumns,
		aid, uid,
	))
	if err != nil {
		return Assignment{}, mapError(err, "assignment", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]AssignmentDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	q := detailQuery().OrderBy("a.assigned_at DESC", "a.id")
	if filter.UserID != "" {
		uid, err := uuid.Parse(filter.UserID)
		if err != nil {
			return []AssignmentDetail{}, nil
		}
		q = q.Where(sq.Eq{"a.user_id": uid})
	}
	if filter.TopicID != "" {
		tid, err := uuid.Parse(filter.TopicID)
		if err != nil {
			return []AssignmentDetail{}, nil
		}
		q = q.Where(sq.Eq{"a.topic_id": tid})
	}
	if filter.Completed != nil {
		q = q.Where(sq.Eq{"a.completed": *filter.Completed})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build assignment query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	details, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AssignmentDetail, error) {
		return scanDetail(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collect assignments: %w", err)
	}
	return details, nil
}

func (s *PostgresStore) PoolStats(ctx context.Context, topicID string) (PoolStats, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tid, err := parseID("topic", topicID)
	if err != nil {
		return PoolStats{}, err
	}

	st, err := scanStats(s.pool.QueryRow(ctx,
		`SELECT t.id::text, count(q.id), count(q.id) FILTER (WHERE q.is_assigned)
		 FROM topics t
		 LEFT JOIN questions q ON q.topic_id = t.id
		 WHERE t.id = $1
		 GROUP BY t.id`,
		tid,
	))
	if err != nil {
		return PoolStats{}, mapError(err, "topic", topicID)
	}
	return st, nil
}

func (s *PostgresStore) Dashboard(ctx context.Context) (Dashboard, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var d Dashboard
	if err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM topics),
		   (SELECT count(*) FROM questions),
		   (SELECT count(*) FROM users WHERE role = 'student'),
		   (SELECT count(*) FROM assignments),
		   (SELECT count(*) FROM assignments WHERE completed)`,
	).Scan(&d.Topics, &d.Questions, &d.Students, &d.Assignments, &d.Completed); err != nil {
		return Dashboard{}, fmt.Errorf("query dashboard counts: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT t.id::text, count(q.id), count(q.id) FILTER (WHERE q.is_assigned)
		 FROM topics t
		 LEFT JOIN questions q ON q.topic_id = t.id
		 GROUP BY t.id, t.created_at
		 ORDER BY t.created_at DESC, t.id`)
	if err != nil {
		return Dashboard{}, fmt.Errorf("query pool stats: %w", err)
	}
	d.Pools, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (PoolStats, error) {
		return scanStats(row)
	})
	if err != nil {
		return Dashboard{}, fmt.Errorf("collect pool stats: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) topicExists(ctx context.Context, tid uuid.UUID, raw string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM topics WHERE id = $1)`, tid,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check topic: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic %s: %w", raw, ErrNotFound)
	}
	return nil
}

func detailQuery() sq.SelectBuilder {
	return psql.Select(detailColumns...).
		From("assignments a").
		Join("users u ON u.id = a.user_id").
		Join("topics t ON t.id = a.topic_id").
		Join("questions q ON q.id = a.question_id")
}

func scanTopic(row pgx.Row) (Topic, error) {
	var t Topic
	var difficulty string
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &difficulty, &t.Category, &t.CreatedBy, &t.CreatedAt); err != nil {
		return Topic{}, err
	}
	t.Difficulty = Difficulty(difficulty)
	return t, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.UserID, &a.QuestionID, &a.TopicID, &a.Completed, &a.CompletedAt, &a.AssignedAt)
	return a, err
}

func scanDetail(row pgx.Row) (AssignmentDetail, error) {
	var d AssignmentDetail
	var difficulty string
	err := row.Scan(
		&d.ID, &d.UserID, &d.QuestionID, &d.TopicID,
		&d.Completed, &d.CompletedAt, &d.AssignedAt,
		&d.Username, &d.TopicName, &d.Category, &difficulty,
		&d.QuestionText, &d.Answer, &d.Variation,
	)
	d.Difficulty = Difficulty(difficulty)
	return d, err
}

func scanStats(row pgx.Row) (PoolStats, error) {
	var st PoolStats
	if err := row.Scan(&st.TopicID, &st.Total, &st.Consumed); err != nil {
		return PoolStats{}, err
	}
	st.Available = st.Total - st.Consumed
	return st, nil
}

// parseID rejects malformed identifiers up front. They cannot name an
// existing row, so they are reported as not found.
func parseID(entity, id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
	}
	return u, nil
}

// mapError translates driver errors into the package's sentinel errors.
func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}

	// Context errors pass through as-is.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Already translated inside a transaction.
	if isDomainError(err) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case "assignments_user_topic_key":
				return fmt.Errorf("%s %s: %w", entity, id, ErrAlreadyAssigned)
			case "assignments_question_key":
				return fmt.Errorf("%s %s: %w", entity, id, ErrConflict)
			}
			return fmt.Errorf("%s %s: %w", entity, id, ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %s: %w", entity, id, ErrValidation)
		}
	}

	return fmt.Errorf("%s %s: %w", entity, id, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrConflict, ErrAlreadyAssigned, ErrAlreadyExists, ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
