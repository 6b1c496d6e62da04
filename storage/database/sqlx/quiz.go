package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core"
	"github.com/josh-code/enlight/core/quiz"
)

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) *quizRepository {
	return &quizRepository{db: db}
}

type dbQuizSession struct {
	ID        string       `db:"id"`
	CourseID  string       `db:"course_id"`
	Title     string       `db:"title"`
	IsActive  bool         `db:"is_active"`
	Questions []byte       `db:"questions"`
	CreatedAt sql.NullTime `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`
}

// dbQuestion is the persisted shape of a question. quiz.Question hides
// correct_id from JSON; the column keeps it.
type dbQuestion struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Options   []quiz.Option `json:"options"`
	CorrectID string        `json:"correct_id"`
}

func (repo quizRepository) packSession(sess quiz.Session) (dbQuizSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	questions := make([]dbQuestion, 0, len(sess.Questions))
	for _, q := range sess.Questions {
		questions = append(questions, dbQuestion{ID: q.ID, Text: q.Text, Options: q.Options, CorrectID: q.CorrectID})
	}
	raw, err := json.Marshal(questions)
	if err != nil {
		return dbQuizSession{}, errors.Wrap(err, "encoding questions")
	}
	return dbQuizSession{
		ID:        sess.ID,
		CourseID:  sess.CourseID,
		Title:     sess.Title,
		IsActive:  sess.IsActive,
		Questions: raw,
		CreatedAt: sql.NullTime{Time: sess.CreatedAt.UTC(), Valid: !sess.CreatedAt.IsZero()},
		UpdatedAt: sql.NullTime{Time: sess.UpdatedAt.UTC(), Valid: !sess.UpdatedAt.IsZero()},
	}, nil
}

func (repo quizRepository) unpackSession(row dbQuizSession) (quiz.Session, error) {
	var questions []dbQuestion
	if err := json.Unmarshal(row.Questions, &questions); err != nil {
		return quiz.Session{}, errors.Wrap(err, "decoding questions")
	}
	sess := quiz.Session{
		ID:        row.ID,
		CourseID:  row.CourseID,
		Title:     row.Title,
		IsActive:  row.IsActive,
		Questions: make([]quiz.Question, 0, len(questions)),
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
	for _, q := range questions {
		sess.Questions = append(sess.Questions, quiz.Question{ID: q.ID, Text: q.Text, Options: q.Options, CorrectID: q.CorrectID})
	}
	return sess, nil
}

type dbQuizAttempt struct {
	ID             string       `db:"id"`
	UserID         string       `db:"user_id"`
	SessionID      string       `db:"session_id"`
	CourseID       string       `db:"course_id"`
	AttemptNumber  int          `db:"attempt_number"`
	Answers        []byte       `db:"answers"`
	Score          int          `db:"score"`
	CorrectAnswers int          `db:"correct_answers"`
	TotalQuestions int          `db:"total_questions"`
	IsPassed       bool         `db:"is_passed"`
	IsBestAttempt  bool         `db:"is_best_attempt"`
	CompletedAt    sql.NullTime `db:"completed_at"`
}

func (repo quizRepository) packAttempt(att quiz.Attempt) (dbQuizAttempt, error) {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	raw, err := json.Marshal(att.Answers)
	if err != nil {
		return dbQuizAttempt{}, errors.Wrap(err, "encoding answers")
	}
	return dbQuizAttempt{
		ID:             att.ID,
		UserID:         att.UserID,
		SessionID:      att.SessionID,
		CourseID:       att.CourseID,
		AttemptNumber:  att.AttemptNumber,
		Answers:        raw,
		Score:          att.Score,
		CorrectAnswers: att.CorrectAnswers,
		TotalQuestions: att.TotalQuestions,
		IsPassed:       att.IsPassed,
		IsBestAttempt:  att.IsBestAttempt,
		CompletedAt:    sql.NullTime{Time: att.CompletedAt.UTC(), Valid: !att.CompletedAt.IsZero()},
	}, nil
}

func (repo quizRepository) unpackAttempt(row dbQuizAttempt) (quiz.Attempt, error) {
	var answers []quiz.AttemptAnswer
	if err := json.Unmarshal(row.Answers, &answers); err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "decoding answers")
	}
	return quiz.Attempt{
		ID:             row.ID,
		UserID:         row.UserID,
		SessionID:      row.SessionID,
		CourseID:       row.CourseID,
		AttemptNumber:  row.AttemptNumber,
		Answers:        answers,
		Score:          row.Score,
		CorrectAnswers: row.CorrectAnswers,
		TotalQuestions: row.TotalQuestions,
		IsPassed:       row.IsPassed,
		IsBestAttempt:  row.IsBestAttempt,
		CompletedAt:    row.CompletedAt.Time,
	}, nil
}

func (repo quizRepository) CreateSession(ctx context.Context, sess quiz.Session) (quiz.Session, error) {
	row, err := repo.packSession(sess)
	if err != nil {
		return quiz.Session{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO quiz_session (id, course_id, title, is_active, questions, created_at, updated_at)
		VALUES (:id, :course_id, :title, :is_active, :questions, :created_at, :updated_at)`, row)
	if err != nil {
		return quiz.Session{}, errors.Wrap(err, "creating quiz session")
	}
	return repo.unpackSession(row)
}

func (repo quizRepository) GetSessionByID(ctx context.Context, id string) (quiz.Session, error) {
	var row dbQuizSession
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM quiz_session WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return quiz.Session{}, quiz.ErrSessionNotFound
		}
		return quiz.Session{}, errors.Wrap(err, "finding quiz session")
	}
	return repo.unpackSession(row)
}

func (repo quizRepository) UpdateSession(ctx context.Context, sess quiz.Session) (quiz.Session, error) {
	row, err := repo.packSession(sess)
	if err != nil {
		return quiz.Session{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE quiz_session
		SET course_id = :course_id, title = :title, is_active = :is_active,
		    questions = :questions, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return quiz.Session{}, errors.Wrap(err, "updating quiz session")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return quiz.Session{}, quiz.ErrSessionNotFound
	}
	return repo.GetSessionByID(ctx, sess.ID)
}

func (repo quizRepository) QueryAllSessions(ctx context.Context) ([]quiz.Session, error) {
	var rows []dbQuizSession
	if err := repo.db.SelectContext(ctx, &rows, `SELECT * FROM quiz_session ORDER BY created_at`); err != nil {
		return nil, errors.Wrap(err, "querying quiz sessions")
	}
	sessions := make([]quiz.Session, 0, len(rows))
	for _, row := range rows {
		sess, err := repo.unpackSession(row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (repo quizRepository) CreateAttempt(ctx context.Context, att quiz.Attempt) (quiz.Attempt, error) {
	row, err := repo.packAttempt(att)
	if err != nil {
		return quiz.Attempt{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO quiz_attempt (id, user_id, session_id, course_id, attempt_number, answers,
		                          score, correct_answers, total_questions, is_passed, is_best_attempt, completed_at)
		VALUES (:id, :user_id, :session_id, :course_id, :attempt_number, :answers,
		        :score, :correct_answers, :total_questions, :is_passed, :is_best_attempt, :completed_at)`, row)
	if err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "creating quiz attempt")
	}
	return repo.unpackAttempt(row)
}

func (repo quizRepository) LatestAttempt(ctx context.Context, userID, sessionID string) (quiz.Attempt, error) {
	var row dbQuizAttempt
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM quiz_attempt
		WHERE user_id = $1 AND session_id = $2
		ORDER BY attempt_number DESC
		LIMIT 1`, userID, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Attempt{}, quiz.ErrAttemptNotFound
		}
		return quiz.Attempt{}, errors.Wrap(err, "finding latest attempt")
	}
	return repo.unpackAttempt(row)
}

func (repo quizRepository) BestAttempt(ctx context.Context, userID, sessionID string) (quiz.Attempt, error) {
	var row dbQuizAttempt
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM quiz_attempt
		WHERE user_id = $1 AND session_id = $2 AND is_best_attempt
		LIMIT 1`, userID, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return quiz.Attempt{}, quiz.ErrAttemptNotFound
		}
		return quiz.Attempt{}, errors.Wrap(err, "finding best attempt")
	}
	return repo.unpackAttempt(row)
}

func (repo quizRepository) ClearBestAttempt(ctx context.Context, attemptID string) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE quiz_attempt SET is_best_attempt = FALSE WHERE id = $1`, attemptID)
	return errors.Wrap(err, "clearing best attempt")
}

func (repo quizRepository) AttemptsForUser(ctx context.Context, userID, sessionID string, ordering ...core.DBOrdering) ([]quiz.Attempt, error) {
	query := `SELECT * FROM quiz_attempt WHERE user_id = $1`
	args := []interface{}{userID}
	if sessionID != "" {
		query += ` AND session_id = $2`
		args = append(args, sessionID)
	}
	query += ` ORDER BY ` + orderBy(ordering, "completed_at ASC, attempt_number ASC")

	var rows []dbQuizAttempt
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	attempts := make([]quiz.Attempt, 0, len(rows))
	for _, row := range rows {
		att, err := repo.unpackAttempt(row)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, att)
	}
	return attempts, nil
}
