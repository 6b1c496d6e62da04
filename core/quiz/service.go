package quiz

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core"
)

var (
	// errors
	ErrSessionNotFound = errors.New("quiz session not found")
	ErrAttemptNotFound = errors.New("quiz attempt not found")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		UpdateSession(ctx context.Context, sess Session) (Session, error)
		QueryAllSessions(ctx context.Context) ([]Session, error)

		CreateAttempt(ctx context.Context, att Attempt) (Attempt, error)
		// LatestAttempt returns the attempt with the highest attempt number
		// for the (user, session) pair, or ErrAttemptNotFound.
		LatestAttempt(ctx context.Context, userID, sessionID string) (Attempt, error)
		// BestAttempt returns the attempt holding the best-attempt flag
		// for the (user, session) pair, or ErrAttemptNotFound.
		BestAttempt(ctx context.Context, userID, sessionID string) (Attempt, error)
		ClearBestAttempt(ctx context.Context, attemptID string) error
		AttemptsForUser(ctx context.Context, userID, sessionID string, ordering ...core.DBOrdering) ([]Attempt, error)
	}

	ServiceInterface interface {
		CreateSession(ctx context.Context, ns NewSession) (Session, error)
		UpdateSession(ctx context.Context, id string, ns NewSession) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		QueryAllSessions(ctx context.Context) ([]Session, error)
		Submit(ctx context.Context, na NewAttempt) (Attempt, error)
		Attempts(ctx context.Context, userID, sessionID string, ordering ...core.DBOrdering) ([]Attempt, error)
		BestAttempt(ctx context.Context, userID, sessionID string) (Attempt, error)
	}

	service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository) *service {
	return &service{repo: repo}
}

func (svc *service) CreateSession(ctx context.Context, ns NewSession) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.New().String(),
		CourseID:  ns.CourseID,
		Title:     ns.Title,
		IsActive:  true,
		Questions: buildQuestions(ns.Questions),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ns.IsActive != nil {
		sess.IsActive = *ns.IsActive
	}
	return svc.repo.CreateSession(ctx, sess)
}

func (svc *service) UpdateSession(ctx context.Context, id string, ns NewSession) (Session, error) {
	sess, err := svc.repo.GetSessionByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess.CourseID = ns.CourseID
	sess.Title = ns.Title
	if ns.IsActive != nil {
		sess.IsActive = *ns.IsActive
	}
	sess.Questions = buildQuestions(ns.Questions)
	sess.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSession(ctx, sess)
}

func (svc *service) GetSession(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSessionByID(ctx, id)
}

func (svc *service) QueryAllSessions(ctx context.Context) ([]Session, error) {
	return svc.repo.QueryAllSessions(ctx)
}

// Submit runs the attempt lifecycle: attempt counting, scoring against the
// session's answer key, persistence and best-attempt tracking.
func (svc *service) Submit(ctx context.Context, na NewAttempt) (Attempt, error) {
	sess, err := svc.repo.GetSessionByID(ctx, na.SessionID)
	if err != nil {
		if errors.Cause(err) == ErrSessionNotFound {
			return Attempt{}, core.NewValidationError(err, core.FieldError{Field: "session_id", Error: err.Error()})
		}
		return Attempt{}, errors.Wrap(err, "finding session")
	}
	if !sess.IsActive {
		return Attempt{}, core.NewValidationError(nil, core.FieldError{Field: "session_id", Error: "quiz session is not active"})
	}

	attemptNumber, err := svc.nextAttemptNumber(ctx, na.UserID, na.SessionID)
	if err != nil {
		return Attempt{}, err
	}

	answers, correct, total := grade(na.Answers, sess.AnswerKey())
	score := percentScore(correct, total)

	att := Attempt{
		ID:             uuid.New().String(),
		UserID:         na.UserID,
		SessionID:      na.SessionID,
		CourseID:       na.CourseID,
		AttemptNumber:  attemptNumber,
		Answers:        answers,
		Score:          score,
		CorrectAnswers: correct,
		TotalQuestions: total,
		IsPassed:       score >= PassThreshold,
		CompletedAt:    time.Now().UTC(),
	}

	// best-attempt tracking: a strictly higher score displaces the current
	// holder; ties keep the incumbent.
	prevBest, err := svc.repo.BestAttempt(ctx, na.UserID, na.SessionID)
	switch errors.Cause(err) {
	case nil:
		att.IsBestAttempt = att.Score > prevBest.Score
	case ErrAttemptNotFound:
		att.IsBestAttempt = true
	default:
		return Attempt{}, errors.Wrap(err, "finding best attempt")
	}

	// the previous holder loses the flag before the new attempt is inserted;
	// a partial unique index keeps at most one best attempt per pair.
	if att.IsBestAttempt && prevBest.ID != "" {
		if err = svc.repo.ClearBestAttempt(ctx, prevBest.ID); err != nil {
			return Attempt{}, errors.Wrap(err, "clearing previous best attempt")
		}
	}
	created, err := svc.repo.CreateAttempt(ctx, att)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "creating attempt")
	}
	return created, nil
}

func (svc *service) Attempts(ctx context.Context, userID, sessionID string, ordering ...core.DBOrdering) ([]Attempt, error) {
	return svc.repo.AttemptsForUser(ctx, userID, sessionID, ordering...)
}

func (svc *service) BestAttempt(ctx context.Context, userID, sessionID string) (Attempt, error) {
	return svc.repo.BestAttempt(ctx, userID, sessionID)
}

// nextAttemptNumber issues the next attempt number for the (user, session)
// pair; numbers start at 1 and are capped at MaxAttempts.
func (svc *service) nextAttemptNumber(ctx context.Context, userID, sessionID string) (int, error) {
	latest, err := svc.repo.LatestAttempt(ctx, userID, sessionID)
	if err != nil {
		if errors.Cause(err) == ErrAttemptNotFound {
			return 1, nil
		}
		return 0, errors.Wrap(err, "finding latest attempt")
	}
	if latest.AttemptNumber >= MaxAttempts {
		return 0, core.NewValidationError(nil, core.FieldError{
			Field: "session_id",
			Error: fmt.Sprintf("max attempts reached (%d of %d)", latest.AttemptNumber, MaxAttempts),
		})
	}
	return latest.AttemptNumber + 1, nil
}

// grade marks each submitted answer against the key; question ids missing
// from the key count as incorrect. The total is the size of the key.
func grade(submitted []SubmittedAnswer, key map[string]string) ([]AttemptAnswer, int, int) {
	answers := make([]AttemptAnswer, 0, len(submitted))
	var correct int
	for _, ans := range submitted {
		correctID, known := key[ans.QuestionID]
		isCorrect := known && ans.SelectedID == correctID
		if isCorrect {
			correct++
		}
		answers = append(answers, AttemptAnswer{
			QuestionID: ans.QuestionID,
			SelectedID: ans.SelectedID,
			IsCorrect:  isCorrect,
		})
	}
	return answers, correct, len(key)
}

func percentScore(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

func buildQuestions(qs []NewQuestion) []Question {
	questions := make([]Question, 0, len(qs))
	for _, q := range qs {
		questions = append(questions, Question{
			ID:        uuid.New().String(),
			Text:      q.Text,
			Options:   q.Options,
			CorrectID: q.CorrectID,
		})
	}
	return questions
}
