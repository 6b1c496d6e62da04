package quiz

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/josh-code/enlight/core"
)

const (
	// MaxAttempts is the number of attempts a user gets per quiz session.
	MaxAttempts = 2

	// PassThreshold is the minimum score (in percent) counted as a pass.
	PassThreshold = 70
)

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
	// CorrectID is the authoritative answer; never exposed to students.
	CorrectID string `json:"-"`
}

// Session is a quiz attached to a course; it owns the answer key.
type Session struct {
	ID        string     `json:"id"`
	CourseID  string     `json:"course_id"`
	Title     string     `json:"title"`
	IsActive  bool       `json:"is_active"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"created_at"` // UTC
	UpdatedAt time.Time  `json:"updated_at"` // UTC
}

// AnswerKey maps question id -> correct option id.
func (s Session) AnswerKey() map[string]string {
	key := make(map[string]string, len(s.Questions))
	for _, q := range s.Questions {
		key[q.ID] = q.CorrectID
	}
	return key
}

type AttemptAnswer struct {
	QuestionID string `json:"question_id"`
	SelectedID string `json:"selected_id"`
	IsCorrect  bool   `json:"is_correct"`
}

// Attempt is immutable once scored, except for IsBestAttempt which may be
// cleared when a later attempt scores strictly higher.
type Attempt struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	SessionID      string          `json:"session_id"`
	CourseID       string          `json:"course_id"`
	AttemptNumber  int             `json:"attempt_number"`
	Answers        []AttemptAnswer `json:"answers"`
	Score          int             `json:"score"` // integer percentage, 0..100
	CorrectAnswers int             `json:"correct_answers"`
	TotalQuestions int             `json:"total_questions"`
	IsPassed       bool            `json:"is_passed"`
	IsBestAttempt  bool            `json:"is_best_attempt"`
	CompletedAt    time.Time       `json:"completed_at"` // UTC
}

type SubmittedAnswer struct {
	QuestionID string `json:"question_id" validate:"required"`
	SelectedID string `json:"selected_id" validate:"required"`
}

// NewAttempt contains the information needed to submit a quiz attempt.
type NewAttempt struct {
	UserID    string            `json:"user_id" validate:"required"`
	SessionID string            `json:"session_id" validate:"required"`
	CourseID  string            `json:"course_id" validate:"required"`
	Answers   []SubmittedAnswer `json:"answers" validate:"required,min=1,dive"`
}

func (na *NewAttempt) Validate(validate *validator.Validate) error {
	na.UserID = core.CleanString(na.UserID)
	na.SessionID = core.CleanString(na.SessionID)
	na.CourseID = core.CleanString(na.CourseID)
	return validate.Struct(na)
}

type NewQuestion struct {
	Text      string   `json:"text" validate:"required"`
	Options   []Option `json:"options" validate:"required,min=2"`
	CorrectID string   `json:"correct_id" validate:"required"`
}

// NewSession contains the information needed to create or replace a quiz Session.
type NewSession struct {
	CourseID  string        `json:"course_id" validate:"required"`
	Title     string        `json:"title" validate:"required"`
	IsActive  *bool         `json:"is_active"`
	Questions []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.CourseID = core.CleanString(ns.CourseID)
	ns.Title = core.CleanString(ns.Title)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	// each question's correct id must reference one of its options
	for i, q := range ns.Questions {
		var found bool
		for _, opt := range q.Options {
			if opt.ID == q.CorrectID {
				found = true
				break
			}
		}
		if !found {
			return core.NewValidationError(nil, core.FieldError{
				Field: "questions",
				Error: "correct_id does not match any option of question " + ns.Questions[i].Text,
			})
		}
	}
	return nil
}

// StudentView strips answer keys so a Session can be served to students.
// Options keep their ids; only the correctness mapping is withheld (it is
// already omitted from JSON, this also drops it from the in-memory copy).
func (s Session) StudentView() Session {
	view := s
	view.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.CorrectID = ""
		view.Questions[i] = q
	}
	return view
}
