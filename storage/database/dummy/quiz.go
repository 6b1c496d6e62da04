package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/josh-code/enlight/core"
	"github.com/josh-code/enlight/core/quiz"
)

type quizRepository struct {
	sessions *quizSessionTable
	attempts *quizAttemptTable
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{sessions: db.quizSession, attempts: db.quizAttempt}
}

func (repo *quizRepository) CreateSession(ctx context.Context, sess quiz.Session) (quiz.Session, error) {
	repo.sessions.Lock()
	defer repo.sessions.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	repo.sessions.table[sess.ID] = &sess
	return sess, nil
}

func (repo *quizRepository) GetSessionByID(ctx context.Context, id string) (quiz.Session, error) {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	if sess, ok := repo.sessions.table[id]; ok {
		return *sess, nil
	}
	return quiz.Session{}, quiz.ErrSessionNotFound
}

func (repo *quizRepository) UpdateSession(ctx context.Context, sess quiz.Session) (quiz.Session, error) {
	repo.sessions.Lock()
	defer repo.sessions.Unlock()

	if _, ok := repo.sessions.table[sess.ID]; !ok {
		return quiz.Session{}, quiz.ErrSessionNotFound
	}
	repo.sessions.table[sess.ID] = &sess
	return sess, nil
}

func (repo *quizRepository) QueryAllSessions(ctx context.Context) ([]quiz.Session, error) {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	sessions := make([]quiz.Session, 0, len(repo.sessions.table))
	for _, sess := range repo.sessions.table {
		sessions = append(sessions, *sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions, nil
}

func (repo *quizRepository) CreateAttempt(ctx context.Context, att quiz.Attempt) (quiz.Attempt, error) {
	repo.attempts.Lock()
	defer repo.attempts.Unlock()

	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	repo.attempts.table[att.ID] = &att
	return att, nil
}

func (repo *quizRepository) LatestAttempt(ctx context.Context, userID, sessionID string) (quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	var latest *quiz.Attempt
	for _, att := range repo.attempts.table {
		if att.UserID != userID || att.SessionID != sessionID {
			continue
		}
		if latest == nil || att.AttemptNumber > latest.AttemptNumber {
			latest = att
		}
	}
	if latest == nil {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	return *latest, nil
}

func (repo *quizRepository) BestAttempt(ctx context.Context, userID, sessionID string) (quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	for _, att := range repo.attempts.table {
		if att.UserID == userID && att.SessionID == sessionID && att.IsBestAttempt {
			return *att, nil
		}
	}
	return quiz.Attempt{}, quiz.ErrAttemptNotFound
}

func (repo *quizRepository) ClearBestAttempt(ctx context.Context, attemptID string) error {
	repo.attempts.Lock()
	defer repo.attempts.Unlock()

	if att, ok := repo.attempts.table[attemptID]; ok {
		att.IsBestAttempt = false
	}
	return nil
}

func (repo *quizRepository) AttemptsForUser(ctx context.Context, userID, sessionID string, ordering ...core.DBOrdering) ([]quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	attempts := make([]quiz.Attempt, 0, len(repo.attempts.table))
	for _, att := range repo.attempts.table {
		if att.UserID != userID {
			continue
		}
		if sessionID != "" && att.SessionID != sessionID {
			continue
		}
		attempts = append(attempts, *att)
	}
	sortAttempts(attempts, ordering)
	return attempts, nil
}

func sortAttempts(attempts []quiz.Attempt, ordering []core.DBOrdering) {
	if len(ordering) > 0 {
		switch ord := ordering[0]; ord.Field {
		case "score":
			sort.Slice(attempts, func(i, j int) bool {
				if ord.Ascending {
					return attempts[i].Score < attempts[j].Score
				}
				return attempts[i].Score > attempts[j].Score
			})
			return
		case "completed_at":
			sort.Slice(attempts, func(i, j int) bool {
				if ord.Ascending {
					return attempts[i].CompletedAt.Before(attempts[j].CompletedAt)
				}
				return attempts[j].CompletedAt.Before(attempts[i].CompletedAt)
			})
			return
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].SessionID != attempts[j].SessionID {
			return attempts[i].SessionID < attempts[j].SessionID
		}
		return attempts[i].AttemptNumber < attempts[j].AttemptNumber
	})
}
