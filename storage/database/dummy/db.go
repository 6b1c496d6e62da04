package dummydb

import (
	"sync"

	"github.com/josh-code/enlight/core/billing"
	"github.com/josh-code/enlight/core/quiz"
	"github.com/josh-code/enlight/core/user"
)

type (
	DB struct {
		user         *userTable
		quizSession  *quizSessionTable
		quizAttempt  *quizAttemptTable
		subscription *subscriptionTable
		plan         *planTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	quizSessionTable struct {
		sync.RWMutex
		table map[string]*quiz.Session
	}

	quizAttemptTable struct {
		sync.RWMutex
		table map[string]*quiz.Attempt
	}

	subscriptionTable struct {
		sync.RWMutex
		table map[string]*billing.Subscription // keyed by stripe subscription id
	}

	planTable struct {
		sync.RWMutex
		table map[string]*billing.Plan
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:         &userTable{table: make(map[string]*user.User)},
		quizSession:  &quizSessionTable{table: make(map[string]*quiz.Session)},
		quizAttempt:  &quizAttemptTable{table: make(map[string]*quiz.Attempt)},
		subscription: &subscriptionTable{table: make(map[string]*billing.Subscription)},
		plan:         &planTable{table: make(map[string]*billing.Plan)},
	}
	return db, nil
}
