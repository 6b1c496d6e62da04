package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/josh-code/enlight/core/billing"
)

type billingRepository struct {
	subscriptions *subscriptionTable
	plans         *planTable
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{subscriptions: db.subscription, plans: db.plan}
}

func (repo *billingRepository) query() []billing.Subscription {
	subs := make([]billing.Subscription, 0, len(repo.subscriptions.table))
	for _, sub := range repo.subscriptions.table {
		subs = append(subs, *sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[j].CreatedAt.Before(subs[i].CreatedAt) })
	return subs
}

func (repo *billingRepository) GetSubscriptionByStripeID(ctx context.Context, stripeID string) (billing.Subscription, error) {
	repo.subscriptions.RLock()
	defer repo.subscriptions.RUnlock()

	if sub, ok := repo.subscriptions.table[stripeID]; ok {
		return *sub, nil
	}
	return billing.Subscription{}, billing.ErrNotFound
}

func (repo *billingRepository) GetSubscriptionForUser(ctx context.Context, userID string) (billing.Subscription, error) {
	repo.subscriptions.RLock()
	defer repo.subscriptions.RUnlock()

	for _, sub := range repo.query() {
		if sub.UserID == userID {
			return sub, nil
		}
	}
	return billing.Subscription{}, billing.ErrNotFound
}

func (repo *billingRepository) GetActiveSubscriptionForUser(ctx context.Context, userID string) (billing.Subscription, error) {
	repo.subscriptions.RLock()
	defer repo.subscriptions.RUnlock()

	for _, sub := range repo.query() {
		if sub.UserID == userID && sub.Status.GrantsAccess() {
			return sub, nil
		}
	}
	return billing.Subscription{}, billing.ErrNotFound
}

func (repo *billingRepository) UpsertSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	repo.subscriptions.Lock()
	defer repo.subscriptions.Unlock()

	if orig, ok := repo.subscriptions.table[sub.StripeID]; ok {
		sub.ID = orig.ID
		sub.CreatedAt = orig.CreatedAt
	} else if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	repo.subscriptions.table[sub.StripeID] = &sub
	return sub, nil
}

func (repo *billingRepository) GetActivePlan(ctx context.Context) (billing.Plan, error) {
	repo.plans.RLock()
	defer repo.plans.RUnlock()

	for _, plan := range repo.plans.table {
		if plan.IsActive {
			return *plan, nil
		}
	}
	return billing.Plan{}, billing.ErrPlanNotFound
}

func (repo *billingRepository) SavePlan(ctx context.Context, plan billing.Plan) (billing.Plan, error) {
	repo.plans.Lock()
	defer repo.plans.Unlock()

	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	repo.plans.table[plan.ID] = &plan
	return plan, nil
}
