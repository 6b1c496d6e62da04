package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"

	"github.com/josh-code/enlight/core"
)

var (
	// errors
	ErrNotFound     = errors.New("subscription not found")
	ErrPlanNotFound = errors.New("no active subscription plan")
)

type (
	Repository interface {
		GetSubscriptionByStripeID(ctx context.Context, stripeID string) (Subscription, error)
		GetSubscriptionForUser(ctx context.Context, userID string) (Subscription, error)
		// GetActiveSubscriptionForUser returns the user's subscription whose
		// status grants access (active or trialing), or ErrNotFound.
		GetActiveSubscriptionForUser(ctx context.Context, userID string) (Subscription, error)
		// UpsertSubscription creates or replaces the record keyed by its
		// stripe subscription id; redelivery converges to the same state.
		UpsertSubscription(ctx context.Context, sub Subscription) (Subscription, error)

		GetActivePlan(ctx context.Context) (Plan, error)
		SavePlan(ctx context.Context, plan Plan) (Plan, error)
	}

	ServiceInterface interface {
		ActiveForUser(ctx context.Context, userID string) (Subscription, error)
		ForUser(ctx context.Context, userID string) (Subscription, error)
		ActivePlan(ctx context.Context) (Plan, error)
		SavePlan(ctx context.Context, up UpdatePlan) (Plan, error)
		// HandleEvent dispatches a provider webhook event. It never returns an
		// error: handler failures are logged and swallowed so the provider is
		// not driven into retry storms over business-logic mismatches.
		HandleEvent(ctx context.Context, event stripe.Event)
	}

	service struct {
		repo     Repository
		logger   core.Logger
		notifier core.Notifier
		mailSvc  core.EmailService
		conf     *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, logger core.Logger, notifier core.Notifier, mailSvc core.EmailService, conf *core.Config) *service {
	return &service{
		repo:     repo,
		logger:   logger,
		notifier: notifier,
		mailSvc:  mailSvc,
		conf:     conf,
	}
}

func (svc *service) ActiveForUser(ctx context.Context, userID string) (Subscription, error) {
	return svc.repo.GetActiveSubscriptionForUser(ctx, userID)
}

func (svc *service) ForUser(ctx context.Context, userID string) (Subscription, error) {
	return svc.repo.GetSubscriptionForUser(ctx, userID)
}

func (svc *service) ActivePlan(ctx context.Context) (Plan, error) {
	return svc.repo.GetActivePlan(ctx)
}

func (svc *service) SavePlan(ctx context.Context, up UpdatePlan) (Plan, error) {
	plan, err := svc.repo.GetActivePlan(ctx)
	if err != nil {
		if errors.Cause(err) != ErrPlanNotFound {
			return Plan{}, errors.Wrap(err, "finding active plan")
		}
		plan = Plan{ID: uuid.New().String(), IsActive: true}
	}
	plan.MonthlyPriceID = up.MonthlyPriceID
	plan.MonthlyAmount = up.MonthlyAmount
	plan.YearlyPriceID = up.YearlyPriceID
	plan.YearlyAmount = up.YearlyAmount
	plan.Currency = up.Currency
	plan.UpdatedAt = time.Now().UTC()
	return svc.repo.SavePlan(ctx, plan)
}

// classifyPlan resolves the plan type for a price id from the active plan
// configuration; a missing configuration only costs us the classification.
func (svc *service) classifyPlan(ctx context.Context, priceID string) PlanType {
	plan, err := svc.repo.GetActivePlan(ctx)
	if err != nil {
		if errors.Cause(err) != ErrPlanNotFound {
			svc.logger.Warn("classifying plan: " + err.Error())
		}
		return ""
	}
	return plan.ClassifyPrice(priceID)
}

// notify emits a best-effort notification; failures are logged, never rolled
// back against the mutation that preceded them.
func (svc *service) notify(ctx context.Context, n core.Notification) {
	if svc.notifier == nil {
		return
	}
	if err := svc.notifier.Notify(ctx, n); err != nil {
		svc.logger.Warn("notification delivery failed: "+err.Error(), err)
	}
}
