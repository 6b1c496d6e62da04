package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core/billing"
)

// setPlan replaces the active subscription plan, keeping its id stable so
// existing subscriptions stay classified.
func (cli *commandLine) setPlan(monthlyPrice string, monthlyAmount int64, yearlyPrice string, yearlyAmount int64, currency string) error {
	ctx := context.Background()

	plan, err := cli.billingRepo.GetActivePlan(ctx)
	if err != nil {
		if errors.Cause(err) != billing.ErrPlanNotFound {
			return err
		}
		plan = billing.Plan{ID: uuid.New().String(), IsActive: true}
	}
	plan.MonthlyPriceID = monthlyPrice
	plan.MonthlyAmount = monthlyAmount
	plan.YearlyPriceID = yearlyPrice
	plan.YearlyAmount = yearlyAmount
	plan.Currency = currency
	plan.UpdatedAt = time.Now().UTC()

	_, err = cli.billingRepo.SavePlan(ctx, plan)
	return err
}
