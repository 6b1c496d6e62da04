package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core/billing"
)

// contextSubscriptionKey holds the caller's active subscription once the gate
// has let them through.
var contextSubscriptionKey = "subscription"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// subscriptionGateMiddleware denies access to gated content unless the caller
// holds a subscription whose status grants access. The check hits the store on
// every request; admins get no special treatment.
func subscriptionGateMiddleware(svc billing.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}

			sub, err := svc.ActiveForUser(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == billing.ErrNotFound {
					return errSubscriptionRequired
				}
				return errors.Wrap(err, "checking subscription")
			}

			ctx.Set(contextSubscriptionKey, sub)
			return next(ctx)
		}
	}
}
