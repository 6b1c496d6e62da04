package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core/quiz"
)

type quizApi struct {
	svc      quiz.ServiceInterface
	validate *validator.Validate
}

func registerQuizAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	gate echo.MiddlewareFunc,
	svc quiz.ServiceInterface,
	validate *validator.Validate,
) {
	api := quizApi{
		svc:      svc,
		validate: validate,
	}

	qg := g.Group("/quiz", jwt)

	// attempts: gated on an active subscription
	atg := qg.Group("/attempts", gate)
	atg.POST("", api.submitAttempt)
	atg.GET("", api.listAttempts)
	atg.GET("/best", api.bestAttempt)

	// sessions
	sg := qg.Group("/sessions")
	sg.GET("", api.querySessions, adminMiddleware())
	sg.POST("", api.createSession, adminMiddleware())
	sg.PUT("/:id", api.updateSession, adminMiddleware())
	sg.GET("/:id", api.retrieveSession, gate)
}

// Handlers

func (api *quizApi) submitAttempt(ctx echo.Context) error {
	var data quiz.NewAttempt
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAttempt")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	// an attempt is always submitted on the caller's own behalf
	if data.UserID == "" {
		data.UserID = claims.Subject
	}
	if data.UserID != claims.Subject && !claims.IsAdmin {
		return errHttpForbidden
	}

	if err := data.Validate(api.validate); err != nil {
		return err
	}

	att, err := api.svc.Submit(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, att)
}

func (api *quizApi) listAttempts(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	userID := claims.Subject
	// admins may inspect another user's attempts
	if qUserID := ctx.QueryParam("user_id"); qUserID != "" && claims.IsAdmin {
		userID = qUserID
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	attempts, err := api.svc.Attempts(ctx.Request().Context(), userID, ctx.QueryParam("session_id"), ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying attempts")
	}
	if attempts == nil {
		attempts = []quiz.Attempt{}
	}
	return respond(ctx, http.StatusOK, attempts)
}

func (api *quizApi) bestAttempt(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sessionID := ctx.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	att, err := api.svc.BestAttempt(ctx.Request().Context(), claims.Subject, sessionID)
	if err != nil {
		if errors.Cause(err) == quiz.ErrAttemptNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding best attempt")
	}
	return respond(ctx, http.StatusOK, att)
}

func (api *quizApi) querySessions(ctx echo.Context) error {
	sessions, err := api.svc.QueryAllSessions(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying quiz sessions")
	}
	if sessions == nil {
		sessions = []quiz.Session{}
	}
	return respond(ctx, http.StatusOK, sessions)
}

func (api *quizApi) createSession(ctx echo.Context) error {
	var data quiz.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.svc.CreateSession(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating quiz session")
	}
	return respond(ctx, http.StatusCreated, sess)
}

func (api *quizApi) updateSession(ctx echo.Context) error {
	var data quiz.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.svc.UpdateSession(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		if errors.Cause(err) == quiz.ErrSessionNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "updating quiz session")
	}
	return respond(ctx, http.StatusOK, sess)
}

func (api *quizApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == quiz.ErrSessionNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding quiz session")
	}

	// answer keys never leave the server
	return respond(ctx, http.StatusOK, sess.StudentView())
}
