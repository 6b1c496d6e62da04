package echoapi

import (
	"github.com/labstack/echo/v4"
)

// Envelope is the uniform API response shape. Handlers return data in it;
// the error handler fills it with failure details.
type Envelope struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(ctx echo.Context, code int, data interface{}) error {
	return ctx.JSON(code, Envelope{Success: true, Code: code, Data: data})
}

func respondMessage(ctx echo.Context, code int, msg string) error {
	return ctx.JSON(code, Envelope{Success: true, Code: code, Message: msg})
}
