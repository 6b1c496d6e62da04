package core

import "context"

type (
	// Notification is a realtime/push message addressed to a single user.
	Notification struct {
		UserID string
		Kind   string
		Title  string
		Body   string
		Data   map[string]interface{}
	}

	// Notifier delivers notifications best-effort: callers never roll back a
	// persisted mutation when delivery fails, they only log the error.
	Notifier interface {
		Notify(ctx context.Context, notifs ...Notification) error
	}
)
