package notifysvc

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/josh-code/enlight/core"
)

// consoleNotifier is the dev/test stand-in for the realtime + push delivery
// pipeline; it logs outbound notifications and records them for inspection.
type consoleNotifier struct {
	mu            sync.Mutex
	sent          []core.Notification
	disableOutput bool
}

var _ core.Notifier = (*consoleNotifier)(nil)

func NewConsoleNotifier() *consoleNotifier {
	return &consoleNotifier{}
}

// NewConsoleNotifierMock is quiet; tests inspect Sent().
func NewConsoleNotifierMock() *consoleNotifier {
	return &consoleNotifier{disableOutput: true}
}

func (svc *consoleNotifier) Notify(_ context.Context, notifs ...core.Notification) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, n := range notifs {
		svc.sent = append(svc.sent, n)
		if !svc.disableOutput {
			log.Println(fmt.Sprintf("NOTIFY user=%s kind=%s title=%q body=%q", n.UserID, n.Kind, n.Title, n.Body))
		}
	}
	return nil
}

func (svc *consoleNotifier) Sent() []core.Notification {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]core.Notification, len(svc.sent))
	copy(out, svc.sent)
	return out
}
