// Package notify surfaces operator-facing alerts for the two terminal
// failure conditions the orchestration core produces: a task reaching
// status=failed, and a backlog project reaching specStatus=error.
package notify

import (
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/go-toast/toast"
)

// Notifier raises a desktop toast when supported (Windows only, mirrors
// go-toast/toast's own platform restriction); everywhere else it logs.
type Notifier struct {
	appID        string
	dashboardURL string
	logger       *log.Logger
	mu           sync.Mutex
}

// New builds a Notifier. dashboardURL, if set, becomes the toast's
// "open dashboard" action target.
func New(appID, dashboardURL string) *Notifier {
	if appID == "" {
		appID = "kanban-orchestrator"
	}
	return &Notifier{appID: appID, dashboardURL: dashboardURL, logger: log.Default()}
}

// TaskFailed alerts that a task exhausted its retry budget.
func (n *Notifier) TaskFailed(taskID, title, lastError string) {
	n.notify("Task failed", fmt.Sprintf("%s (%s): %s", title, taskID, lastError))
}

// SpecError alerts that a backlog project's spec generation failed.
func (n *Notifier) SpecError(projectID, title, message string) {
	n.notify("Spec generation failed", fmt.Sprintf("%s (%s): %s", title, projectID, message))
}

func (n *Notifier) notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if runtime.GOOS != "windows" {
		n.logger.Printf("[ALERT] %s: %s", title, message)
		return
	}

	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	if n.dashboardURL != "" {
		notification.Actions = []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: n.dashboardURL},
		}
	}
	if err := notification.Push(); err != nil {
		n.logger.Printf("[ALERT] toast failed, falling back to log: %s: %s (%v)", title, message, err)
	}
}
