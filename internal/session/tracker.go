package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

const (
	// AlertKernelRestarted marks a new kernel for the same connection
	AlertKernelRestarted = "KERNEL_RESTARTED"
	// AlertKernelChanged marks a switch to a different connection
	AlertKernelChanged = "KERNEL_CHANGED"
)

// Tracker folds status changes into numbered sessions. A new session starts
// whenever the current kernel id changes.
type Tracker struct {
	mu             sync.Mutex
	clock          clock.Clock
	currentSession int
	kernelID       string
	connection     string
	sessionStart   time.Time
	statusChanges  int
	busyPeriods    int
	restarts       int
	initialized    bool
}

// SessionChange contains events emitted when the current kernel changes
type SessionChange struct {
	EndSession   *domain.SessionEnd
	StartSession *domain.SessionStart
}

// NewTracker creates a new session tracker
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clock: clk}
}

// Observe processes a status change and returns a SessionChange if the kernel changed
func (t *Tracker) Observe(change StatusChange) *SessionChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	kernelID := change.Session.KernelID()

	if !t.initialized {
		t.initialized = true
		t.start(kernelID, change)
		return &SessionChange{
			StartSession: domain.NewSessionStart(t.currentSession, kernelID, "", change.Session.ClientID(),
				change.Connection.ID, change.Remote, ""),
		}
	}

	if kernelID != t.kernelID {
		previousKernel := t.kernelID
		previousSession := t.currentSession
		alert := AlertKernelRestarted
		if change.Connection.ID != t.connection {
			alert = AlertKernelChanged
		}
		end := domain.NewSessionEnd(previousSession, previousKernel, t.summary())

		t.start(kernelID, change)
		return &SessionChange{
			EndSession: end,
			StartSession: domain.NewSessionStart(t.currentSession, kernelID, previousKernel, change.Session.ClientID(),
				change.Connection.ID, change.Remote, alert),
		}
	}

	t.count(change.Status)
	return nil
}

func (t *Tracker) start(kernelID string, change StatusChange) {
	t.currentSession++
	t.kernelID = kernelID
	t.connection = change.Connection.ID
	t.sessionStart = t.clock.Now()
	t.statusChanges = 0
	t.busyPeriods = 0
	t.restarts = 0
	t.count(change.Status)
}

// count updates busy/restart counts based on status
func (t *Tracker) count(status domain.KernelStatus) {
	t.statusChanges++
	switch status {
	case domain.StatusBusy:
		t.busyPeriods++
	case domain.StatusRestarting:
		t.restarts++
	}
}

func (t *Tracker) summary() domain.SessionSummary {
	return domain.SessionSummary{
		StatusChanges:   t.statusChanges,
		BusyPeriods:     t.busyPeriods,
		Restarts:        t.restarts,
		DurationSeconds: int(t.clock.Since(t.sessionStart).Seconds()),
	}
}

// CurrentSession returns the current session number
func (t *Tracker) CurrentSession() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSession
}

// GetFinalSummary returns a summary for the current session (for stream end)
func (t *Tracker) GetFinalSummary() *domain.SessionEnd {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return nil
	}
	return domain.NewSessionEnd(t.currentSession, t.kernelID, t.summary())
}

// Stats returns current session statistics
func (t *Tracker) Stats() (session int, kernelID string, busy, restarts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSession, t.kernelID, t.busyPeriods, t.restarts
}
