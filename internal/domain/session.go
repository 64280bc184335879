package domain

import "time"

// SchemaVersion is stamped on every NDJSON event
const SchemaVersion = 1

// SessionStart is emitted when a kernel session becomes current
type SessionStart struct {
	Type             string `json:"type"`                        // "session_start"
	SchemaVersion    int    `json:"schemaVersion"`               // 1
	Alert            string `json:"alert,omitempty"`             // "KERNEL_RESTARTED" or "KERNEL_CHANGED"
	Session          int    `json:"session"`                     // Session number (1, 2, 3...)
	KernelID         string `json:"kernel_id"`                   // Current kernel id
	PreviousKernelID string `json:"previous_kernel_id,omitempty"` // Kernel replaced by this one
	ClientID         string `json:"client_id"`                   // Websocket client id
	Connection       string `json:"connection"`                  // KernelConnectionMetadata.ID
	Remote           bool   `json:"remote"`                      // Remote session
	Timestamp        string `json:"timestamp"`                   // ISO8601 timestamp
}

// SessionEnd is emitted when a kernel session stops being current
type SessionEnd struct {
	Type          string         `json:"type"`          // "session_end"
	SchemaVersion int            `json:"schemaVersion"` // 1
	Session       int            `json:"session"`
	KernelID      string         `json:"kernel_id"`
	Summary       SessionSummary `json:"summary"`
}

// SessionSummary contains statistics about a kernel session
type SessionSummary struct {
	StatusChanges   int `json:"status_changes"`
	BusyPeriods     int `json:"busy_periods"`
	Restarts        int `json:"restarts"`
	DurationSeconds int `json:"duration_seconds"`
}

// StatusEvent is emitted for every kernel status transition
type StatusEvent struct {
	Type          string       `json:"type"` // "status"
	SchemaVersion int          `json:"schemaVersion"`
	Session       int          `json:"session"`
	KernelID      string       `json:"kernel_id"`
	Status        KernelStatus `json:"status"`
	Timestamp     string       `json:"timestamp"`
}

// NewSessionStart creates a new SessionStart event
func NewSessionStart(session int, kernelID, previousKernelID, clientID, connection string, remote bool, alert string) *SessionStart {
	s := &SessionStart{
		Type:          "session_start",
		SchemaVersion: SchemaVersion,
		Session:       session,
		KernelID:      kernelID,
		ClientID:      clientID,
		Connection:    connection,
		Remote:        remote,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if previousKernelID != "" {
		s.Alert = alert
		s.PreviousKernelID = previousKernelID
	}
	return s
}

// NewSessionEnd creates a new SessionEnd event
func NewSessionEnd(session int, kernelID string, summary SessionSummary) *SessionEnd {
	return &SessionEnd{
		Type:          "session_end",
		SchemaVersion: SchemaVersion,
		Session:       session,
		KernelID:      kernelID,
		Summary:       summary,
	}
}

// NewStatusEvent creates a new StatusEvent
func NewStatusEvent(session int, kernelID string, status KernelStatus) *StatusEvent {
	return &StatusEvent{
		Type:          "status",
		SchemaVersion: SchemaVersion,
		Session:       session,
		KernelID:      kernelID,
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}
