// Package output renders CLI events as NDJSON or human-readable text.
package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

// SchemaVersion is stamped on every event this package writes
const SchemaVersion = domain.SchemaVersion

// ErrorOutput is the NDJSON error event
type ErrorOutput struct {
	Type          string `json:"type"` // "error"
	SchemaVersion int    `json:"schemaVersion"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Hint          string `json:"hint,omitempty"`
}

// Ready is emitted once a long-running command is accepting work
type Ready struct {
	Type          string `json:"type"` // "ready"
	SchemaVersion int    `json:"schemaVersion"`
	Command       string `json:"command"`
	Listen        string `json:"listen,omitempty"`
	Server        string `json:"server,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// VariablesEvent carries one page of the variable snapshot
type VariablesEvent struct {
	Type          string `json:"type"` // "variables"
	SchemaVersion int    `json:"schemaVersion"`
	Refresh       int    `json:"refresh"`
	domain.VariablesResponse
}

// Writer is implemented by the NDJSON and text writers
type Writer interface {
	WriteReady(r *Ready) error
	WriteSessionStart(s *domain.SessionStart) error
	WriteSessionEnd(s *domain.SessionEnd) error
	WriteStatus(s *domain.StatusEvent) error
	WriteVariables(v *VariablesEvent) error
	WriteError(code, message string, hint ...string) error
}

// NDJSONWriter writes one JSON object per line. Safe for concurrent use.
type NDJSONWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewNDJSONWriter creates a writer on w
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{encoder: json.NewEncoder(w)}
}

// Write encodes any value as a single line
func (w *NDJSONWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(v)
}

func (w *NDJSONWriter) WriteReady(r *Ready) error {
	r.Type = "ready"
	r.SchemaVersion = SchemaVersion
	return w.Write(r)
}

func (w *NDJSONWriter) WriteSessionStart(s *domain.SessionStart) error { return w.Write(s) }

func (w *NDJSONWriter) WriteSessionEnd(s *domain.SessionEnd) error { return w.Write(s) }

func (w *NDJSONWriter) WriteStatus(s *domain.StatusEvent) error { return w.Write(s) }

func (w *NDJSONWriter) WriteVariables(v *VariablesEvent) error {
	v.Type = "variables"
	v.SchemaVersion = SchemaVersion
	if v.PageResponse == nil {
		v.PageResponse = []domain.VariableRecord{}
	}
	return w.Write(v)
}

// WriteError writes an error event; only the first hint is kept
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	out := &ErrorOutput{
		Type:          "error",
		SchemaVersion: SchemaVersion,
		Code:          code,
		Message:       message,
	}
	if len(hint) > 0 {
		out.Hint = hint[0]
	}
	return w.Write(out)
}
