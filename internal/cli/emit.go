package cli

import (
	"sync"

	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/output"
)

// eventSink writes connect events to stdout, or to an NDJSON file that is
// optionally rotated on every new kernel session.
type eventSink struct {
	mu       sync.Mutex
	writer   output.Writer
	rotation *rotation
	rotate   bool
	opened   bool
	path     string
}

func newEventSink(globals *Globals, outputPath string, rotate bool) *eventSink {
	s := &eventSink{writer: globals.Writer(), rotate: rotate}
	switch {
	case outputPath != "" && rotate:
		s.rotation = newRotation(sessionPathBuilder(outputPath))
	case outputPath != "":
		s.rotation = newRotation(fixedPathBuilder(outputPath))
	}
	return s
}

// SessionStarted switches files when rotating, then writes the event
func (s *eventSink) SessionStarted(start *domain.SessionStart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotation != nil && (s.rotate || !s.opened) {
		w, path, err := s.rotation.Open(start.Session)
		if err != nil {
			return err
		}
		s.writer = output.NewNDJSONWriter(w)
		s.opened = true
		s.path = path
	}
	if err := s.writer.WriteSessionStart(start); err != nil {
		return err
	}
	s.flushLocked()
	return nil
}

func (s *eventSink) SessionEnded(end *domain.SessionEnd) error {
	return s.write(func(w output.Writer) error { return w.WriteSessionEnd(end) })
}

func (s *eventSink) Status(ev *domain.StatusEvent) error {
	return s.write(func(w output.Writer) error { return w.WriteStatus(ev) })
}

func (s *eventSink) Error(code, message string, hint ...string) error {
	return s.write(func(w output.Writer) error { return w.WriteError(code, message, hint...) })
}

func (s *eventSink) write(fn func(output.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.writer); err != nil {
		return err
	}
	s.flushLocked()
	return nil
}

func (s *eventSink) flushLocked() {
	if s.rotation != nil {
		s.rotation.Flush()
	}
}

// Path is the file currently written, empty for stdout
func (s *eventSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *eventSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotation != nil {
		s.rotation.Close()
	}
}
