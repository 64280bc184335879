package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rotation manages per-session output files for connect.
type rotation struct {
	pathBuilder    func(int) (string, error)
	outputFile     *os.File
	bufferedWriter *bufio.Writer
}

func newRotation(pb func(int) (string, error)) *rotation {
	return &rotation{pathBuilder: pb}
}

// sessionPathBuilder returns a builder that inserts the session number before
// the extension: events.ndjson -> events.session-2.ndjson.
func sessionPathBuilder(base string) func(int) (string, error) {
	return func(session int) (string, error) {
		if strings.TrimSpace(base) == "" {
			return "", fmt.Errorf("output path is required")
		}
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		return fmt.Sprintf("%s.session-%d%s", stem, session, ext), nil
	}
}

// fixedPathBuilder always returns base
func fixedPathBuilder(base string) func(int) (string, error) {
	return func(int) (string, error) { return base, nil }
}

func (r *rotation) Open(session int) (writer *bufio.Writer, path string, err error) {
	if r.pathBuilder == nil {
		return nil, "", nil
	}
	r.Close()

	path, err = r.pathBuilder(session)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build path: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	r.outputFile, err = os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create output file: %w", err)
	}
	r.bufferedWriter = bufio.NewWriter(r.outputFile)
	return r.bufferedWriter, path, nil
}

// Flush pushes buffered events to the file
func (r *rotation) Flush() {
	if r.bufferedWriter != nil {
		r.bufferedWriter.Flush()
	}
}

func (r *rotation) Close() {
	r.Flush()
	if r.outputFile != nil {
		r.outputFile.Close()
	}
	r.outputFile = nil
	r.bufferedWriter = nil
}
