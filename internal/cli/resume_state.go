package cli

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// resumeState remembers the last kernel connect used on a server so
// --resume can attach to it again instead of starting a new one.
type resumeState struct {
	Type          string `json:"type"` // "resume_state"
	SchemaVersion int    `json:"schemaVersion"`
	Server        string `json:"server"`
	KernelID      string `json:"kernel_id"`
	KernelName    string `json:"kernel_name,omitempty"`
	Connection    string `json:"connection,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func defaultResumeStatePath(server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", errors.New("server is required for resume state path")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".kbridge", "resume")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, resumeFileName(server)), nil
}

// resumeFileName turns a server URL into a safe file name
func resumeFileName(server string) string {
	name := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(name)
	if name == "" {
		name = "default"
	}
	return name + ".json"
}

func loadResumeState(path string) (*resumeState, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("resume state path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st resumeState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func saveResumeState(path string, st *resumeState) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("resume state path is required")
	}
	if st == nil {
		return errors.New("resume state is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	st.Type = "resume_state"
	if st.UpdatedAt == "" {
		st.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}
