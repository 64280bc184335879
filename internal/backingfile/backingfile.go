// Package backingfile creates the throwaway notebook file a Jupyter session
// is started against.
package backingfile

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/jupyter"
)

// Contents is the subset of the Jupyter contents API the manager needs
type Contents interface {
	NewUntitled(ctx context.Context, dir, fileType string) (*jupyter.ContentsModel, error)
	Rename(ctx context.Context, from, to string) (*jupyter.ContentsModel, error)
	Delete(ctx context.Context, p string) error
}

// CreationError reports that no backing file could be created
type CreationError struct {
	Dir string
	Err error
}

func (e *CreationError) Error() string {
	dir := e.Dir
	if dir == "" {
		dir = "<root>"
	}
	return fmt.Sprintf("failed to create backing file in %s: %v", dir, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// BackingFile is a created file plus its cleanup
type BackingFile struct {
	Path string

	contents Contents
	once     sync.Once
	err      error
}

// Dispose deletes the file. Later calls return the first result.
func (b *BackingFile) Dispose(ctx context.Context) error {
	b.once.Do(func() {
		b.err = b.contents.Delete(ctx, b.Path)
	})
	return b.err
}

// Manager creates backing files through a contents API
type Manager struct {
	contents Contents
	logger   *zap.Logger
	newToken func() string
}

// NewManager creates a Manager
func NewManager(contents Contents, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{contents: contents, logger: logger, newToken: uuid.NewString}
}

// RelativeDir returns workingDir relative to rootDir as a forward-slash path,
// or "" when workingDir is the root, outside it, or not comparable.
func RelativeDir(rootDir, workingDir string) string {
	if rootDir == "" || workingDir == "" {
		return ""
	}
	rel, err := filepath.Rel(rootDir, workingDir)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return ""
	}
	return rel
}

// Create makes a uniquely named notebook for a new session. Local launches
// that fail in the working directory retry once at the root.
func (m *Manager) Create(ctx context.Context, rootDir, workingDir string, localLaunch bool) (*BackingFile, error) {
	dir := ""
	if localLaunch {
		dir = RelativeDir(rootDir, workingDir)
	}

	bf, err := m.create(ctx, dir)
	if err == nil {
		return bf, nil
	}
	if !localLaunch || ctx.Err() != nil {
		return nil, &CreationError{Dir: dir, Err: err}
	}

	m.logger.Debug("backing file creation failed, retrying at root",
		zap.String("dir", dir), zap.Error(err))
	bf, err = m.create(ctx, "")
	if err != nil {
		return nil, &CreationError{Dir: "", Err: err}
	}
	return bf, nil
}

func (m *Manager) create(ctx context.Context, dir string) (*BackingFile, error) {
	model, err := m.contents.NewUntitled(ctx, dir, "notebook")
	if err != nil {
		return nil, err
	}

	target := path.Join(path.Dir(model.Path), "t-"+m.newToken()+".ipynb")
	renamed, err := m.contents.Rename(ctx, model.Path, target)
	if err != nil {
		_ = m.contents.Delete(ctx, model.Path)
		return nil, fmt.Errorf("rename %s: %w", model.Path, err)
	}

	m.logger.Debug("backing file created", zap.String("path", renamed.Path))
	return &BackingFile{Path: renamed.Path, contents: m.contents}, nil
}
