package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Handle is one request's workspace. Stages only ever see it through
// domain.Workspace, so nothing they write lands outside root.
type Handle struct {
	requestID string
	root      string
	createdAt time.Time
	expiresAt time.Time
}

// RequestID returns the owning request id.
func (h *Handle) RequestID() string { return h.requestID }

// CreatedAt returns the allocation time.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// ExpiresAt returns the time at which a sweep reclaims the workspace.
func (h *Handle) ExpiresAt() time.Time { return h.expiresAt }

// Path resolves name inside the workspace.
func (h *Handle) Path(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid workspace path %q", name)
	}
	p := filepath.Join(h.root, filepath.Clean(name))
	rel, err := filepath.Rel(h.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", name)
	}
	return p, nil
}

// Dir creates the subdirectory name and returns its absolute path.
func (h *Handle) Dir(name string) (string, error) {
	p, err := h.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}
	return p, nil
}

// Create opens name for writing, creating parent directories.
func (h *Handle) Create(name string) (io.WriteCloser, error) {
	p, err := h.Path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create workspace file: %w", err)
	}
	return f, nil
}

// ReadFile reads name from the workspace.
func (h *Handle) ReadFile(name string) ([]byte, error) {
	p, err := h.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists reports whether name exists in the workspace.
func (h *Handle) Exists(name string) bool {
	p, err := h.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
