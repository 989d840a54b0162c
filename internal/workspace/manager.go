// Package workspace manages the per-request temporary storage areas that
// pipeline stages read from and write to.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
)

// DirPrefix is the name prefix of every workspace directory.
const DirPrefix = "pdf2tables-"

// Reclaimer is told when workspaces disappear so it can drop dependent state.
type Reclaimer interface {
	SweepExpired(now time.Time) int
	Forget(requestID string) int
}

// Config holds manager settings.
type Config struct {
	BaseDir string
	TTL     time.Duration
}

// Manager allocates, tracks and reclaims workspaces.
type Manager struct {
	mu        sync.RWMutex
	spaces    map[string]*Handle
	baseDir   string
	ttl       time.Duration
	reclaimer Reclaimer
	logger    *observability.Logger
	now       func() time.Time
}

// NewManager creates a manager rooted at cfg.BaseDir.
func NewManager(cfg Config, logger *observability.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Minute
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(os.TempDir(), "pdf2tables")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		spaces:  make(map[string]*Handle),
		baseDir: cfg.BaseDir,
		ttl:     cfg.TTL,
		logger:  logger,
		now:     time.Now,
	}
}

// SetReclaimer registers the dependent state owner, normally the job registry.
func (m *Manager) SetReclaimer(r Reclaimer) {
	m.mu.Lock()
	m.reclaimer = r
	m.mu.Unlock()
}

// SetClock overrides the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// TTL returns the workspace time-to-live.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Allocate creates an isolated directory for requestID.
func (m *Manager) Allocate(requestID string) (*Handle, error) {
	if requestID == "" || strings.ContainsAny(requestID, `/\`) || requestID == "." || requestID == ".." {
		return nil, domain.ValidationError("invalid request id", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.spaces[requestID]; ok {
		return h, nil
	}

	if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
		return nil, domain.StorageUnavailableError("create workspace base", err)
	}

	root := filepath.Join(m.baseDir, DirPrefix+requestID)
	if err := os.Mkdir(root, 0o700); err != nil {
		return nil, domain.StorageUnavailableError("create workspace", err)
	}

	created := m.now()
	h := &Handle{
		requestID: requestID,
		root:      root,
		createdAt: created,
		expiresAt: created.Add(m.ttl),
	}
	m.spaces[requestID] = h

	m.logger.Debug().
		Str("request_id", requestID).
		Str("path", root).
		Msg("workspace allocated")

	return h, nil
}

// Lookup returns the live workspace for requestID.
func (m *Manager) Lookup(requestID string) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.spaces[requestID]
	now := m.now()
	m.mu.RUnlock()

	if !ok || !now.Before(h.expiresAt) {
		return nil, domain.NotFoundError("workspace "+requestID, nil)
	}
	return h, nil
}

// Live reports whether requestID still owns an unexpired workspace.
func (m *Manager) Live(requestID string, now time.Time) bool {
	m.mu.RLock()
	h, ok := m.spaces[requestID]
	m.mu.RUnlock()

	return ok && now.Before(h.expiresAt)
}

// Release reclaims the workspace of requestID. Releasing an unknown or
// already released request is a no-op.
func (m *Manager) Release(requestID string) error {
	m.mu.Lock()
	h, ok := m.spaces[requestID]
	delete(m.spaces, requestID)
	reclaimer := m.reclaimer
	m.mu.Unlock()

	if !ok {
		return nil
	}

	err := m.remove(h)
	if reclaimer != nil {
		reclaimer.Forget(requestID)
	}
	return err
}

// Sweep reclaims every workspace with expiresAt <= now and then lets the
// reclaimer drop state tied to them. It returns the number reclaimed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*Handle
	for id, h := range m.spaces {
		if !now.Before(h.expiresAt) {
			expired = append(expired, h)
			delete(m.spaces, id)
		}
	}
	reclaimer := m.reclaimer
	m.mu.Unlock()

	for _, h := range expired {
		if err := m.remove(h); err != nil {
			m.logger.Warn().Err(err).Str("request_id", h.requestID).Msg("workspace removal failed")
		}
	}

	if reclaimer != nil {
		if n := reclaimer.SweepExpired(now); n > 0 {
			m.logger.Info().Int("jobs", n).Msg("expired jobs removed")
		}
	}

	if len(expired) > 0 {
		m.logger.Info().Int("workspaces", len(expired)).Msg("expired workspaces reclaimed")
	}
	return len(expired)
}

// Start runs Sweep every interval until ctx is cancelled.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			now := m.now()
			m.mu.RUnlock()
			m.Sweep(now)
		}
	}
}

// ReapOrphans removes workspace directories left under the base dir by an
// earlier process once they are older than the TTL.
func (m *Manager) ReapOrphans() (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workspace base: %w", err)
	}

	m.mu.RLock()
	now := m.now()
	known := make(map[string]bool, len(m.spaces))
	for _, h := range m.spaces {
		known[h.root] = true
	}
	m.mu.RUnlock()

	reaped := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), DirPrefix) {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		if known[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < m.ttl {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("orphan removal failed")
			continue
		}
		reaped++
	}

	if reaped > 0 {
		m.logger.Info().Int("workspaces", reaped).Msg("orphaned workspaces reaped")
	}
	return reaped, nil
}

// Probe checks that a workspace directory can still be created.
func (m *Manager) Probe() error {
	if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
		return domain.StorageUnavailableError("create workspace base", err)
	}
	dir, err := os.MkdirTemp(m.baseDir, "probe-")
	if err != nil {
		return domain.StorageUnavailableError("probe workspace", err)
	}
	return os.Remove(dir)
}

// ReleaseAll reclaims every workspace. Called at shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.spaces))
	for id := range m.spaces {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Release(id); err != nil {
			m.logger.Warn().Err(err).Str("request_id", id).Msg("workspace release failed")
		}
	}
}

// Count returns the number of live workspaces.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.spaces)
}

func (m *Manager) remove(h *Handle) error {
	if err := os.RemoveAll(h.root); err != nil {
		return domain.StorageUnavailableError("remove workspace "+h.requestID, err)
	}
	m.logger.Debug().Str("request_id", h.requestID).Msg("workspace reclaimed")
	return nil
}
