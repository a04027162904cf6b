package session

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instrument-catalog/backend/internal/instruments"
	"github.com/instrument-catalog/backend/internal/models"
	"github.com/instrument-catalog/backend/internal/storage"
)

// MaxSessions limits concurrent build sessions.
const MaxSessions = 20

// SessionMaxAge is how long finished sessions are kept before cleanup.
const SessionMaxAge = 30 * time.Minute

// Manager tracks record build sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*state
	builder  *Builder
	store    storage.Store
}

type state struct {
	session  *models.BuildSession
	result   *BuildResult
	finished time.Time
}

// NewManager creates a session manager that runs builds with builder and
// persists finished records into store.
func NewManager(builder *Builder, store storage.Store) *Manager {
	return &Manager{
		sessions: make(map[string]*state),
		builder:  builder,
		store:    store,
	}
}

// StartBuild launches an asynchronous record build for the given instrument
// and window, returning the pending session immediately.
func (m *Manager) StartBuild(instr *instruments.Instrument, start, end time.Time) (*models.BuildSession, error) {
	m.CleanupOldSessions(SessionMaxAge)

	m.mu.Lock()
	if len(m.sessions) >= MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("too many active sessions (max %d)", MaxSessions)
	}

	id := uuid.New().String()
	sess := models.NewBuildSession(id, instr.ID, start, end)
	sess.Status = models.SessionStatusRunning
	st := &state{session: sess}
	m.sessions[id] = st
	m.mu.Unlock()

	go m.runBuild(st, instr)

	return m.snapshot(st), nil
}

func (m *Manager) runBuild(st *state, instr *instruments.Instrument) {
	result, err := m.builder.BuildRecord(instr, st.session.Start, st.session.End)

	m.mu.Lock()
	defer m.mu.Unlock()
	st.finished = time.Now()
	if err != nil {
		st.session.Status = models.SessionStatusError
		st.session.Error = err.Error()
		return
	}

	name := fmt.Sprintf("record_%s_%s.xml",
		instr.ID, st.session.Start.Format("20060102_150405"))
	info, err := m.store.Save(name, bytes.NewReader(result.XML))
	if err != nil {
		st.session.Status = models.SessionStatusError
		st.session.Error = fmt.Sprintf("storing record: %v", err)
		return
	}

	st.result = result
	st.session.Status = models.SessionStatusComplete
	st.session.ActivityCount = result.ActivityCount
	st.session.FileCount = result.FileCount
	st.session.SkippedCount = result.SkippedCount
	st.session.RecordID = info.ID
}

// GetSession returns a snapshot of the session with the given ID.
func (m *Manager) GetSession(id string) (*models.BuildSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return m.snapshotLocked(st), true
}

// ListSessions returns snapshots of all tracked sessions.
func (m *Manager) ListSessions() []*models.BuildSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.BuildSession, 0, len(m.sessions))
	for _, st := range m.sessions {
		out = append(out, m.snapshotLocked(st))
	}
	return out
}

// CleanupOldSessions drops finished sessions older than maxAge and returns
// how many were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, st := range m.sessions {
		done := st.session.Status == models.SessionStatusComplete ||
			st.session.Status == models.SessionStatusError
		if done && time.Since(st.finished) > maxAge {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) snapshot(st *state) *models.BuildSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(st)
}

// snapshotLocked copies the session so callers never share the mutable
// struct with the build goroutine. Callers must hold at least a read lock.
func (m *Manager) snapshotLocked(st *state) *models.BuildSession {
	copy := *st.session
	return &copy
}
