// Package session keeps interactive Slurm allocations alive between
// commands and retires them when their job ends or sits idle.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/scheduler"
)

// Status is the lifecycle stage of a session. Allocation happens inside
// Start, so a registered session is never in an allocating state.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is an interactive allocation that commands can be sent to.
type Session struct {
	ID            string                  `json:"session_id"`
	JobID         int                     `json:"job_id"`
	Name          string                  `json:"session_name,omitempty"`
	Partition     string                  `json:"partition"`
	Nodes         int                     `json:"nodes"`
	GpusPerNode   int                     `json:"gpus_per_node"`
	Container     scheduler.ContainerSpec `json:"container"`
	StartTime     time.Time               `json:"start_time"`
	LastActivity  time.Time               `json:"last_activity"`
	TimeLimit     string                  `json:"time_limit"`
	TimeRemaining string                  `json:"time_remaining,omitempty"`
	Status        Status                  `json:"status"`
	NodeList      string                  `json:"node_list,omitempty"`
}

// IdleFor is how long the session has gone without a command at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// Allocator is the scheduler surface the manager drives. *scheduler.Slurm
// implements it.
type Allocator interface {
	Allocate(ctx context.Context, spec scheduler.AllocationSpec) (int, error)
	JobDetail(ctx context.Context, jobID int) (*scheduler.Job, error)
	RunInAllocation(ctx context.Context, jobID int, spec scheduler.RunSpec) (*remote.CommandResult, error)
	Cancel(ctx context.Context, jobID int, signal string) (bool, error)
}

// Manager owns the sessions of one cluster node.
type Manager struct {
	alloc Allocator
	cfg   *config.ClusterConfig
	log   *logger.Logger
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	reconcile singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for idle-timeout tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager's logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates an empty session table backed by alloc.
func NewManager(alloc Allocator, cfg *config.ClusterConfig, opts ...Option) *Manager {
	m := &Manager{
		alloc:    alloc,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrNop(m.log).Named("session")
	return m
}

// lookup returns a copy of an active session.
func (m *Manager) lookup(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return Session{}, false
	}
	return *s, true
}

// retire marks a session ended and drops it from the table.
func (m *Manager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Status = StatusEnded
		delete(m.sessions, id)
	}
}

func (m *Manager) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len is the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Has reports whether id is a registered session.
func (m *Manager) Has(id string) bool {
	_, ok := m.lookup(id)
	return ok
}
