package session

import (
	"context"
	"errors"
	"sort"

	"github.com/slurmgate/slurmgate/internal/logger"
)

// Get returns the session after checking its job with the scheduler. A
// session whose job is gone or no longer RUNNING/PENDING is retired and
// Get returns (nil, nil). Concurrent calls for one id share a query.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	v, err, _ := m.reconcile.Do(id, func() (interface{}, error) {
		return m.refresh(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(*Session)
	if s == nil {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (m *Manager) refresh(ctx context.Context, id string) (*Session, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, nil
	}

	job, err := m.alloc.JobDetail(ctx, s.JobID)
	if err != nil {
		return nil, err
	}
	if !job.IsLive() {
		m.log.Info("session job ended", logger.String("session_id", id), logger.Int("job_id", s.JobID))
		m.retire(id)
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	if job.TimeRemaining != "" {
		live.TimeRemaining = job.TimeRemaining
	}
	if live.NodeList == "" {
		live.NodeList = job.NodeList
	}
	out := *live
	return &out, nil
}

// List returns every live session, oldest first. Sessions that could not
// be checked are reported in the error and left out.
func (m *Manager) List(ctx context.Context) ([]*Session, error) {
	var errs []error
	sessions := []*Session{}
	for _, id := range m.ids() {
		s, err := m.Get(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, errors.Join(errs...)
}

// CleanupStale retires sessions whose job has ended and ends sessions idle
// longer than the cluster's interactive_session_timeout. It returns how
// many sessions were removed.
func (m *Manager) CleanupStale(ctx context.Context) (int, error) {
	timeout := m.cfg.IdleTimeout()
	cleaned := 0
	var errs []error
	for _, id := range m.ids() {
		s, err := m.Get(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s == nil {
			cleaned++
			continue
		}
		if timeout <= 0 {
			continue
		}
		if idle := s.IdleFor(m.now()); idle > timeout {
			m.log.Info("session idle timeout", logger.String("session_id", id), logger.Duration("idle", idle))
			if _, err := m.End(ctx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			cleaned++
		}
	}
	return cleaned, errors.Join(errs...)
}
