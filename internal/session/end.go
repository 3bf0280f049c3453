package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/slurmgate/slurmgate/internal/logger"
)

// End cancels the session's job and removes the session. It returns false
// when the id is unknown or scancel reports failure; in the latter case the
// session stays registered so End can be retried.
func (m *Manager) End(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	var jobID int
	if ok {
		jobID = s.JobID
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	m.log.Info("ending session", logger.String("session_id", id), logger.Int("job_id", jobID))
	cancelled, err := m.alloc.Cancel(ctx, jobID, "")
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %d of session %s: %w", jobID, id, err)
	}
	if !cancelled {
		m.log.Warn("scancel failed, session kept", logger.String("session_id", id), logger.Int("job_id", jobID))
		return false, nil
	}
	m.retire(id)
	return true, nil
}

// Close ends every session. Sessions whose scancel fails are reported in
// the returned error and stay registered.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, id := range m.ids() {
		if _, err := m.End(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		if s, ok := m.lookup(id); ok {
			errs = append(errs, fmt.Errorf("scancel refused job %d of session %s", s.JobID, id))
		}
	}
	return errors.Join(errs...)
}
