package session

import (
	"context"

	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/scheduler"
)

// Exec runs command inside the session's allocation. A non-zero exit is
// part of the result and still counts as activity.
func (m *Manager) Exec(ctx context.Context, id, command string, opts remote.ExecOptions) (*remote.CommandResult, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	m.log.Debug("executing in session", logger.String("session_id", id), logger.String("command", truncate(command, 80)))

	res, err := m.alloc.RunInAllocation(ctx, s.JobID, scheduler.RunSpec{
		Command:          command,
		Container:        s.Container,
		WorkingDirectory: opts.WorkingDirectory,
		Timeout:          opts.Timeout,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if live, ok := m.sessions[id]; ok {
		live.LastActivity = m.now()
	}
	m.mu.Unlock()
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
