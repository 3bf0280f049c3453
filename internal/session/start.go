package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/scheduler"
)

// jobNamePrefix marks allocations made for interactive sessions.
const jobNamePrefix = "slurmgate-session-"

// Spec holds configuration for starting a session. Empty resource fields
// fall back to the cluster's interactive defaults.
type Spec struct {
	Name      string
	Resources scheduler.Resources
	Container scheduler.ContainerSpec
}

// Start allocates resources with salloc and registers the allocation as
// an active session. Nothing is registered when allocation fails.
func (m *Manager) Start(ctx context.Context, spec Spec) (*Session, error) {
	id := uuid.NewString()[:8]
	jobName := jobNamePrefix + id

	res := spec.Resources
	if res.Partition == "" {
		res.Partition = m.cfg.InteractivePartition
	}
	if res.Account == "" {
		res.Account = m.cfg.InteractiveAccount
	}
	if res.TimeLimit == "" {
		res.TimeLimit = m.cfg.InteractiveDefaultTime
	}
	if res.Nodes <= 0 {
		res.Nodes = 1
	}
	gpus := m.cfg.DefaultGpus()
	if res.GpusPerNode != nil {
		gpus = *res.GpusPerNode
	}
	res.GpusPerNode = &gpus

	container := spec.Container
	if container.Image != "" && container.Mounts == "" {
		container.Mounts = m.cfg.ContainerMounts()
	}

	m.log.Info("starting interactive session",
		logger.String("session_id", id),
		logger.String("partition", res.Partition),
		logger.Int("gpus_per_node", gpus))

	jobID, err := m.alloc.Allocate(ctx, scheduler.AllocationSpec{Resources: res, JobName: jobName})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate session %s: %w", id, err)
	}
	m.log.Info("session allocated", logger.String("session_id", id), logger.Int("job_id", jobID))

	// The node list is informational; a failed lookup leaves it empty.
	nodeList := ""
	if job, err := m.alloc.JobDetail(ctx, jobID); err != nil {
		m.log.Warn("could not look up allocated nodes", logger.Int("job_id", jobID), logger.Error(err))
	} else if job != nil {
		nodeList = job.NodeList
	}

	now := m.now()
	s := &Session{
		ID:           id,
		JobID:        jobID,
		Name:         spec.Name,
		Partition:    res.Partition,
		Nodes:        res.Nodes,
		GpusPerNode:  gpus,
		Container:    container,
		StartTime:    now,
		LastActivity: now,
		TimeLimit:    res.TimeLimit,
		Status:       StatusActive,
		NodeList:     nodeList,
	}

	m.mu.Lock()
	m.sessions[id] = s
	out := *s
	m.mu.Unlock()
	return &out, nil
}
