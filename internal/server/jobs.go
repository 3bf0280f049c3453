package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/scheduler"
)

type jobRoutes struct {
	mgr *cluster.Manager
}

func (rt *jobRoutes) Register(r *gin.RouterGroup) {
	g := r.Group("/clusters/:cluster")
	g.GET("/jobs", rt.listJobs)             // GET /api/v1/clusters/{cluster}/jobs?user=&partition=&state=
	g.POST("/jobs", rt.submit)              // POST /api/v1/clusters/{cluster}/jobs
	g.GET("/jobs/:id", rt.getJob)           // GET /api/v1/clusters/{cluster}/jobs/{id}
	g.DELETE("/jobs/:id", rt.cancel)        // DELETE /api/v1/clusters/{cluster}/jobs/{id}?signal=
	g.POST("/jobs/:id/hold", rt.hold)       // POST /api/v1/clusters/{cluster}/jobs/{id}/hold
	g.POST("/jobs/:id/release", rt.release) // POST /api/v1/clusters/{cluster}/jobs/{id}/release
	g.GET("/history", rt.history)           // GET /api/v1/clusters/{cluster}/history?job_id=&user=&start=&end=&format=
	g.POST("/run", rt.run)                  // POST /api/v1/clusters/{cluster}/run
}

// RunRequest is the body of a one-shot srun.
type RunRequest struct {
	Command          string                  `json:"command" binding:"required"`
	Partition        string                  `json:"partition,omitempty"`
	Account          string                  `json:"account,omitempty"`
	Nodes            int                     `json:"nodes,omitempty"`
	GpusPerNode      *int                    `json:"gpus_per_node,omitempty"`
	TimeLimit        string                  `json:"time_limit,omitempty"`
	Container        scheduler.ContainerSpec `json:"container,omitempty"`
	WorkingDirectory string                  `json:"working_directory,omitempty"`
	TimeoutSeconds   int                     `json:"timeout,omitempty"`
}

func jobID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, fmt.Sprintf("invalid job id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (rt *jobRoutes) listJobs(c *gin.Context) {
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	jobs, err := nc.Slurm.Jobs(c.Request.Context(), scheduler.JobFilter{
		User:      c.Query("user"),
		Partition: c.Query("partition"),
		State:     c.Query("state"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	list(c, jobs)
}

func (rt *jobRoutes) getJob(c *gin.Context) {
	id, valid := jobID(c)
	if !valid {
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	job, err := nc.Slurm.JobDetail(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if job == nil {
		fail(c, fmt.Errorf("job %d: %w", id, errNotFound))
		return
	}
	ok(c, job)
}

func (rt *jobRoutes) submit(c *gin.Context) {
	var sub scheduler.JobSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, "invalid job submission: "+err.Error())
		return
	}
	if sub.Script == "" {
		badRequest(c, "script is required")
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	id, err := nc.Slurm.Submit(c.Request.Context(), &sub)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"job_id": id})
}

func (rt *jobRoutes) cancel(c *gin.Context) {
	id, valid := jobID(c)
	if !valid {
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	done, err := nc.Slurm.Cancel(c.Request.Context(), id, c.Query("signal"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"job_id": id, "cancelled": done})
}

func (rt *jobRoutes) hold(c *gin.Context) {
	rt.control(c, "held", (*scheduler.Slurm).Hold)
}

func (rt *jobRoutes) release(c *gin.Context) {
	rt.control(c, "released", (*scheduler.Slurm).Release)
}

func (rt *jobRoutes) control(c *gin.Context, key string, op func(*scheduler.Slurm, context.Context, int) (bool, error)) {
	id, valid := jobID(c)
	if !valid {
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	done, err := op(nc.Slurm, c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"job_id": id, key: done})
}

func (rt *jobRoutes) history(c *gin.Context) {
	filter := scheduler.AccountingFilter{
		User:   c.Query("user"),
		Start:  c.Query("start"),
		End:    c.Query("end"),
		Format: c.Query("format"),
	}
	if raw := c.Query("job_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, fmt.Sprintf("invalid job_id %q", raw))
			return
		}
		filter.JobID = id
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	out, err := nc.Slurm.Accounting(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"output": out})
}

func (rt *jobRoutes) run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid run request: "+err.Error())
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	res, err := nc.Slurm.Run(c.Request.Context(), scheduler.RunSpec{
		Command: req.Command,
		Resources: scheduler.Resources{
			Partition:   req.Partition,
			Account:     req.Account,
			Nodes:       req.Nodes,
			GpusPerNode: req.GpusPerNode,
			TimeLimit:   req.TimeLimit,
		},
		Container:        req.Container,
		WorkingDirectory: req.WorkingDirectory,
		Timeout:          time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}
