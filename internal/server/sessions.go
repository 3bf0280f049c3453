package server

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/session"
)

type sessionRoutes struct {
	mgr *cluster.Manager
}

func (rt *sessionRoutes) Register(r *gin.RouterGroup) {
	g := r.Group("/clusters/:cluster/sessions")
	g.GET("", rt.listSessions)   // GET /api/v1/clusters/{cluster}/sessions
	g.POST("", rt.start)         // POST /api/v1/clusters/{cluster}/sessions?node=
	g.GET("/:id", rt.get)        // GET /api/v1/clusters/{cluster}/sessions/{id}
	g.DELETE("/:id", rt.end)     // DELETE /api/v1/clusters/{cluster}/sessions/{id}
	g.POST("/:id/exec", rt.exec) // POST /api/v1/clusters/{cluster}/sessions/{id}/exec
}

// StartRequest is the body of a new interactive session.
type StartRequest struct {
	Name        string                  `json:"session_name,omitempty"`
	Partition   string                  `json:"partition,omitempty"`
	Account     string                  `json:"account,omitempty"`
	Nodes       int                     `json:"nodes,omitempty"`
	GpusPerNode *int                    `json:"gpus_per_node,omitempty"`
	TimeLimit   string                  `json:"time_limit,omitempty"`
	Container   scheduler.ContainerSpec `json:"container,omitempty"`
}

// ExecRequest is the body of a command sent to a session.
type ExecRequest struct {
	Command          string `json:"command" binding:"required"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	TimeoutSeconds   int    `json:"timeout,omitempty"`
}

func (rt *sessionRoutes) listSessions(c *gin.Context) {
	sessions, err := rt.mgr.Sessions(c.Request.Context(), c.Param("cluster"))
	if err != nil && len(sessions) == 0 {
		fail(c, err)
		return
	}
	list(c, sessions)
}

func (rt *sessionRoutes) start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid session request: "+err.Error())
		return
	}
	nc, found := resolveNode(c, rt.mgr)
	if !found {
		return
	}
	s, err := nc.Sessions.Start(c.Request.Context(), session.Spec{
		Name: req.Name,
		Resources: scheduler.Resources{
			Partition:   req.Partition,
			Account:     req.Account,
			Nodes:       req.Nodes,
			GpusPerNode: req.GpusPerNode,
			TimeLimit:   req.TimeLimit,
		},
		Container: req.Container,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, s)
}

// owner finds the node holding the path's session and writes the error
// reply when there is none.
func (rt *sessionRoutes) owner(c *gin.Context) (*cluster.NodeConnection, bool) {
	nc, err := rt.mgr.FindSession(c.Param("cluster"), c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return nc, true
}

func (rt *sessionRoutes) get(c *gin.Context) {
	nc, found := rt.owner(c)
	if !found {
		return
	}
	id := c.Param("id")
	s, err := nc.Sessions.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if s == nil {
		fail(c, &session.NotFoundError{ID: id})
		return
	}
	ok(c, s)
}

func (rt *sessionRoutes) end(c *gin.Context) {
	nc, found := rt.owner(c)
	if !found {
		return
	}
	id := c.Param("id")
	cancelled, err := nc.Sessions.End(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"session_id": id, "cancelled": cancelled})
}

func (rt *sessionRoutes) exec(c *gin.Context) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid exec request: "+err.Error())
		return
	}
	nc, found := rt.owner(c)
	if !found {
		return
	}
	res, err := nc.Sessions.Exec(c.Request.Context(), c.Param("id"), req.Command, remote.ExecOptions{
		WorkingDirectory: req.WorkingDirectory,
		Timeout:          time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}
