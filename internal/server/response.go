package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/session"
)

// Response is the envelope of every API reply.
type Response struct {
	Count   int         `json:"count,omitempty"`
	Results interface{} `json:"results"`
	Detail  string      `json:"detail"`
}

// errNotFound marks lookups of jobs that the scheduler no longer knows.
var errNotFound = errors.New("not found")

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, config.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, remote.ErrCommandTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, remote.ErrConnection), errors.Is(err, remote.ErrCommandFailed), errors.Is(err, remote.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, scheduler.ErrAllocation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func ok(c *gin.Context, results interface{}) {
	c.JSON(http.StatusOK, Response{Results: results})
}

func list[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, Response{Count: len(items), Results: items})
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), Response{Detail: err.Error()})
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, Response{Detail: detail})
}
