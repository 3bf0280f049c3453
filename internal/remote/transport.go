// Package remote runs shell commands and file operations on cluster nodes
// over a persistent SSH connection.
package remote

import (
	"context"
	"io/fs"
	"time"
)

// DefaultCommandTimeout bounds a command when neither the caller nor the
// transport configuration sets one.
const DefaultCommandTimeout = 60 * time.Second

// Transport is a command channel to a single remote host.
type Transport interface {
	Host() string
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Execute(ctx context.Context, command string, opts ExecOptions) (*CommandResult, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte, opts WriteOptions) error
	Stat(ctx context.Context, path string) (*FileInfo, error)
	Delete(ctx context.Context, path string) error
}

// ExecOptions tune a single Execute call.
type ExecOptions struct {
	// Timeout overrides the transport default when positive.
	Timeout time.Duration
	// WorkingDirectory, when set, runs the command after a cd into it.
	WorkingDirectory string
}

// WriteOptions tune WriteFile.
type WriteOptions struct {
	Mode     fs.FileMode
	MakeDirs bool
}

// CommandResult is the captured outcome of a remote command. A non-zero
// exit code is a result, not an error.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Success reports whether the command exited with status 0.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Output returns stdout, or stderr when stdout is empty.
func (r *CommandResult) Output() string {
	if r == nil {
		return ""
	}
	if r.Stdout != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Combined returns stderr followed by stdout, which is where salloc and
// friends scatter their progress lines.
func (r *CommandResult) Combined() string {
	if r == nil {
		return ""
	}
	return r.Stderr + r.Stdout
}

// FileInfo describes a remote file.
type FileInfo struct {
	Path    string      `json:"path"`
	Size    int64       `json:"size"`
	Mode    fs.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
	IsDir   bool        `json:"is_dir"`
}
