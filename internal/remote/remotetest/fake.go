// Package remotetest provides a scripted in-memory remote.Transport.
package remotetest

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/slurmgate/slurmgate/internal/remote"
)

// Call records one Execute invocation.
type Call struct {
	Command string
	Opts    remote.ExecOptions
}

type rule struct {
	prefix string
	fn     func(cmd string) (*remote.CommandResult, error)
}

// Fake answers commands from registered prefix rules and keeps files in a
// map. The most recently registered matching rule wins.
type Fake struct {
	host string

	mu           sync.Mutex
	connected    bool
	connectCalls int
	rules        []rule
	calls        []Call
	files        map[string][]byte
	modes        map[string]fs.FileMode

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// ConnectDelay slows Connect to widen race windows in tests.
	ConnectDelay time.Duration
}

// New creates a disconnected fake for host.
func New(host string) *Fake {
	return &Fake{
		host:  host,
		files: make(map[string][]byte),
		modes: make(map[string]fs.FileMode),
	}
}

// On answers commands starting with prefix with a fixed result.
func (f *Fake) On(prefix string, res remote.CommandResult) *Fake {
	return f.OnFunc(prefix, func(string) (*remote.CommandResult, error) {
		r := res
		return &r, nil
	})
}

// OnStdout is On with a successful result carrying stdout.
func (f *Fake) OnStdout(prefix, stdout string) *Fake {
	return f.On(prefix, remote.CommandResult{Stdout: stdout})
}

// OnFunc answers commands starting with prefix by calling fn.
func (f *Fake) OnFunc(prefix string, fn func(cmd string) (*remote.CommandResult, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, fn: fn})
	return f
}

// Calls returns every Execute call so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the command strings of every Execute call so far.
func (f *Fake) Commands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command
	}
	return out
}

// ConnectCalls counts successful and failed Connect attempts.
func (f *Fake) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// Drop simulates the server closing the connection.
func (f *Fake) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

// File returns a stored file and whether it exists.
func (f *Fake) File(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	return data, ok
}

// Mode returns the mode a file was written with.
func (f *Fake) Mode(path string) fs.FileMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[path]
}

func (f *Fake) Host() string { return f.host }

func (f *Fake) Connect(ctx context.Context) error {
	if f.ConnectDelay > 0 {
		select {
		case <-time.After(f.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.ConnectErr != nil {
		return remote.NewConnectionError(f.host, f.ConnectErr)
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect() error {
	f.Drop()
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Execute(ctx context.Context, command string, opts remote.ExecOptions) (*remote.CommandResult, error) {
	if !f.IsConnected() {
		if err := f.Connect(ctx); err != nil {
			return nil, err
		}
	}
	full := remote.WithWorkingDirectory(command, opts.WorkingDirectory)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Command: full, Opts: opts})
	var match *rule
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(command, f.rules[i].prefix) {
			match = &f.rules[i]
			break
		}
	}
	f.mu.Unlock()

	if match == nil {
		return &remote.CommandResult{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found\n", command)}, nil
	}
	return match.fn(command)
}

func (f *Fake) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f.File(path)
	if !ok {
		return nil, remote.NewCommandFailureError(f.host, "read "+path, fs.ErrNotExist)
	}
	return data, nil
}

func (f *Fake) WriteFile(_ context.Context, path string, data []byte, opts remote.WriteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	f.modes[path] = opts.Mode
	return nil
}

func (f *Fake) Stat(_ context.Context, path string) (*remote.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, remote.NewCommandFailureError(f.host, "stat "+path, fs.ErrNotExist)
	}
	return &remote.FileInfo{Path: path, Size: int64(len(data)), Mode: f.modes[path]}, nil
}

func (f *Fake) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[path]; !ok {
		return remote.NewCommandFailureError(f.host, "delete "+path, fs.ErrNotExist)
	}
	delete(f.files, path)
	delete(f.modes, path)
	return nil
}

var _ remote.Transport = (*Fake)(nil)
