package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/utils"
)

const defaultDialTimeout = 15 * time.Second

// SSHConfig describes how to reach one host.
type SSHConfig struct {
	Host              string
	Port              int
	User              string
	KeyPath           string
	Password          string // password auth, or passphrase for KeyPath
	KnownHostsPath    string
	CommandTimeout    time.Duration
	DialTimeout       time.Duration
	KeepAliveInterval time.Duration
}

// SSHTransport is a Transport backed by one multiplexed SSH connection.
// Commands run on independent sessions of that connection; file operations
// share a lazily opened SFTP channel.
type SSHTransport struct {
	cfg SSHConfig
	log *logger.Logger

	mu     sync.RWMutex
	client *ssh.Client
	sftp   *sftp.Client
	stop   chan struct{}
}

// NewSSHTransport creates an unconnected transport.
func NewSSHTransport(cfg SSHConfig, log *logger.Logger) *SSHTransport {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &SSHTransport{
		cfg: cfg,
		log: logger.OrNop(log).WithFields(logger.String("host", cfg.Host)),
	}
}

// Host returns the remote hostname.
func (t *SSHTransport) Host() string { return t.cfg.Host }

func (t *SSHTransport) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

// IsConnected reports whether a live client is cached.
func (t *SSHTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

// Connect dials and authenticates if not already connected.
func (t *SSHTransport) Connect(ctx context.Context) error {
	_, err := t.ensureConnected(ctx)
	return err
}

func (t *SSHTransport) ensureConnected(ctx context.Context) (*ssh.Client, error) {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Another goroutine may have connected while we waited.
	if t.client != nil {
		return t.client, nil
	}

	clientCfg, release, err := t.clientConfig()
	if err != nil {
		return nil, NewConnectionError(t.cfg.Host, err)
	}
	defer release()

	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, NewConnectionError(t.cfg.Host, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.addr(), clientCfg)
	if err != nil {
		conn.Close()
		return nil, NewConnectionError(t.cfg.Host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	t.client = client
	t.stop = make(chan struct{})
	if t.cfg.KeepAliveInterval > 0 {
		go t.keepAlive(client, t.stop)
	}
	t.log.Info("ssh connection established", logger.String("user", t.cfg.User), logger.Int("port", t.cfg.Port))
	return client, nil
}

// clientConfig builds the handshake config. release must be called once
// the handshake is over.
func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, func(), error) {
	auth, release, err := t.authMethods()
	if err != nil {
		return nil, nil, err
	}
	hostKey, err := t.hostKeyCallback()
	if err != nil {
		release()
		return nil, nil, err
	}
	return &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.cfg.DialTimeout,
	}, release, nil
}

// authMethods prefers an explicit key, then the ssh agent, then password.
// release closes the agent connection, if one was opened.
func (t *SSHTransport) authMethods() (methods []ssh.AuthMethod, release func(), err error) {
	release = func() {}

	if t.cfg.KeyPath != "" {
		signer, err := loadSigner(utils.ExpandHome(t.cfg.KeyPath), t.cfg.Password)
		if err != nil {
			return nil, release, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			release = func() { conn.Close() }
		}
	}

	if t.cfg.Password != "" && t.cfg.KeyPath == "" {
		password := t.cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, release, errors.New("no authentication method: set ssh_key_path, ssh_password or SSH_AUTH_SOCK")
	}
	return methods, release, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("private key %s is encrypted and no passphrase is configured", keyPath)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("decrypt private key %s: %w", keyPath, err)
	}
	return signer, nil
}

// hostKeyCallback verifies against known_hosts when one is configured and
// present; otherwise host keys are accepted unverified.
func (t *SSHTransport) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.cfg.KnownHostsPath != "" {
		p := utils.ExpandHome(t.cfg.KnownHostsPath)
		if utils.FileExists(p) {
			cb, err := knownhosts.New(p)
			if err != nil {
				return nil, fmt.Errorf("load known_hosts %s: %w", p, err)
			}
			return cb, nil
		}
		t.log.Warn("known_hosts file not found, host key will not be verified", logger.String("path", p))
	} else {
		t.log.Warn("host key verification disabled")
	}
	return ssh.InsecureIgnoreHostKey(), nil
}

func (t *SSHTransport) keepAlive(client *ssh.Client, stop chan struct{}) {
	ticker := time.NewTicker(t.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.log.Warn("keepalive failed, dropping connection", logger.Error(err))
				t.invalidate(client)
				return
			}
		}
	}
}

// invalidate drops client if it is still the cached one, so the next
// operation reconnects.
func (t *SSHTransport) invalidate(client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != client {
		return
	}
	t.closeLocked()
}

func (t *SSHTransport) closeLocked() error {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.sftp != nil {
		_ = t.sftp.Close()
		t.sftp = nil
	}
	var err error
	if t.client != nil {
		err = t.client.Close()
		t.client = nil
	}
	return err
}

// Disconnect closes the connection. Calling it on a closed transport is a no-op.
func (t *SSHTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.closeLocked()
	t.log.Info("ssh connection closed")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Execute runs command in a fresh session, connecting first if needed.
func (t *SSHTransport) Execute(ctx context.Context, command string, opts ExecOptions) (*CommandResult, error) {
	client, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	full := WithWorkingDirectory(command, opts.WorkingDirectory)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = t.cfg.CommandTimeout
	}
	t.log.Debug("executing command", logger.String("command", full), logger.Duration("timeout", timeout))

	session, err := client.NewSession()
	if err != nil {
		t.invalidate(client)
		return nil, NewCommandFailureError(t.cfg.Host, command, fmt.Errorf("%w: open session: %w", ErrTransport, err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Start(full); err != nil {
		t.invalidate(client)
		return nil, NewCommandFailureError(t.cfg.Host, command, fmt.Errorf("%w: start: %w", ErrTransport, err))
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		t.log.Warn("command timed out", logger.String("command", command), logger.Duration("timeout", timeout))
		return nil, NewCommandTimeoutError(t.cfg.Host, command, timeout)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, fmt.Errorf("command on %s cancelled: %w", t.cfg.Host, ctx.Err())
	}

	result := &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		t.invalidate(client)
		fe := NewCommandFailureError(t.cfg.Host, command, fmt.Errorf("%w: %w", ErrTransport, err))
		fe.Stdout = result.Stdout
		fe.Stderr = result.Stderr
		return nil, fe
	}
	return result, nil
}

// WithWorkingDirectory prefixes command with a cd into dir when dir is set.
func WithWorkingDirectory(command, dir string) string {
	if dir == "" {
		return command
	}
	return "cd " + utils.ShellQuote(dir) + " && " + command
}

func (t *SSHTransport) sftpClient(ctx context.Context) (*sftp.Client, error) {
	client, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != client {
		return nil, NewCommandFailureError(t.cfg.Host, "sftp", ErrNotConnected)
	}
	if t.sftp == nil {
		sc, err := sftp.NewClient(client)
		if err != nil {
			t.closeLocked()
			return nil, NewCommandFailureError(t.cfg.Host, "sftp", fmt.Errorf("%w: %w", ErrTransport, err))
		}
		t.sftp = sc
	}
	return t.sftp, nil
}

// ReadFile returns the contents of a remote file.
func (t *SSHTransport) ReadFile(ctx context.Context, p string) ([]byte, error) {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sc.Open(p)
	if err != nil {
		return nil, NewCommandFailureError(t.cfg.Host, "read "+p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, NewCommandFailureError(t.cfg.Host, "read "+p, err)
	}
	return data, nil
}

// WriteFile creates or truncates a remote file and sets its mode.
func (t *SSHTransport) WriteFile(ctx context.Context, p string, data []byte, opts WriteOptions) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	op := "write " + p
	if opts.MakeDirs {
		if err := sc.MkdirAll(path.Dir(p)); err != nil {
			return NewCommandFailureError(t.cfg.Host, op, err)
		}
	}
	f, err := sc.Create(p)
	if err != nil {
		return NewCommandFailureError(t.cfg.Host, op, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return NewCommandFailureError(t.cfg.Host, op, err)
	}
	if err := f.Close(); err != nil {
		return NewCommandFailureError(t.cfg.Host, op, err)
	}
	if opts.Mode != 0 {
		if err := sc.Chmod(p, opts.Mode); err != nil {
			return NewCommandFailureError(t.cfg.Host, op, err)
		}
	}
	return nil
}

// Stat describes a remote path. A missing path yields an error matching
// fs.ErrNotExist.
func (t *SSHTransport) Stat(ctx context.Context, p string) (*FileInfo, error) {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	fi, err := sc.Stat(p)
	if err != nil {
		return nil, NewCommandFailureError(t.cfg.Host, "stat "+p, err)
	}
	return &FileInfo{
		Path:    p,
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}, nil
}

// Delete removes a remote file.
func (t *SSHTransport) Delete(ctx context.Context, p string) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := sc.Remove(p); err != nil {
		return NewCommandFailureError(t.cfg.Host, "delete "+p, err)
	}
	return nil
}

var _ Transport = (*SSHTransport)(nil)
