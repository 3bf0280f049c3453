package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/session"
	"github.com/slurmgate/slurmgate/internal/utils"
)

// TransportFactory builds the transport for one host of a cluster.
type TransportFactory func(cfg *config.ClusterConfig, host string, log *logger.Logger) remote.Transport

// SSHTransportFactory is the default factory.
func SSHTransportFactory(cfg *config.ClusterConfig, host string, log *logger.Logger) remote.Transport {
	return remote.NewSSHTransport(remote.SSHConfig{
		Host:              host,
		Port:              cfg.SSHPort,
		User:              cfg.SSHUser,
		KeyPath:           utils.ExpandHome(cfg.SSHKeyPath),
		Password:          cfg.SSHPassword,
		KnownHostsPath:    utils.ExpandHome(cfg.SSHKnownHosts),
		CommandTimeout:    cfg.CommandTimeoutDuration(),
		KeepAliveInterval: 30 * time.Second,
	}, log)
}

// NodeConnection is one host of a cluster together with the scheduler
// client and session table bound to it. The bundle is built once and
// survives reconnects.
type NodeConnection struct {
	Cluster   string
	Hostname  string
	Transport remote.Transport
	Slurm     *scheduler.Slurm
	Sessions  *session.Manager

	connected atomic.Bool
}

// Connected reports whether the node was connected and the transport is
// still up.
func (n *NodeConnection) Connected() bool {
	return n.connected.Load() && n.Transport.IsConnected()
}

// runtime is the mutable state of one configured cluster.
type runtime struct {
	cfg *config.ClusterConfig

	// connMu serializes connect and disconnect for the cluster.
	connMu sync.Mutex

	mu      sync.Mutex
	nodes   map[string]*NodeConnection
	order   []string
	current string
}

func newRuntime(cfg *config.ClusterConfig) *runtime {
	return &runtime{cfg: cfg, nodes: make(map[string]*NodeConnection)}
}

func (r *runtime) currentNode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *runtime) setCurrent(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = host
}

func (r *runtime) node(host string) (*NodeConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nc, ok := r.nodes[host]
	return nc, ok
}

// nodeOrCreate returns the bundle for host, building it with build on
// first sight.
func (r *runtime) nodeOrCreate(host string, build func() *NodeConnection) *NodeConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nc, ok := r.nodes[host]; ok {
		return nc
	}
	nc := build()
	r.nodes[host] = nc
	r.order = append(r.order, host)
	return nc
}

// all returns every bundle in creation order.
func (r *runtime) all() []*NodeConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*NodeConnection, 0, len(r.order))
	for _, host := range r.order {
		out = append(out, r.nodes[host])
	}
	return out
}

func (r *runtime) connectedHosts() []string {
	var hosts []string
	for _, nc := range r.all() {
		if nc.Connected() {
			hosts = append(hosts, nc.Hostname)
		}
	}
	return hosts
}

// connect brings nc up. The fast path skips the lock when the node is
// already live; the slow path checks again under connMu so concurrent
// callers share one handshake.
func (r *runtime) connect(ctx context.Context, nc *NodeConnection) error {
	if nc.Connected() {
		return nil
	}
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if nc.Connected() {
		return nil
	}
	nc.connected.Store(false)
	if err := nc.Transport.Connect(ctx); err != nil {
		return err
	}
	nc.connected.Store(true)
	return nil
}

// disconnect closes nc and clears the current node if it pointed there.
func (r *runtime) disconnect(nc *NodeConnection) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	err := nc.Transport.Disconnect()
	nc.connected.Store(false)

	r.mu.Lock()
	if r.current == nc.Hostname {
		r.current = ""
	}
	r.mu.Unlock()
	return err
}
