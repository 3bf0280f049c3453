// Package cluster routes requests to the right host of the right Slurm
// cluster and keeps one connection bundle per host.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/session"
)

// ClusterStatus summarizes one cluster for listings.
type ClusterStatus struct {
	Name           string              `json:"name" yaml:"name"`
	Description    string              `json:"description" yaml:"description"`
	SSHUser        string              `json:"ssh_user" yaml:"ssh_user"`
	AvailableNodes map[string][]string `json:"available_nodes" yaml:"available_nodes"`
	ConnectedNodes []string            `json:"connected_nodes" yaml:"connected_nodes"`
	CurrentNode    string              `json:"current_node,omitempty" yaml:"current_node,omitempty"`
	IsDefault      bool                `json:"is_default" yaml:"is_default"`
}

// Manager owns every cluster runtime. Build one with NewManager and
// release it with Close.
type Manager struct {
	cfg     *config.MultiClusterConfig
	factory TransportFactory
	log     *logger.Logger
	now     func() time.Time

	mu             sync.RWMutex
	defaultCluster string
	runtimes       map[string]*runtime
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransportFactory replaces the SSH transport, mainly for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithLogger sets the manager's logger.
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock replaces time.Now in the session tables.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager over a validated cluster document.
func NewManager(cfg *config.MultiClusterConfig, opts ...Option) (*Manager, error) {
	if cfg == nil || len(cfg.Clusters) == 0 {
		return nil, config.NewConfigurationError("", "clusters", "no clusters configured")
	}
	if _, ok := cfg.Cluster(cfg.DefaultCluster); !ok {
		return nil, config.NewConfigurationError("", "default_cluster", "cluster %q not found in clusters list", cfg.DefaultCluster)
	}

	m := &Manager{
		cfg:            cfg,
		factory:        SSHTransportFactory,
		now:            time.Now,
		defaultCluster: cfg.DefaultCluster,
		runtimes:       make(map[string]*runtime, len(cfg.Clusters)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrNop(m.log).Named("cluster")

	for i := range cfg.Clusters {
		c := &cfg.Clusters[i]
		m.runtimes[c.Name] = newRuntime(c)
	}
	return m, nil
}

// DefaultCluster is the cluster used when a request names none.
func (m *Manager) DefaultCluster() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultCluster
}

// SetDefaultCluster changes the default for this manager only; the
// document on disk is untouched.
func (m *Manager) SetDefaultCluster(name string) error {
	if _, ok := m.runtimes[name]; !ok {
		return config.NewConfigurationError(name, "", "cluster not found; available: %v", m.cfg.Names())
	}
	m.mu.Lock()
	m.defaultCluster = name
	m.mu.Unlock()
	m.log.Info("default cluster changed", logger.String("cluster", name))
	return nil
}

func (m *Manager) runtime(name string) (*runtime, error) {
	if name == "" {
		name = m.DefaultCluster()
	}
	rt, ok := m.runtimes[name]
	if !ok {
		return nil, config.NewConfigurationError(name, "", "cluster not found; available: %v", m.cfg.Names())
	}
	return rt, nil
}

// ClusterConfig returns the configuration of a cluster, or of the
// default cluster when name is empty.
func (m *Manager) ClusterConfig(name string) (*config.ClusterConfig, error) {
	rt, err := m.runtime(name)
	if err != nil {
		return nil, err
	}
	return rt.cfg, nil
}

// ClusterNodes returns the role to hostnames map of a cluster.
func (m *Manager) ClusterNodes(name string) (map[string][]string, error) {
	rt, err := m.runtime(name)
	if err != nil {
		return nil, err
	}
	return copyNodes(rt.cfg.Nodes), nil
}

// Clusters lists every configured cluster in document order.
func (m *Manager) Clusters() []ClusterStatus {
	def := m.DefaultCluster()
	out := make([]ClusterStatus, 0, len(m.cfg.Clusters))
	for _, name := range m.cfg.Names() {
		rt := m.runtimes[name]
		out = append(out, ClusterStatus{
			Name:           name,
			Description:    rt.cfg.Description,
			SSHUser:        rt.cfg.SSHUser,
			AvailableNodes: copyNodes(rt.cfg.Nodes),
			ConnectedNodes: rt.connectedHosts(),
			CurrentNode:    rt.currentNode(),
			IsDefault:      name == def,
		})
	}
	return out
}

func copyNodes(nodes map[string][]string) map[string][]string {
	out := make(map[string][]string, len(nodes))
	for role, hosts := range nodes {
		out[role] = append([]string(nil), hosts...)
	}
	return out
}

// Resolve returns a connected bundle for node on cluster. An empty
// cluster means the default one. An empty node means the node last
// selected on that cluster, or its default role when none was.
func (m *Manager) Resolve(ctx context.Context, cluster, node string) (*NodeConnection, error) {
	rt, err := m.runtime(cluster)
	if err != nil {
		return nil, err
	}

	host := ""
	if node == "" {
		host = rt.currentNode()
	}
	if host == "" {
		spec := node
		if spec == "" {
			spec = rt.cfg.DefaultNode
		}
		if host, err = ResolveHost(rt.cfg, spec); err != nil {
			return nil, err
		}
	}

	nc := rt.nodeOrCreate(host, func() *NodeConnection {
		return m.newNodeConnection(rt.cfg, host)
	})
	if err := rt.connect(ctx, nc); err != nil {
		m.log.Warn("connect failed",
			logger.String("cluster", rt.cfg.Name),
			logger.String("host", host),
			logger.Error(err))
		return nil, err
	}
	rt.setCurrent(host)
	return nc, nil
}

func (m *Manager) newNodeConnection(cfg *config.ClusterConfig, host string) *NodeConnection {
	log := m.log.WithFields(logger.String("cluster", cfg.Name))
	t := m.factory(cfg, host, log)
	slurm := scheduler.NewSlurm(t, cfg, log)
	m.log.Debug("node bundle created", logger.String("cluster", cfg.Name), logger.String("host", host))
	return &NodeConnection{
		Cluster:   cfg.Name,
		Hostname:  host,
		Transport: t,
		Slurm:     slurm,
		Sessions: session.NewManager(slurm, cfg,
			session.WithClock(m.now),
			session.WithLogger(log.WithFields(logger.String("host", host)))),
	}
}

// ConnectNode connects a node and returns its hostname.
func (m *Manager) ConnectNode(ctx context.Context, cluster, node string) (string, error) {
	nc, err := m.Resolve(ctx, cluster, node)
	if err != nil {
		return "", err
	}
	return nc.Hostname, nil
}

// DisconnectNode closes the connection to host. It reports false when
// the host was never seen on the cluster.
func (m *Manager) DisconnectNode(cluster, host string) (bool, error) {
	rt, err := m.runtime(cluster)
	if err != nil {
		return false, err
	}
	nc, ok := rt.node(host)
	if !ok {
		return false, nil
	}
	if err := rt.disconnect(nc); err != nil {
		return true, fmt.Errorf("disconnect %s: %w", host, err)
	}
	m.log.Info("node disconnected", logger.String("cluster", rt.cfg.Name), logger.String("host", host))
	return true, nil
}

// DisconnectCluster closes every connection of a cluster.
func (m *Manager) DisconnectCluster(cluster string) (bool, error) {
	rt, err := m.runtime(cluster)
	if err != nil {
		return false, err
	}
	var errs []error
	for _, nc := range rt.all() {
		if err := rt.disconnect(nc); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", nc.Hostname, err))
		}
	}
	rt.setCurrent("")
	return true, errors.Join(errs...)
}

// DisconnectAll closes every connection of every cluster.
func (m *Manager) DisconnectAll() error {
	var errs []error
	for _, name := range m.cfg.Names() {
		if _, err := m.DisconnectCluster(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close ends the interactive sessions of every node, then drops all
// connections.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, nc := range m.bundles() {
		if nc.Sessions.Len() == 0 {
			continue
		}
		if err := nc.Sessions.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.DisconnectAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// bundles returns every node bundle of every cluster.
func (m *Manager) bundles() []*NodeConnection {
	var out []*NodeConnection
	for _, name := range m.cfg.Names() {
		out = append(out, m.runtimes[name].all()...)
	}
	return out
}

// Sessions lists the live interactive sessions on every node of a cluster.
func (m *Manager) Sessions(ctx context.Context, cluster string) ([]*session.Session, error) {
	rt, err := m.runtime(cluster)
	if err != nil {
		return nil, err
	}
	var (
		out  []*session.Session
		errs []error
	)
	for _, nc := range rt.all() {
		if nc.Sessions.Len() == 0 {
			continue
		}
		list, err := nc.Sessions.List(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, errors.Join(errs...)
}

// FindSession returns the node bundle that owns session id.
func (m *Manager) FindSession(cluster, id string) (*NodeConnection, error) {
	rt, err := m.runtime(cluster)
	if err != nil {
		return nil, err
	}
	for _, nc := range rt.all() {
		if nc.Sessions.Has(id) {
			return nc, nil
		}
	}
	return nil, &session.NotFoundError{ID: id}
}

// CleanupStaleSessions sweeps every node bundle and returns how many
// sessions were ended.
func (m *Manager) CleanupStaleSessions(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, nc := range m.bundles() {
		if nc.Sessions.Len() == 0 {
			continue
		}
		n, err := nc.Sessions.CleanupStale(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if total > 0 {
		m.log.Info("stale sessions cleaned", logger.Int("count", total))
	}
	return total, errors.Join(errs...)
}
