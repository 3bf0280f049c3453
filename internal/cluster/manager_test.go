package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/remote/remotetest"
	"github.com/slurmgate/slurmgate/internal/session"
)

const runningJob = `JobId=4242 JobName=slurmgate-session JobState=RUNNING Partition=interactive
   NodeList=gpu-001 NumNodes=1 NumCPUs=8 TimeLimit=01:00:00 RunTime=00:01:00
`

// fakes hands out one scripted transport per cluster/host pair.
type fakes struct {
	mu     sync.Mutex
	byHost map[string]*remotetest.Fake
	setup  func(*remotetest.Fake)
}

func (f *fakes) factory(cfg *config.ClusterConfig, host string, _ *logger.Logger) remote.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cfg.Name + "/" + host
	if fake, ok := f.byHost[key]; ok {
		return fake
	}
	fake := remotetest.New(host)
	if f.setup != nil {
		f.setup(fake)
	}
	f.byHost[key] = fake
	return fake
}

func (f *fakes) get(cluster, host string) *remotetest.Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHost[cluster+"/"+host]
}

func newTestManager(t *testing.T, setup func(*remotetest.Fake)) (*Manager, *fakes) {
	t.Helper()
	mc := &config.MultiClusterConfig{
		DefaultCluster: "alpha",
		Clusters:       []config.ClusterConfig{testClusterConfig("alpha"), testClusterConfig("beta")},
	}
	f := &fakes{byHost: make(map[string]*remotetest.Fake), setup: setup}
	m, err := NewManager(mc, WithTransportFactory(f.factory))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, f
}

func TestNewManagerRejectsEmptyDocument(t *testing.T) {
	if _, err := NewManager(&config.MultiClusterConfig{}); !config.IsConfigurationError(err) {
		t.Errorf("NewManager(empty) error = %v; want configuration error", err)
	}
	bad := &config.MultiClusterConfig{DefaultCluster: "nope", Clusters: []config.ClusterConfig{testClusterConfig("alpha")}}
	if _, err := NewManager(bad); !config.IsConfigurationError(err) {
		t.Errorf("NewManager(bad default) error = %v; want configuration error", err)
	}
}

func TestResolveDefaults(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	nc, err := m.Resolve(ctx, "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if nc.Cluster != "alpha" || nc.Hostname != "h1" {
		t.Errorf("Resolve(\"\", \"\") = %s/%s; want alpha/h1", nc.Cluster, nc.Hostname)
	}
	if !nc.Connected() {
		t.Error("resolved node is not connected")
	}
}

func TestResolveKeepsCurrentNode(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	nc, err := m.Resolve(ctx, "alpha", "data")
	if err != nil {
		t.Fatalf("Resolve(data): %v", err)
	}
	if nc.Hostname != "h3" {
		t.Fatalf("Resolve(data) = %q; want h3", nc.Hostname)
	}

	again, err := m.Resolve(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("Resolve(\"\"): %v", err)
	}
	if again.Hostname != "h3" {
		t.Errorf("unqualified Resolve after data = %q; want h3", again.Hostname)
	}
	if again != nc {
		t.Error("unqualified Resolve returned a different bundle")
	}

	// other clusters keep their own current node
	other, err := m.Resolve(ctx, "beta", "")
	if err != nil {
		t.Fatalf("Resolve(beta): %v", err)
	}
	if other.Hostname != "h1" {
		t.Errorf("Resolve(beta) = %q; want h1", other.Hostname)
	}

	for _, st := range m.Clusters() {
		if st.Name == "alpha" && st.CurrentNode != "h3" {
			t.Errorf("alpha current node = %q; want h3", st.CurrentNode)
		}
	}
}

func TestResolveUnknownCluster(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.Resolve(context.Background(), "gamma", "")
	if !errors.Is(err, config.ErrConfiguration) {
		t.Errorf("Resolve(gamma) error = %v; want ErrConfiguration", err)
	}
	_, err = m.Resolve(context.Background(), "alpha", "bogus")
	if !config.IsConfigurationError(err) {
		t.Errorf("Resolve(alpha, bogus) error = %v; want configuration error", err)
	}
}

func TestResolveConnectFailure(t *testing.T) {
	m, _ := newTestManager(t, func(f *remotetest.Fake) {
		f.ConnectErr = errors.New("connection refused")
	})
	_, err := m.Resolve(context.Background(), "alpha", "data")
	if !remote.IsConnectionError(err) {
		t.Fatalf("Resolve error = %v; want connection error", err)
	}
	if got := m.Clusters()[0].CurrentNode; got != "" {
		t.Errorf("current node after failed connect = %q; want empty", got)
	}
}

func TestConcurrentResolveConnectsOnce(t *testing.T) {
	m, f := newTestManager(t, func(f *remotetest.Fake) {
		f.ConnectDelay = 20 * time.Millisecond
	})

	const n = 10
	var wg sync.WaitGroup
	got := make([]*NodeConnection, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = m.Resolve(context.Background(), "alpha", "login")
		}(i)
	}
	wg.Wait()

	for i := range got {
		if errs[i] != nil {
			t.Fatalf("Resolve #%d: %v", i, errs[i])
		}
		if got[i] != got[0] {
			t.Fatalf("Resolve #%d returned a different bundle", i)
		}
	}
	if calls := f.get("alpha", "h1").ConnectCalls(); calls != 1 {
		t.Errorf("Connect called %d times; want 1", calls)
	}
}

func TestBundleSurvivesReconnect(t *testing.T) {
	m, f := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "alpha", "login")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	f.get("alpha", "h1").Drop()
	if first.Connected() {
		t.Fatal("dropped node still reports connected")
	}

	second, err := m.Resolve(ctx, "alpha", "login")
	if err != nil {
		t.Fatalf("Resolve after drop: %v", err)
	}
	if second != first || second.Slurm != first.Slurm || second.Sessions != first.Sessions {
		t.Error("reconnect rebuilt the node bundle")
	}
	if calls := f.get("alpha", "h1").ConnectCalls(); calls != 2 {
		t.Errorf("Connect called %d times; want 2", calls)
	}
}

func TestDisconnectNode(t *testing.T) {
	m, f := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := m.ConnectNode(ctx, "alpha", "data"); err != nil {
		t.Fatalf("ConnectNode: %v", err)
	}

	ok, err := m.DisconnectNode("alpha", "h3")
	if err != nil || !ok {
		t.Fatalf("DisconnectNode(h3) = %v, %v; want true, nil", ok, err)
	}
	if f.get("alpha", "h3").IsConnected() {
		t.Error("transport still connected")
	}
	st := m.Clusters()[0]
	if st.CurrentNode != "" {
		t.Errorf("current node = %q; want cleared", st.CurrentNode)
	}
	if len(st.ConnectedNodes) != 0 {
		t.Errorf("connected nodes = %v; want none", st.ConnectedNodes)
	}

	if ok, _ := m.DisconnectNode("alpha", "never-seen"); ok {
		t.Error("DisconnectNode(never-seen) = true; want false")
	}
	if _, err := m.DisconnectNode("gamma", "h1"); !config.IsConfigurationError(err) {
		t.Errorf("DisconnectNode(gamma) error = %v; want configuration error", err)
	}

	// with the current node cleared, the default role applies again
	nc, err := m.Resolve(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if nc.Hostname != "h1" {
		t.Errorf("Resolve after disconnect = %q; want h1", nc.Hostname)
	}
}

func TestDisconnectAll(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	for _, spec := range []struct{ cluster, node string }{{"alpha", "login"}, {"alpha", "data"}, {"beta", "login:1"}} {
		if _, err := m.Resolve(ctx, spec.cluster, spec.node); err != nil {
			t.Fatalf("Resolve(%s, %s): %v", spec.cluster, spec.node, err)
		}
	}
	if got := len(m.Clusters()[0].ConnectedNodes); got != 2 {
		t.Fatalf("alpha connected nodes = %d; want 2", got)
	}

	if err := m.DisconnectAll(); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	for _, st := range m.Clusters() {
		if len(st.ConnectedNodes) != 0 || st.CurrentNode != "" {
			t.Errorf("%s after DisconnectAll: connected=%v current=%q", st.Name, st.ConnectedNodes, st.CurrentNode)
		}
	}
}

func TestClustersListing(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, err := m.Resolve(context.Background(), "beta", "compute:1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	list := m.Clusters()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "beta" {
		t.Fatalf("Clusters() = %+v; want alpha, beta", list)
	}
	if !list[0].IsDefault || list[1].IsDefault {
		t.Errorf("default markers = %v, %v; want true, false", list[0].IsDefault, list[1].IsDefault)
	}
	if got := list[1].ConnectedNodes; len(got) != 1 || got[0] != "c2.example.org" {
		t.Errorf("beta connected nodes = %v; want [c2.example.org]", got)
	}
	if got := list[0].AvailableNodes["login"]; len(got) != 2 {
		t.Errorf("alpha login hosts = %v; want 2 entries", got)
	}

	list[0].AvailableNodes["login"][0] = "mutated"
	nodes, _ := m.ClusterNodes("alpha")
	if nodes["login"][0] != "h1" {
		t.Error("Clusters() exposed the configuration's node map")
	}
}

func TestSetDefaultCluster(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if err := m.SetDefaultCluster("beta"); err != nil {
		t.Fatalf("SetDefaultCluster: %v", err)
	}
	if m.DefaultCluster() != "beta" {
		t.Errorf("DefaultCluster() = %q; want beta", m.DefaultCluster())
	}
	nc, err := m.Resolve(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if nc.Cluster != "beta" {
		t.Errorf("Resolve used cluster %q; want beta", nc.Cluster)
	}
	if err := m.SetDefaultCluster("gamma"); !config.IsConfigurationError(err) {
		t.Errorf("SetDefaultCluster(gamma) error = %v; want configuration error", err)
	}
	cfg, err := m.ClusterConfig("")
	if err != nil || cfg.Name != "beta" {
		t.Errorf("ClusterConfig(\"\") = %v, %v; want beta", cfg, err)
	}
}

func scriptSessionHost(f *remotetest.Fake) {
	f.On("salloc", remote.CommandResult{Stderr: "salloc: Granted job allocation 4242\n"})
	f.OnStdout("scontrol show job 4242", runningJob)
	f.OnStdout("scancel", "")
}

func TestSessionsAcrossNodes(t *testing.T) {
	m, f := newTestManager(t, scriptSessionHost)
	ctx := context.Background()

	nc, err := m.Resolve(ctx, "alpha", "data")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s, err := nc.Sessions.Start(ctx, session.Spec{Name: "debug"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	list, err := m.Sessions(ctx, "alpha")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(list) != 1 || list[0].ID != s.ID {
		t.Fatalf("Sessions() = %+v; want the started session", list)
	}

	owner, err := m.FindSession("alpha", s.ID)
	if err != nil || owner != nc {
		t.Errorf("FindSession = %v, %v; want the data node", owner, err)
	}
	if _, err := m.FindSession("alpha", "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("FindSession(missing) error = %v; want not found", err)
	}
	if other, _ := m.Sessions(ctx, "beta"); len(other) != 0 {
		t.Errorf("beta sessions = %d; want 0", len(other))
	}

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if nc.Sessions.Len() != 0 {
		t.Errorf("sessions after Close = %d; want 0", nc.Sessions.Len())
	}
	cancelled := false
	for _, cmd := range f.get("alpha", "h3").Commands() {
		if cmd == "scancel 4242" {
			cancelled = true
		}
	}
	if !cancelled {
		t.Errorf("Close did not cancel job 4242; commands: %v", f.get("alpha", "h3").Commands())
	}
	if nc.Connected() {
		t.Error("node still connected after Close")
	}
}

func TestCleanupStaleSessions(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	mc := &config.MultiClusterConfig{DefaultCluster: "alpha", Clusters: []config.ClusterConfig{testClusterConfig("alpha")}}
	f := &fakes{byHost: make(map[string]*remotetest.Fake), setup: scriptSessionHost}
	m, err := NewManager(mc, WithTransportFactory(f.factory), WithClock(clock))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	nc, err := m.Resolve(ctx, "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := nc.Sessions.Start(ctx, session.Spec{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n, err := m.CleanupStaleSessions(ctx); err != nil || n != 0 {
		t.Fatalf("CleanupStaleSessions (fresh) = %d, %v; want 0, nil", n, err)
	}

	clockMu.Lock()
	now = now.Add(2 * time.Hour)
	clockMu.Unlock()

	if n, err := m.CleanupStaleSessions(ctx); err != nil || n != 1 {
		t.Fatalf("CleanupStaleSessions (idle) = %d, %v; want 1, nil", n, err)
	}
	if nc.Sessions.Len() != 0 {
		t.Errorf("sessions after sweep = %d; want 0", nc.Sessions.Len())
	}
}
