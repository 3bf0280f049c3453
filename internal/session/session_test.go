package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/remote/remotetest"
	"github.com/slurmgate/slurmgate/internal/scheduler"
)

// fakeAllocator records calls and serves jobs from a map.
type fakeAllocator struct {
	mu          sync.Mutex
	nextID      int
	allocErr    error
	detailErr   error
	runErr      error
	cancelFails bool
	detailDelay time.Duration
	jobs        map[int]*scheduler.Job
	allocated   []scheduler.AllocationSpec
	runs        []scheduler.RunSpec
	cancelled   []int
	detailCalls atomic.Int32
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{nextID: 100, jobs: make(map[int]*scheduler.Job)}
}

func (f *fakeAllocator) Allocate(_ context.Context, spec scheduler.AllocationSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocErr != nil {
		return 0, f.allocErr
	}
	f.nextID++
	f.allocated = append(f.allocated, spec)
	f.jobs[f.nextID] = &scheduler.Job{ID: f.nextID, State: scheduler.JobRunning, NodeList: "gpu-001", TimeRemaining: "03:59:00"}
	return f.nextID, nil
}

func (f *fakeAllocator) JobDetail(_ context.Context, jobID int) (*scheduler.Job, error) {
	f.detailCalls.Add(1)
	if f.detailDelay > 0 {
		time.Sleep(f.detailDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := *job
	return &out, nil
}

func (f *fakeAllocator) RunInAllocation(_ context.Context, jobID int, spec scheduler.RunSpec) (*remote.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, spec)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &remote.CommandResult{Stdout: "ran in " + f.jobs[jobID].NodeList, ExitCode: 2}, nil
}

func (f *fakeAllocator) Cancel(_ context.Context, jobID int, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	if f.cancelFails {
		return false, nil
	}
	delete(f.jobs, jobID)
	return true, nil
}

func (f *fakeAllocator) setState(jobID int, state scheduler.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].State = state
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.ClusterConfig {
	gpus := 8
	return &config.ClusterConfig{
		Name:                   "test",
		InteractivePartition:   "interactive",
		InteractiveAccount:     "research",
		InteractiveDefaultTime: "4:00:00",
		InteractiveDefaultGpus: &gpus,
		InteractiveTimeout:     3600,
		DirDatasets:            "/lustre/datasets",
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeAllocator, *testClock) {
	t.Helper()
	alloc := newFakeAllocator()
	clock := &testClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	return NewManager(alloc, testConfig(), WithClock(clock.Now)), alloc, clock
}

func TestStart(t *testing.T) {
	m, alloc, clock := newTestManager(t)

	s, err := m.Start(context.Background(), Spec{
		Name:      "debug",
		Container: scheduler.ContainerSpec{Image: "/images/pt.sqsh"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(s.ID) != 8 || s.Status != StatusActive || s.JobID != 101 {
		t.Errorf("session = %+v", s)
	}
	if s.Partition != "interactive" || s.GpusPerNode != 8 || s.Nodes != 1 || s.TimeLimit != "4:00:00" {
		t.Errorf("defaults not applied: %+v", s)
	}
	if s.NodeList != "gpu-001" {
		t.Errorf("node list = %q", s.NodeList)
	}
	if !s.StartTime.Equal(clock.Now()) || !s.LastActivity.Equal(clock.Now()) {
		t.Errorf("times = %v / %v", s.StartTime, s.LastActivity)
	}
	if s.Container.Mounts != "/lustre/datasets:/datasets" {
		t.Errorf("container mounts should default to cluster mounts, got %q", s.Container.Mounts)
	}
	if got := alloc.allocated[0].JobName; got != "slurmgate-session-"+s.ID {
		t.Errorf("job name = %q", got)
	}
}

func TestStartFailureRegistersNothing(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	alloc.allocErr = scheduler.NewAllocationError("salloc", "Invalid account", errors.New("exit code 1"))

	_, err := m.Start(context.Background(), Spec{})
	if !errors.Is(err, scheduler.ErrAllocation) {
		t.Fatalf("expected AllocationError, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("failed start registered %d sessions", m.Len())
	}
}

func TestExec(t *testing.T) {
	m, alloc, clock := newTestManager(t)
	s, err := m.Start(context.Background(), Spec{})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Minute)
	res, err := m.Exec(context.Background(), s.ID, "nvidia-smi", remote.ExecOptions{WorkingDirectory: "/work"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 2 || res.Stdout != "ran in gpu-001" {
		t.Errorf("result = %+v", res)
	}
	if alloc.runs[0].WorkingDirectory != "/work" || alloc.runs[0].Command != "nvidia-smi" {
		t.Errorf("run spec = %+v", alloc.runs[0])
	}

	got, _ := m.Get(context.Background(), s.ID)
	if !got.LastActivity.Equal(clock.Now()) {
		t.Errorf("non-zero exit should still update activity: %v", got.LastActivity)
	}
}

func TestExecTransportErrorKeepsActivity(t *testing.T) {
	m, alloc, clock := newTestManager(t)
	s, _ := m.Start(context.Background(), Spec{})
	started := clock.Now()

	clock.Advance(time.Minute)
	alloc.runErr = remote.NewCommandTimeoutError("login-01", "srun", time.Second)
	if _, err := m.Exec(context.Background(), s.ID, "sleep 100", remote.ExecOptions{}); !errors.Is(err, remote.ErrCommandTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	got, _ := m.Get(context.Background(), s.ID)
	if !got.LastActivity.Equal(started) {
		t.Errorf("failed exec should not update activity: %v", got.LastActivity)
	}
}

func TestExecUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Exec(context.Background(), "deadbeef", "true", remote.ExecOptions{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestGetRetiresEndedJob(t *testing.T) {
	tests := []struct {
		name  string
		apply func(a *fakeAllocator, jobID int)
	}{
		{"completed", func(a *fakeAllocator, id int) { a.setState(id, scheduler.JobCompleted) }},
		{"timeout", func(a *fakeAllocator, id int) { a.setState(id, scheduler.JobTimeout) }},
		{"purged", func(a *fakeAllocator, id int) {
			a.mu.Lock()
			delete(a.jobs, id)
			a.mu.Unlock()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, alloc, _ := newTestManager(t)
			s, _ := m.Start(context.Background(), Spec{})
			tt.apply(alloc, s.JobID)

			got, err := m.Get(context.Background(), s.ID)
			if err != nil || got != nil {
				t.Fatalf("Get = %+v, %v; want nil, nil", got, err)
			}
			if m.Len() != 0 {
				t.Error("ended session should be removed")
			}
			if _, err := m.Exec(context.Background(), s.ID, "true", remote.ExecOptions{}); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("exec on retired session = %v", err)
			}
		})
	}
}

func TestGetTransportErrorKeepsSession(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	s, _ := m.Start(context.Background(), Spec{})
	alloc.detailErr = remote.NewConnectionError("login-01", errors.New("connection refused"))

	if _, err := m.Get(context.Background(), s.ID); !errors.Is(err, remote.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if m.Len() != 1 {
		t.Error("a failed check must not retire the session")
	}
}

func TestGetControllerOutageKeepsSession(t *testing.T) {
	fake := remotetest.New("login-01")
	fake.OnStdout("sinfo --version", "slurm 23.02.6\n")
	fake.On("salloc", remote.CommandResult{Stderr: "salloc: Granted job allocation 999\n"})
	fake.OnStdout("scontrol show job 999", "JobId=999 JobName=x JobState=RUNNING NodeList=gpu-001\n")
	fake.OnStdout("scancel 999", "")

	cfg := testConfig()
	m := NewManager(scheduler.NewSlurm(fake, cfg, nil), cfg)
	ctx := context.Background()
	s, err := m.Start(ctx, Spec{})
	if err != nil {
		t.Fatal(err)
	}

	fake.On("scontrol show job 999", remote.CommandResult{
		ExitCode: 1,
		Stderr:   "slurm_load_jobs error: Unable to contact slurm controller (connect failure)\n",
	})
	if got, err := m.Get(ctx, s.ID); err == nil || got != nil {
		t.Fatalf("Get during outage = %+v, %v; want an error", got, err)
	}
	if _, err := m.CleanupStale(ctx); err == nil {
		t.Error("CleanupStale during outage should report the failed check")
	}
	if m.Len() != 1 {
		t.Fatalf("outage dropped the session (Len = %d)", m.Len())
	}
	for _, c := range fake.Commands() {
		if strings.HasPrefix(c, "scancel") {
			t.Errorf("no scancel expected during outage, saw %q", c)
		}
	}

	if ok, err := m.End(ctx, s.ID); err != nil || !ok {
		t.Errorf("End after outage = %v, %v", ok, err)
	}
}

func TestGetSharesConcurrentReconciliation(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	s, _ := m.Start(context.Background(), Spec{})
	alloc.detailCalls.Store(0)
	alloc.detailDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := m.Get(context.Background(), s.ID); err != nil || got == nil {
				t.Errorf("Get = %v, %v", got, err)
			}
		}()
	}
	wg.Wait()
	if n := alloc.detailCalls.Load(); n >= 8 {
		t.Errorf("concurrent Gets issued %d scheduler queries; want them shared", n)
	}
}

func TestEnd(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	s, _ := m.Start(context.Background(), Spec{})

	ok, err := m.End(context.Background(), s.ID)
	if err != nil || !ok {
		t.Fatalf("End = %v, %v", ok, err)
	}
	if len(alloc.cancelled) != 1 || alloc.cancelled[0] != s.JobID {
		t.Errorf("cancelled = %v", alloc.cancelled)
	}
	if ok, _ := m.End(context.Background(), s.ID); ok {
		t.Error("ending twice should report false")
	}
	if ok, _ := m.End(context.Background(), "nope"); ok {
		t.Error("ending an unknown id should report false")
	}
}

func TestEndFailedCancelKeepsSession(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	ctx := context.Background()
	s, _ := m.Start(ctx, Spec{})

	alloc.cancelFails = true
	if ok, err := m.End(ctx, s.ID); err != nil || ok {
		t.Fatalf("End with failing scancel = %v, %v; want false, nil", ok, err)
	}
	if m.Len() != 1 {
		t.Fatalf("failed cancel dropped the session (Len = %d)", m.Len())
	}

	alloc.cancelFails = false
	if ok, err := m.End(ctx, s.ID); err != nil || !ok {
		t.Errorf("retried End = %v, %v", ok, err)
	}
	if m.Len() != 0 || len(alloc.cancelled) != 2 {
		t.Errorf("after retry Len = %d, cancelled = %v", m.Len(), alloc.cancelled)
	}
}

func TestCloseReportsRefusedCancel(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	ctx := context.Background()
	s, _ := m.Start(ctx, Spec{})
	alloc.cancelFails = true

	err := m.Close(ctx)
	if err == nil || !strings.Contains(err.Error(), s.ID) {
		t.Errorf("Close = %v; want an error naming session %s", err, s.ID)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d; want the session kept", m.Len())
	}
}

func TestListSorted(t *testing.T) {
	m, alloc, clock := newTestManager(t)
	first, _ := m.Start(context.Background(), Spec{Name: "a"})
	clock.Advance(time.Minute)
	second, _ := m.Start(context.Background(), Spec{Name: "b"})
	clock.Advance(time.Minute)
	third, _ := m.Start(context.Background(), Spec{Name: "c"})
	alloc.setState(second.JobID, scheduler.JobCancelled)

	list, err := m.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != third.ID {
		t.Errorf("list = %+v", list)
	}
	if list[0].TimeRemaining != "03:59:00" {
		t.Errorf("time remaining not refreshed: %q", list[0].TimeRemaining)
	}
}

func TestCleanupStale(t *testing.T) {
	m, alloc, clock := newTestManager(t)
	idle, _ := m.Start(context.Background(), Spec{Name: "idle"})
	busy, _ := m.Start(context.Background(), Spec{Name: "busy"})
	gone, _ := m.Start(context.Background(), Spec{Name: "gone"})
	alloc.setState(gone.JobID, scheduler.JobCompleted)

	clock.Advance(50 * time.Minute)
	if _, err := m.Exec(context.Background(), busy.ID, "true", remote.ExecOptions{}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(20 * time.Minute)

	n, err := m.CleanupStale(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleaned = %d; want 2", n)
	}
	if got, _ := m.Get(context.Background(), busy.ID); got == nil {
		t.Error("recently used session should survive")
	}
	if got, _ := m.Get(context.Background(), idle.ID); got != nil {
		t.Error("idle session should be ended")
	}
	if len(alloc.cancelled) != 1 || alloc.cancelled[0] != idle.JobID {
		t.Errorf("only the idle job should be cancelled, got %v", alloc.cancelled)
	}
}

func TestClose(t *testing.T) {
	m, alloc, _ := newTestManager(t)
	m.Start(context.Background(), Spec{})
	m.Start(context.Background(), Spec{})

	if err := m.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 || len(alloc.cancelled) != 2 {
		t.Errorf("Close left %d sessions, cancelled %v", m.Len(), alloc.cancelled)
	}
}

func TestWithSlurm(t *testing.T) {
	fake := remotetest.New("login-01")
	fake.OnStdout("sinfo --version", "slurm 23.02.6\n")
	fake.On("salloc", remote.CommandResult{Stderr: "salloc: Granted job allocation 555\n"})
	fake.OnStdout("scontrol show job 555", "JobId=555 JobName=x JobState=RUNNING NodeList=gpu-007 RunTime=00:01:00 TimeLimit=01:00:00\n")
	fake.OnStdout("srun --jobid=555", "hello\n")
	fake.OnStdout("scancel 555", "")

	cfg := testConfig()
	m := NewManager(scheduler.NewSlurm(fake, cfg, nil), cfg)
	ctx := context.Background()

	s, err := m.Start(ctx, Spec{})
	if err != nil {
		t.Fatal(err)
	}
	if s.JobID != 555 || s.NodeList != "gpu-007" {
		t.Errorf("session = %+v", s)
	}
	res, err := m.Exec(ctx, s.ID, "echo hello", remote.ExecOptions{})
	if err != nil || res.Stdout != "hello\n" {
		t.Fatalf("Exec = %+v, %v", res, err)
	}
	got, err := m.Get(ctx, s.ID)
	if err != nil || got.TimeRemaining != "00:59:00" {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if ok, err := m.End(ctx, s.ID); err != nil || !ok {
		t.Errorf("End = %v, %v", ok, err)
	}
	cmds := strings.Join(fake.Commands(), "\n")
	if !strings.Contains(cmds, "-J slurmgate-session-"+s.ID) {
		t.Errorf("salloc should carry the session job name:\n%s", cmds)
	}
}
