package driver

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/config"
	"github.com/core-tools/hsu-iedriver/pkg/logging"
	"github.com/core-tools/hsu-iedriver/pkg/portalloc"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
	"github.com/core-tools/hsu-iedriver/pkg/tasklist"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	defaultWait  = 2 * time.Second
	pollInterval = 5 * time.Millisecond
)

// journal records the order of side effects across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeProcess is a driver whose stdout the test writes.
type fakeProcess struct {
	pid     int
	journal *journal
	r       *io.PipeReader
	w       *io.PipeWriter

	mu              sync.Mutex
	waitErr         error
	terminateErr    error
	ignoreTerminate bool
	terminated      int
	killed          int
}

func newFakeProcess(pid int, j *journal) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, journal: j, r: r, w: w}
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.r }

func (p *fakeProcess) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *fakeProcess) Terminate() error {
	p.journal.add("driver:terminate")
	p.mu.Lock()
	p.terminated++
	ignore, err := p.ignoreTerminate, p.terminateErr
	p.mu.Unlock()
	if !ignore {
		p.w.Close()
	}
	return err
}

func (p *fakeProcess) Kill() error {
	p.journal.add("driver:kill")
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.w.Close()
	return nil
}

// emit blocks until the watcher has read the chunk.
func (p *fakeProcess) emit(t *testing.T, s string) {
	t.Helper()
	_, err := p.w.Write([]byte(s))
	require.NoError(t, err)
}

func (p *fakeProcess) exit(err error) {
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	p.w.Close()
}

func (p *fakeProcess) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

type MockLister struct {
	mock.Mock
}

func (m *MockLister) List(ctx context.Context, verbose bool) ([]tasklist.ProcessRecord, error) {
	args := m.Called(verbose)
	records, _ := args.Get(0).([]tasklist.ProcessRecord)
	return records, args.Error(1)
}

type MockTerminator struct {
	mock.Mock
	journal *journal
}

func (m *MockTerminator) Terminate(ctx context.Context, pid string, force bool) error {
	m.journal.add("browser:" + pid)
	return m.Called(pid, force).Error(0)
}

// hangingLister never answers, whatever its ctx does.
type hangingLister struct {
	release chan struct{}
}

func newHangingLister(t *testing.T) *hangingLister {
	l := &hangingLister{release: make(chan struct{})}
	t.Cleanup(func() { close(l.release) })
	return l
}

func (l *hangingLister) List(ctx context.Context, verbose bool) ([]tasklist.ProcessRecord, error) {
	<-l.release
	return nil, nil
}

func record(image, pid string) tasklist.ProcessRecord {
	return tasklist.Parse("\"Image Name\",\"PID\"\r\n\"" + image + "\",\"" + pid + "\"\r\n")[0]
}

// harness wires a Supervisor to fakes.
type harness struct {
	journal    *journal
	proc       *fakeProcess
	lister     *MockLister
	terminator *MockTerminator
	events     *reporter.Recorder
	spawnArgs  chan []string
	supervisor *Supervisor
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		journal:    j,
		proc:       newFakeProcess(5150, j),
		lister:     &MockLister{},
		terminator: &MockTerminator{journal: j},
		events:     reporter.NewRecorder(),
		spawnArgs:  make(chan []string, 4),
	}

	options := Options{
		LaunchTimeout:    5 * time.Second,
		StopTimeout:      200 * time.Millisecond,
		ForceKillBrowser: true,
		Lister:           h.lister,
		Terminator:       h.terminator,
		Events:           h.events,
		Prober: portalloc.ProberFunc(func(context.Context, string, int) (bool, error) {
			return false, nil
		}),
		Spawn: func(id string, cfg config.DriverConfig, args []string) (ChildProcess, error) {
			h.spawnArgs <- args
			return h.proc, nil
		},
	}
	if mutate != nil {
		mutate(&options)
	}

	s, err := NewSupervisor(options, logging.NewNopLogger())
	require.NoError(t, err)
	h.supervisor = s
	return h
}

func testDriverConfig() config.DriverConfig {
	cfg := config.DefaultDriverConfig()
	cfg.BinaryPath = "IEDriverServer.exe"
	return cfg
}

type launchResult struct {
	session *Session
	err     error
}

func (h *harness) launchAsync(ctx context.Context, cfg config.DriverConfig) <-chan launchResult {
	done := make(chan launchResult, 1)
	go func() {
		session, err := h.supervisor.Launch(ctx, cfg)
		done <- launchResult{session: session, err: err}
	}()
	return done
}

// launchReady launches and completes the handshake.
func (h *harness) launchReady(t *testing.T) *Session {
	t.Helper()
	done := h.launchAsync(context.Background(), testDriverConfig())
	h.proc.emit(t, "Listening on port 5555\n")
	res := <-done
	require.NoError(t, res.err)
	return res.session
}
