package driver

import (
	"fmt"
	"io"
	"sync"

	"github.com/core-tools/hsu-iedriver/pkg/config"
)

// SessionState is the lifecycle of one driver process.
type SessionState string

const (
	SessionStateUnstarted   SessionState = "unstarted"
	SessionStateLaunching   SessionState = "launching"
	SessionStateReady       SessionState = "ready"
	SessionStateTerminating SessionState = "terminating"
	SessionStateTerminated  SessionState = "terminated"
)

// ChildProcess is the spawned driver as the supervisor sees it. Stdout is
// read to EOF before Wait is called.
type ChildProcess interface {
	Pid() int
	Stdout() io.Reader
	Wait() error
	Terminate() error
	Kill() error
}

// Session is one launch of the driver. It is created by Supervisor.Launch
// and owned by the supervisor until Kill.
type Session struct {
	ID     string
	Config config.DriverConfig

	mu          sync.Mutex
	state       SessionState
	proc        ChildProcess
	teardownErr error

	// PIDs of browsers that were running before launch
	spared map[int]bool

	readyOnce sync.Once
	ready     chan struct{}
	exited    chan struct{}
	exitErr   error // valid once exited is closed
}

func newSession(id string, cfg config.DriverConfig) *Session {
	return &Session{
		ID:     id,
		Config: cfg,
		state:  SessionStateUnstarted,
		spared: make(map[int]bool),
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Pid of the driver process, 0 before spawn.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Ready is closed once the driver announced it listens.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Exited is closed once the driver process has been reaped.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// ExitErr is the driver's exit error; nil while it runs.
func (s *Session) ExitErr() error {
	select {
	case <-s.exited:
		return s.exitErr
	default:
		return nil
	}
}

// TeardownErr is the TeardownPartialFailure of the last Kill, if any.
func (s *Session) TeardownErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardownErr
}

// URL is the driver's WebDriver endpoint.
func (s *Session) URL() string {
	return fmt.Sprintf("http://%s:%d", s.Config.Host, s.Config.Port)
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *Session) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}
