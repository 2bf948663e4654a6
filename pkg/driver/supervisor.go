package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/config"
	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/logging"
	"github.com/core-tools/hsu-iedriver/pkg/portalloc"
	"github.com/core-tools/hsu-iedriver/pkg/process"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
	"github.com/core-tools/hsu-iedriver/pkg/tasklist"

	"github.com/google/uuid"
)

const defaultTerminateConcurrency = 4

// Spawner starts the driver binary with args.
type Spawner func(id string, cfg config.DriverConfig, args []string) (ChildProcess, error)

// ExecSpawner starts the driver as an OS child process.
func ExecSpawner(waitDelay time.Duration, logger logging.Logger) Spawner {
	return func(id string, cfg config.DriverConfig, args []string) (ChildProcess, error) {
		h, err := process.Execute(process.ExecutionConfig{
			ExecutablePath: cfg.BinaryPath,
			Args:           args,
			WaitDelay:      waitDelay,
		}, id, logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// Options configure a Supervisor. Zero values get defaults in NewSupervisor.
type Options struct {
	Browser Browser

	// PassHost adds --host=<host> to the driver command line.
	PassHost bool

	// LaunchTimeout bounds the wait for ReadySignal; negative disables it.
	LaunchTimeout time.Duration
	// StopTimeout is how long the driver gets to exit after the termination
	// signal before it is killed.
	StopTimeout time.Duration
	// TeardownTimeout bounds browser enumeration and termination in Kill;
	// the driver is stopped once it passes.
	TeardownTimeout time.Duration

	ForceKillBrowser         bool
	SparePreexistingBrowsers bool
	TerminateConcurrency     int

	Spawn      Spawner
	Lister     tasklist.Lister
	Terminator tasklist.Terminator
	Prober     portalloc.Prober
	Events     reporter.Sink
}

// OptionsFromConfig maps the driver section of a config file onto Options,
// wiring tasklist for enumeration and termination.
func OptionsFromConfig(cfg *config.Config, logger logging.Logger) (Options, error) {
	tl, err := tasklist.New(tasklist.Options{Encoding: cfg.Driver.TasklistEncoding}, logger)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Browser:                  InternetExplorer(),
		PassHost:                 cfg.Driver.PassHost,
		LaunchTimeout:            cfg.Driver.LaunchTimeout,
		StopTimeout:              cfg.Driver.StopTimeout,
		TeardownTimeout:          cfg.Driver.TeardownTimeout,
		ForceKillBrowser:         cfg.Driver.ForceKill(),
		SparePreexistingBrowsers: cfg.Driver.SparePreexisting,
		Lister:                   tl,
		Terminator:               tl,
	}, nil
}

// Supervisor launches the driver and tears it down again. It holds at most
// one live Session.
type Supervisor struct {
	options Options
	logger  logging.Logger

	mu      sync.Mutex
	session *Session
}

func NewSupervisor(options Options, logger logging.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if options.Browser.ImageName == "" {
		options.Browser = InternetExplorer()
	}
	if options.LaunchTimeout == 0 {
		options.LaunchTimeout = config.DefaultLaunchTimeout
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = config.DefaultStopTimeout
	}
	if options.TeardownTimeout <= 0 {
		options.TeardownTimeout = config.DefaultTeardownTimeout
	}
	if options.TerminateConcurrency <= 0 {
		options.TerminateConcurrency = defaultTerminateConcurrency
	}
	if options.Spawn == nil {
		options.Spawn = ExecSpawner(options.StopTimeout, logger)
	}
	if options.Lister == nil || options.Terminator == nil {
		tl, err := tasklist.New(tasklist.Options{}, logger)
		if err != nil {
			return nil, err
		}
		if options.Lister == nil {
			options.Lister = tl
		}
		if options.Terminator == nil {
			options.Terminator = tl
		}
	}
	if options.Prober == nil {
		options.Prober = portalloc.NewTCPProber()
	}
	if options.Events == nil {
		options.Events = reporter.Discard
	}

	return &Supervisor{
		options: options,
		logger:  logger,
	}, nil
}

// Browser returns the descriptor of the supervised browser.
func (s *Supervisor) Browser() Browser {
	return s.options.Browser
}

// Session returns the live session, or nil.
func (s *Supervisor) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Start resolves the port from defaults and user overrides, finds a free
// one and launches the driver on it.
func (s *Supervisor) Start(ctx context.Context, defaults config.DriverConfig, overrides []config.BrowserOverrides) (*Session, error) {
	cfg, err := portalloc.Allocate(ctx, defaults, overrides, s.options.Prober, s.options.Events)
	if err != nil {
		s.logger.Errorf("Failed to allocate driver port, window: %d-%d, error: %v", cfg.Port, cfg.MaxPort, err)
		return nil, err
	}
	return s.Launch(ctx, cfg)
}

// Launch spawns the driver on cfg.Port and blocks until it prints
// ReadySignal. It fails with LaunchTimeout when the signal does not arrive
// within Options.LaunchTimeout and with DriverCrashed when the process exits
// first; in both cases the child is gone when Launch returns.
func (s *Supervisor) Launch(ctx context.Context, cfg config.DriverConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BinaryPath == "" {
		return nil, errors.NewValidationError("driver binary path is required", nil)
	}

	session := newSession(uuid.NewString(), cfg)

	s.mu.Lock()
	if s.session != nil {
		live := s.session
		s.mu.Unlock()
		return nil, errors.NewConflictError("a driver session is already live", nil).
			WithContext("session_id", live.ID).WithContext("state", string(live.State()))
	}
	s.session = session
	s.mu.Unlock()

	session.setState(SessionStateLaunching)
	s.logger.Infof("Launching driver, session: %s, config: %s", session.ID, cfg)

	if err := s.launch(ctx, session); err != nil {
		session.setState(SessionStateTerminated)
		s.mu.Lock()
		if s.session == session {
			s.session = nil
		}
		s.mu.Unlock()
		s.logger.Errorf("Driver launch failed, session: %s, error: %v", session.ID, err)
		return nil, err
	}

	session.setState(SessionStateReady)
	s.logger.Infof("Driver ready, session: %s, PID: %d, url: %s", session.ID, session.Pid(), session.URL())
	return session, nil
}

func (s *Supervisor) launch(ctx context.Context, session *Session) error {
	if s.options.SparePreexistingBrowsers {
		s.snapshotBrowsers(ctx, session)
	}

	args := []string{fmt.Sprintf("--port=%d", session.Config.Port)}
	if s.options.PassHost {
		args = append(args, fmt.Sprintf("--host=%s", session.Config.Host))
	}

	proc, err := s.options.Spawn(session.ID, session.Config, args)
	if err != nil {
		return err
	}

	session.mu.Lock()
	session.proc = proc
	session.mu.Unlock()

	go session.watch(proc, s.logger)

	// a Kill that ran before proc was set could not stop the child
	if !s.owns(session) {
		s.abortLaunch(session)
		return errors.NewCancelledError("driver launch aborted by kill", nil).
			WithContext("session_id", session.ID).WithContext("pid", proc.Pid())
	}

	var timeout <-chan time.Time
	if s.options.LaunchTimeout > 0 {
		timer := time.NewTimer(s.options.LaunchTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-session.Ready():
		if !s.owns(session) {
			// Kill already stopped this driver
			return errors.NewCancelledError("driver launch aborted by kill", nil).
				WithContext("session_id", session.ID).WithContext("pid", proc.Pid())
		}
		return nil
	case <-session.Exited():
		return errors.NewDriverCrashedError("driver exited before it was ready", session.exitErr).
			WithContext("session_id", session.ID).WithContext("pid", proc.Pid())
	case <-timeout:
		s.abortLaunch(session)
		return errors.NewLaunchTimeoutError(
			fmt.Sprintf("driver did not print %q within %v", ReadySignal, s.options.LaunchTimeout), nil,
		).WithContext("session_id", session.ID).WithContext("pid", proc.Pid())
	case <-ctx.Done():
		s.abortLaunch(session)
		return errors.NewCancelledError("driver launch cancelled", ctx.Err()).
			WithContext("session_id", session.ID)
	}
}

func (s *Supervisor) owns(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session == session
}

// abortLaunch stops a driver that never became ready.
func (s *Supervisor) abortLaunch(session *Session) {
	if err := s.stopDriver(session); err != nil {
		s.logger.Warnf("Failed to stop unready driver, session: %s, error: %v", session.ID, err)
	}
}

func (s *Supervisor) snapshotBrowsers(ctx context.Context, session *Session) {
	records, err := s.options.Lister.List(ctx, false)
	if err != nil {
		s.logger.Warnf("Failed to list running browsers, none will be spared, error: %v", err)
		return
	}
	for _, rec := range records {
		if rec.PID > 0 && rec.Matches(s.options.Browser.ImageName) {
			session.spared[rec.PID] = true
		}
	}
	if len(session.spared) > 0 {
		s.logger.Infof("Sparing pre-existing browser processes, session: %s, count: %d", session.ID, len(session.spared))
	}
}
