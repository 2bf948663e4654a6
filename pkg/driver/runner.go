package driver

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/core-tools/hsu-iedriver/pkg/config"
	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/logging"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
)

// Run launches the driver described by cfg and supervises it until a
// termination signal arrives, ctx ends or the driver exits by itself.
func Run(ctx context.Context, cfg *config.Config, logger logging.Logger, events reporter.Sink) error {
	options, err := OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	options.Events = events

	supervisor, err := NewSupervisor(options, logger)
	if err != nil {
		return err
	}

	defaults := cfg.DriverConfig()
	if defaults.BinaryPath == "" {
		defaults.BinaryPath = DefaultBinaryPath()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	go func() {
		select {
		case received := <-sig:
			logger.Infof("Driver runner received signal: %v", received)
			cancel()
		case <-ctx.Done():
		}
	}()

	return supervisor.Serve(ctx, defaults, cfg.Overrides(supervisor.Browser().ConfigKey))
}

// Serve starts the driver and holds it until ctx ends, then tears it down.
// A driver that exits by itself is reported as DriverCrashed after its
// browsers are cleaned up.
func (s *Supervisor) Serve(ctx context.Context, defaults config.DriverConfig, overrides []config.BrowserOverrides) error {
	session, err := s.Start(ctx, defaults, overrides)
	if err != nil {
		return err
	}

	var result error
	select {
	case <-ctx.Done():
		s.logger.Infof("Stopping driver, session: %s", session.ID)
	case <-session.Exited():
		result = errors.NewDriverCrashedError("driver exited while serving", session.ExitErr()).
			WithContext("session_id", session.ID)
		s.logger.Errorf("Driver exited unexpectedly, session: %s, error: %v", session.ID, session.ExitErr())
	}

	s.Kill(context.Background())
	return result
}
