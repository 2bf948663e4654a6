package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/portalloc"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
	"github.com/core-tools/hsu-iedriver/pkg/tasklist"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Kill tears down the live session: browser processes found by enumeration
// are terminated first, then the driver process. Browser cleanup is bounded
// by Options.TeardownTimeout, and its failures never prevent the driver from
// being stopped. Failures are logged, emitted and kept on the session as a
// TeardownPartialFailure; Kill itself never fails.
func (s *Supervisor) Kill(ctx context.Context) *Supervisor {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	if session == nil {
		s.logger.Debugf("Kill requested without a live driver session")
		return s
	}

	session.setState(SessionStateTerminating)
	s.logger.Infof("Tearing down driver session: %s, PID: %d", session.ID, session.Pid())

	var errs error
	errs = multierr.Append(errs, s.cleanupBrowsers(ctx, session))
	errs = multierr.Append(errs, s.stopDriver(session))

	session.setState(SessionStateTerminated)

	if errs != nil {
		partial := errors.NewTeardownPartialError("driver teardown incomplete", errs).
			WithContext("session_id", session.ID).
			WithContext("failures", len(multierr.Errors(errs)))
		session.mu.Lock()
		session.teardownErr = partial
		session.mu.Unlock()

		s.logger.Warnf("Driver teardown incomplete, session: %s, error: %v", session.ID, partial)
		s.options.Events.Emit(reporter.ChannelSystemLog,
			fmt.Sprintf("%s: Teardown incomplete: %v", portalloc.EventPrefix, errs))
		return s
	}

	s.logger.Infof("Driver session torn down: %s", session.ID)
	return s
}

// cleanupBrowsers runs killBrowsers for at most TeardownTimeout. A lister or
// terminator that does not honour ctx is left running in the background.
func (s *Supervisor) cleanupBrowsers(ctx context.Context, session *Session) error {
	ctx, cancel := context.WithTimeout(ctx, s.options.TeardownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.killBrowsers(ctx, session)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.logger.Warnf("Browser cleanup did not finish, session: %s, error: %v", session.ID, ctx.Err())
		return errors.NewCancelledError("browser cleanup did not finish", ctx.Err()).
			WithContext("session_id", session.ID).
			WithContext("timeout", s.options.TeardownTimeout.String())
	}
}

func (s *Supervisor) killBrowsers(ctx context.Context, session *Session) error {
	records, err := s.options.Lister.List(ctx, true)
	if err != nil {
		return err
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(s.options.TerminateConcurrency)

	image := s.options.Browser.ImageName
	for _, rec := range records {
		if !rec.Matches(image) {
			continue
		}
		if session.spared[rec.PID] {
			s.logger.Debugf("Leaving pre-existing browser alone, PID: %d", rec.PID)
			continue
		}

		pid := rec.Attributes[tasklist.PIDColumn]
		g.Go(func() error {
			if err := s.options.Terminator.Terminate(ctx, pid, s.options.ForceKillBrowser); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

// stopDriver signals the driver and waits for it to be reaped, killing it
// when StopTimeout passes.
func (s *Supervisor) stopDriver(session *Session) error {
	session.mu.Lock()
	proc := session.proc
	session.mu.Unlock()

	if proc == nil || session.hasExited() {
		return nil
	}

	var errs error
	if err := proc.Terminate(); err != nil {
		errs = multierr.Append(errs, errors.NewProcessError("failed to send termination signal to driver", err).
			WithContext("pid", proc.Pid()))
	}

	if waitExited(session, s.options.StopTimeout) {
		return errs
	}

	s.logger.Warnf("Driver did not exit within %v, killing, PID: %d", s.options.StopTimeout, proc.Pid())
	if err := proc.Kill(); err != nil {
		errs = multierr.Append(errs, errors.NewProcessError("failed to kill driver", err).
			WithContext("pid", proc.Pid()))
	}
	if !waitExited(session, s.options.StopTimeout) {
		errs = multierr.Append(errs, errors.NewProcessError("driver did not exit", nil).
			WithContext("pid", proc.Pid()))
	}
	return errs
}

func waitExited(session *Session, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-session.Exited():
		return true
	case <-timer.C:
		return false
	}
}
