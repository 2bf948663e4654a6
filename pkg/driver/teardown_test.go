package driver

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"
	"github.com/core-tools/hsu-iedriver/pkg/tasklist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func teardownCauses(t *testing.T, err error) []error {
	t.Helper()
	var partial *errors.DomainError
	require.True(t, stderrors.As(err, &partial))
	require.Equal(t, errors.ErrorTypeTeardownPartial, partial.Type)
	return multierr.Errors(partial.Cause)
}

func TestKill_TerminatesBrowserBeforeDriver(t *testing.T) {
	h := newHarness(t, nil)
	session := h.launchReady(t)

	h.lister.On("List", true).Return([]tasklist.ProcessRecord{
		record("explorer.exe", "1000"),
		record("iexplore.exe", "4242"),
	}, nil).Once()
	h.terminator.On("Terminate", "4242", true).Return(nil).Once()

	assert.Same(t, h.supervisor, h.supervisor.Kill(context.Background()))

	h.terminator.AssertNumberOfCalls(t, "Terminate", 1)
	assert.Equal(t, []string{"browser:4242", "driver:terminate"}, h.journal.all())
	assert.Equal(t, SessionStateTerminated, session.State())
	assert.NoError(t, session.TeardownErr())
	assert.Nil(t, h.supervisor.Session())
	assert.Empty(t, h.events.Messages(reporter.ChannelSystemLog))
}

func TestKill_DriverStoppedWhenBrowserTerminationFails(t *testing.T) {
	h := newHarness(t, nil)
	session := h.launchReady(t)

	denied := stderrors.New("access denied")
	h.lister.On("List", true).Return([]tasklist.ProcessRecord{record("iexplore.exe", "4242")}, nil).Once()
	h.terminator.On("Terminate", "4242", true).Return(denied).Once()

	h.supervisor.Kill(context.Background())

	h.terminator.AssertNumberOfCalls(t, "Terminate", 1)
	assert.Equal(t, []string{"browser:4242", "driver:terminate"}, h.journal.all())
	terminated, killed := h.proc.counts()
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 0, killed)

	assert.True(t, errors.IsTeardownPartialError(session.TeardownErr()))
	assert.ErrorIs(t, session.TeardownErr(), denied)
	assert.Len(t, h.events.Messages(reporter.ChannelSystemLog), 1)
}

func TestKill_DriverStoppedWhenEnumerationFails(t *testing.T) {
	h := newHarness(t, nil)
	session := h.launchReady(t)

	h.lister.On("List", true).Return(nil, stderrors.New("tasklist not found")).Once()

	h.supervisor.Kill(context.Background())

	h.terminator.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"driver:terminate"}, h.journal.all())
	assert.True(t, errors.IsTeardownPartialError(session.TeardownErr()))
}

func TestKill_LeavesOtherProcessesAlone(t *testing.T) {
	h := newHarness(t, nil)
	h.launchReady(t)

	h.lister.On("List", true).Return([]tasklist.ProcessRecord{
		record("System Idle Process", "1"),
		record("IEDriverServer.exe", "5150"),
		record("IEXPLORE.EXE", "77"),
	}, nil).Once()
	h.terminator.On("Terminate", "77", true).Return(nil).Once()

	h.supervisor.Kill(context.Background())

	h.terminator.AssertExpectations(t)
	h.terminator.AssertNumberOfCalls(t, "Terminate", 1)
}

func TestKill_GracefulBrowserTermination(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ForceKillBrowser = false })
	h.launchReady(t)

	h.lister.On("List", true).Return([]tasklist.ProcessRecord{record("iexplore.exe", "4242")}, nil).Once()
	h.terminator.On("Terminate", "4242", false).Return(nil).Once()

	h.supervisor.Kill(context.Background())

	h.terminator.AssertExpectations(t)
}

func TestKill_TerminatesEveryBrowser(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TerminateConcurrency = 2 })
	h.launchReady(t)

	var records []tasklist.ProcessRecord
	for _, pid := range []string{"11", "12", "13", "14", "15"} {
		records = append(records, record("iexplore.exe", pid))
		h.terminator.On("Terminate", pid, true).Return(nil).Once()
	}
	h.lister.On("List", true).Return(records, nil).Once()

	h.supervisor.Kill(context.Background())

	h.terminator.AssertExpectations(t)
	entries := h.journal.all()
	require.Len(t, entries, 6)
	assert.Equal(t, "driver:terminate", entries[5])
}

func TestKill_KillsDriverIgnoringTermination(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.ignoreTerminate = true
	session := h.launchReady(t)

	h.lister.On("List", true).Return(nil, nil).Once()

	h.supervisor.Kill(context.Background())

	assert.Equal(t, []string{"driver:terminate", "driver:kill"}, h.journal.all())
	terminated, killed := h.proc.counts()
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 1, killed)
	assert.NoError(t, session.TeardownErr())
	select {
	case <-session.Exited():
	default:
		t.Fatal("driver should have exited")
	}
}

func TestKill_TerminationSignalFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.proc.terminateErr = stderrors.New("operation not permitted")
	session := h.launchReady(t)

	h.lister.On("List", true).Return(nil, nil).Once()

	h.supervisor.Kill(context.Background())

	causes := teardownCauses(t, session.TeardownErr())
	require.Len(t, causes, 1)
	assert.True(t, errors.IsProcessError(causes[0]))
}

func TestKill_WithoutSession(t *testing.T) {
	h := newHarness(t, nil)

	assert.Same(t, h.supervisor, h.supervisor.Kill(context.Background()))

	h.lister.AssertNotCalled(t, "List", mock.Anything)
	assert.Empty(t, h.journal.all())
}

func TestKill_Twice(t *testing.T) {
	h := newHarness(t, nil)
	h.launchReady(t)
	h.lister.On("List", true).Return(nil, nil).Once()

	h.supervisor.Kill(context.Background()).Kill(context.Background())

	h.lister.AssertNumberOfCalls(t, "List", 1)
	assert.Equal(t, []string{"driver:terminate"}, h.journal.all())
}

func TestKill_InvalidPIDThroughTasklist(t *testing.T) {
	var (
		mu       sync.Mutex
		commands []string
	)
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, name)
		return []byte("\"Image Name\",\"PID\"\r\n\"iexplore.exe\",\"N/A\"\r\n\"iexplore.exe\",\"4242\"\r\n"), nil
	}
	tl, err := tasklist.New(tasklist.Options{Runner: runner}, nil)
	require.NoError(t, err)

	h := newHarness(t, func(o *Options) {
		o.Lister = tl
		o.Terminator = tl
	})
	session := h.launchReady(t)

	h.supervisor.Kill(context.Background())

	assert.ElementsMatch(t, []string{"tasklist", "taskkill"}, commands)
	causes := teardownCauses(t, session.TeardownErr())
	require.Len(t, causes, 1)
	assert.True(t, errors.IsInvalidPIDError(causes[0]))
	assert.Equal(t, []string{"driver:terminate"}, h.journal.all())
}

func TestKill_StopsDriverWhenBrowserCleanupHangs(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Lister = newHangingLister(t)
		o.TeardownTimeout = 50 * time.Millisecond
	})
	session := h.launchReady(t)

	start := time.Now()
	h.supervisor.Kill(context.Background())

	assert.Less(t, time.Since(start), defaultWait)
	assert.Equal(t, []string{"driver:terminate"}, h.journal.all())
	assert.Equal(t, SessionStateTerminated, session.State())

	causes := teardownCauses(t, session.TeardownErr())
	require.Len(t, causes, 1)
	assert.True(t, errors.IsCancelledError(causes[0]))
	assert.ErrorIs(t, causes[0], context.DeadlineExceeded)
}

func TestKill_CancelledContextStillStopsDriver(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Lister = newHangingLister(t) })
	session := h.launchReady(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.supervisor.Kill(ctx)

	terminated, _ := h.proc.counts()
	assert.Equal(t, 1, terminated)
	assert.True(t, errors.IsTeardownPartialError(session.TeardownErr()))
}
