//go:build !windows

package driver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDriverScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func newExecSupervisor(t *testing.T) (*Supervisor, *MockLister) {
	t.Helper()
	lister := &MockLister{}
	logger := logging.NewNopLogger()
	s, err := NewSupervisor(Options{
		LaunchTimeout: 5 * time.Second,
		StopTimeout:   2 * time.Second,
		Lister:        lister,
		Terminator:    &MockTerminator{journal: &journal{}},
		Spawn:         ExecSpawner(2*time.Second, logger),
	}, logger)
	require.NoError(t, err)
	return s, lister
}

func TestExecSpawner_LaunchAndKill(t *testing.T) {
	s, lister := newExecSupervisor(t)
	cfg := testDriverConfig()
	cfg.BinaryPath = writeDriverScript(t, `echo "Started InternetExplorerDriver server"; echo "Listening on port ${1#--port=}"; exec sleep 30`)

	session, err := s.Launch(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, SessionStateReady, session.State())
	assert.Greater(t, session.Pid(), 0)

	lister.On("List", true).Return(nil, nil).Once()
	start := time.Now()
	s.Kill(context.Background())

	select {
	case <-session.Exited():
	case <-time.After(3 * time.Second):
		t.Fatal("driver still running after Kill")
	}
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM is enough for sleep")
	assert.NoError(t, session.TeardownErr())
	assert.Equal(t, SessionStateTerminated, session.State())
}

func TestExecSpawner_CrashBeforeReady(t *testing.T) {
	s, _ := newExecSupervisor(t)
	cfg := testDriverConfig()
	cfg.BinaryPath = writeDriverScript(t, `echo "Failed to bind port" 1>&2; exit 3`)

	_, err := s.Launch(context.Background(), cfg)

	require.Error(t, err)
	assert.True(t, errors.IsDriverCrashedError(err))
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestExecSpawner_MissingBinary(t *testing.T) {
	s, _ := newExecSupervisor(t)
	cfg := testDriverConfig()
	cfg.BinaryPath = filepath.Join(t.TempDir(), "IEDriverServer.exe")

	_, err := s.Launch(context.Background(), cfg)

	assert.Error(t, err)
	assert.Nil(t, s.Session())
}
