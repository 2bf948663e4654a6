package process

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// Handle is a started child process. Stdout must be read to EOF before
// Wait is called.
type Handle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// Execute starts the executable with stdout and stderr merged into one pipe.
// The child is not bound to any context: it lives until Terminate or Kill.
func Execute(execution ExecutionConfig, id string, logger logging.Logger) (*Handle, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewPermissionError("failed to ensure process is executable", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Executing process: id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, execution.ExecutablePath, execution.Args, workDir)

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	setupProcessAttributes(cmd)

	// bounds Wait once stdout has been drained by the reader
	cmd.WaitDelay = execution.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewProcessError("failed to create stdout pipe", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

	return &Handle{cmd: cmd, stdout: stdout}, nil
}

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *Handle) Stdout() io.Reader {
	return h.stdout
}

// Wait reaps the child and returns its exit error.
func (h *Handle) Wait() error {
	return h.cmd.Wait()
}

// Terminate asks the child (and its process group on Unix) to exit.
func (h *Handle) Terminate() error {
	return SendTerminationSignal(h.cmd.Process)
}

// Kill ends the child unconditionally.
func (h *Handle) Kill() error {
	return SendKillSignal(h.cmd.Process)
}

// ensureExecutable checks if a file is executable and makes it executable if it's not
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	// .exe, .bat and .cmd need no mode bits on Windows
	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
