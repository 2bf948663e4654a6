package tasklist

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/logging"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Runner runs a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command through os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Lister enumerates running processes.
type Lister interface {
	List(ctx context.Context, verbose bool) ([]ProcessRecord, error)
}

// Terminator ends a process by id.
type Terminator interface {
	Terminate(ctx context.Context, pid string, force bool) error
}

// Options configure the tasklist/taskkill pair.
type Options struct {
	// Encoding of the console output: "", "cp437", "cp850" or "windows-1252".
	Encoding string
	Runner   Runner
}

// Tasklist implements Lister and Terminator with the Windows utilities.
type Tasklist struct {
	run    Runner
	enc    encoding.Encoding // nil means output is used as is
	logger logging.Logger
}

func New(options Options, logger logging.Logger) (*Tasklist, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	enc, err := encodingFor(options.Encoding)
	if err != nil {
		return nil, err
	}
	run := options.Runner
	if run == nil {
		run = ExecRunner
	}
	return &Tasklist{run: run, enc: enc, logger: logger}, nil
}

func encodingFor(name string) (encoding.Encoding, error) {
	switch name {
	case "":
		return nil, nil
	case "cp437":
		return charmap.CodePage437, nil
	case "cp850":
		return charmap.CodePage850, nil
	case "windows-1252":
		return charmap.Windows1252, nil
	default:
		return nil, errors.NewValidationError("unsupported tasklist encoding: "+name, nil)
	}
}

// List runs `tasklist /FO CSV`, with /V when verbose, and parses the table.
func (t *Tasklist) List(ctx context.Context, verbose bool) ([]ProcessRecord, error) {
	args := []string{"/FO", "CSV"}
	if verbose {
		args = append(args, "/V")
	}

	out, err := t.run(ctx, "tasklist", args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError("process enumeration cancelled", ctx.Err())
		}
		return nil, errors.NewProcessError("failed to enumerate processes", err).WithContext("args", args)
	}

	if t.enc != nil {
		decoded, err := t.enc.NewDecoder().Bytes(out)
		if err != nil {
			return nil, errors.NewIOError("failed to decode tasklist output", err)
		}
		out = decoded
	}

	records := Parse(string(out))
	t.logger.Debugf("Enumerated processes, count: %d", len(records))
	return records, nil
}

// Terminate runs `taskkill /PID <pid>`, adding /f when force is set. A
// missing or non-numeric pid fails before anything is run.
func (t *Tasklist) Terminate(ctx context.Context, pid string, force bool) error {
	n, err := ValidateKillPID(pid)
	if err != nil {
		return err
	}

	args := []string{"/PID", strconv.Itoa(n)}
	if force {
		args = append(args, "/f")
	}

	t.logger.Infof("Terminating process, PID: %d, force: %v", n, force)
	if _, err := t.run(ctx, "taskkill", args...); err != nil {
		return errors.NewProcessError("failed to terminate process", err).WithContext("pid", n).WithContext("force", force)
	}
	return nil
}
