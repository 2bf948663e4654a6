package driver

import (
	"bytes"
	"io"
	"strings"

	"github.com/core-tools/hsu-iedriver/pkg/logging"
)

// ReadySignal is what the driver prints once it accepts connections.
const ReadySignal = "Listening on port"

const readChunkSize = 4096

// watch drains the driver's stdout for the life of the process. The first
// time the accumulated output contains ReadySignal the session becomes
// ready; later output never changes that. When stdout ends the process is
// reaped and exited is closed.
func (s *Session) watch(proc ChildProcess, logger logging.Logger) {
	defer close(s.exited)

	signal := []byte(ReadySignal)
	var pending bytes.Buffer
	chunk := make([]byte, readChunkSize)
	stdout := proc.Stdout()

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			logger.Debugf("Driver output, session: %s: %s", s.ID, strings.TrimRight(string(data), "\r\n"))

			if !s.isReady() {
				pending.Write(data)
				if bytes.Contains(pending.Bytes(), signal) {
					pending.Reset()
					s.markReady()
				} else if keep := len(signal) - 1; pending.Len() > keep {
					// only a tail shorter than the signal can still complete it
					tail := append([]byte(nil), pending.Bytes()[pending.Len()-keep:]...)
					pending.Reset()
					pending.Write(tail)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Debugf("Driver output closed, session: %s, error: %v", s.ID, err)
			}
			break
		}
	}

	s.exitErr = proc.Wait()
	logger.Infof("Driver process exited, session: %s, PID: %d, error: %v", s.ID, proc.Pid(), s.exitErr)
}
