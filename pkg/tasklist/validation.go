package tasklist

import (
	"github.com/core-tools/hsu-iedriver/pkg/errors"
	"github.com/core-tools/hsu-iedriver/pkg/process"
)

// ValidateKillPID is the guard in front of every termination request.
func ValidateKillPID(pid string) (int, error) {
	n, err := process.ValidatePID(pid)
	if err != nil {
		return 0, errors.NewInvalidPIDError("PID is required for the kill operation", err).WithContext("pid", pid)
	}
	return n, nil
}
