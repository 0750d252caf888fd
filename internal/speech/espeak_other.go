//go:build !unix

package speech

import (
	"errors"
	"os"
)

var errNoSignals = errors.New("pausing speech is not supported on this platform")

func stopProcess(*os.Process) error {
	return errNoSignals
}

func continueProcess(*os.Process) error {
	return errNoSignals
}
