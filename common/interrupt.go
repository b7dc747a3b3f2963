package common

import (
	"os"
	"os/signal"
	"syscall"
)

// Interrupted delivers the signals a long-running command should shut down on.
// SIGKILL cannot be caught and is not requested.
func Interrupted() <-chan os.Signal {
	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	return interrupt
}
