package logger

import (
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// Init opens logFilePath for appending and returns a logr.Logger writing to
// it. verbosity sets the global stdr verbosity; V(1) messages need at least 1.
// The caller is responsible for closing the returned file.
func Init(logFilePath string, verbosity int) (*os.File, logr.Logger, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, logr.Discard(), fmt.Errorf("failed to open log file: %w", err)
	}

	std := log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	stdr.SetVerbosity(verbosity)
	return logFile, stdr.New(std), nil
}
