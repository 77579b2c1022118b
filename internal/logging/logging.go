// Package logging contains the singleton logger used globally by the
// engine. It deliberately has little else since it's a dependency
// everywhere, mirroring the teacher's src/cli/logging package.
package logging

import (
	"os"

	"gopkg.in/op/go-logging.v1"
)

// Log is the singleton logger instance. We never vary levels per package
// and don't log the module name, so one logger for the whole process is
// enough and avoids any risk of inconsistent configuration.
var Log = logging.MustGetLogger("stu")

// Level re-exports the underlying library type so callers don't need to
// import op/go-logging directly.
type Level = logging.Level

// Re-exports of the log levels we use.
const (
	CRITICAL = logging.CRITICAL
	ERROR    = logging.ERROR
	WARNING  = logging.WARNING
	NOTICE   = logging.NOTICE
	INFO     = logging.INFO
	DEBUG    = logging.DEBUG
)

// Init configures the backend format and verbosity. Called once from main;
// tests that want quiet output can call Init(logging.CRITICAL).
func Init(level Level) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter(`%{time:15:04:05.000} %{level:.4s} %{message}`)
	formatted := logging.NewBackendFormatter(backend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}
