package xpc

import (
	stdlog "log"
	"log/syslog"
	"os"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("xpc")

var syslogFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)
var stderrFormat = logging.MustStringFormatter(
	`xpc ▶ %{message}`,
)

// SetupLogging installs a logging backend for the package logger:
// syslog when trySyslog is set and available, otherwise formatted
// stderr. The level can be overridden by the XPC_LOG_LEVEL environment
// variable (CRITICAL, ERROR, WARNING, NOTICE, INFO, DEBUG); absent an
// override, defaultLevel applies.
func SetupLogging(prefix string, defaultLevel logging.Level, trySyslog bool) *logging.Logger {
	var backend logging.Backend
	if trySyslog {
		var err error
		backend, err = logging.NewSyslogBackendPriority(prefix, syslog.LOG_NOTICE)
		if err == nil {
			logging.SetFormatter(syslogFormat)
			if sb, ok := backend.(*logging.SyslogBackend); ok {
				stdlog.SetOutput(sb.Writer)
			}
		} else {
			backend = nil
		}
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, prefix, 0)
		logging.SetFormatter(stderrFormat)
	}

	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("XPC_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, prefix)
	case "ERROR":
		leveled.SetLevel(logging.ERROR, prefix)
	case "WARNING":
		leveled.SetLevel(logging.WARNING, prefix)
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, prefix)
	case "INFO":
		leveled.SetLevel(logging.INFO, prefix)
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, prefix)
	default:
		leveled.SetLevel(defaultLevel, prefix)
	}
	// Apply the same level as the default for every other module,
	// including this package's own "xpc" logger.
	leveled.SetLevel(leveled.GetLevel(prefix), "")

	logging.SetBackend(leveled)
	return log
}
