package logs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LogFileName is the log written next to the config file.
const LogFileName = "ipphone.log"

// Setup configures the process-wide logrus logger. Verbose enables LogV output.
func Setup(verbose bool, out io.Writer) {
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// LogV prints a formatted log message only when verbose logging is enabled.
func LogV(format string, args ...interface{}) {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.Debugf(format, args...)
	}
}

// OpenSink opens (appending) the log file in the directory holding configPath.
// The returned path is valid even when the open fails so callers can report it.
func OpenSink(configPath string) (io.WriteCloser, string, error) {
	dir := filepath.Dir(configPath)
	if dir == "" {
		dir = "."
	}
	logPath := filepath.Join(dir, LogFileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, logPath, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, logPath, err
	}
	return f, logPath, nil
}

// Detach routes further log lines to sink alone so they no longer interleave with
// console output. A nil sink discards them.
func Detach(sink io.Writer) {
	if sink == nil {
		sink = io.Discard
	}
	logrus.SetOutput(sink)
}
