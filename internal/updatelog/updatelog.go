// Package updatelog writes the append-only update history log.
//
// Every check and install attempt produces exactly one line with a
// timestamp, level, and outcome. The file rotates at 10 MB and rotated
// files are dropped after 30 days.
package updatelog

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger appends update events to the updates log and mirrors them to the
// process-level logger for operators tailing daemon output.
type Logger struct {
	file *log.Logger
	out  *lumberjack.Logger
	path string
}

// Open creates (or reopens) the updates log at path, creating parent
// directories as needed.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}

	file := log.New()
	file.SetOutput(out)
	file.SetLevel(log.InfoLevel)
	file.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05 MST",
		DisableColors:   true,
	})

	return &Logger{file: file, out: out, path: path}, nil
}

// Path returns the updates log location.
func (l *Logger) Path() string {
	return l.path
}

// Infof records a normal update event.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.file.Infof(format, args...)
	log.Debugf(format, args...)
}

// Errorf records a failed update event.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.file.Errorf(format, args...)
	log.Errorf(format, args...)
}

// Close flushes and closes the underlying log file.
func (l *Logger) Close() error {
	return l.out.Close()
}
