// Package logging writes component-tagged log lines for a conduit process.
// All loggers of one process share a single file named after a process id,
// so one run's agent, adapter, chat and messaging lines interleave in order.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// LogDirEnv overrides the log directory.
	LogDirEnv = "CONDUIT_LOG_DIR"

	// LogLevelEnv sets the minimum level written: debug, info, warn or error.
	LogLevelEnv = "CONDUIT_LOG_LEVEL"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a level name to a Level. Unknown names select debug.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelDebug
}

// Logger writes leveled, component-tagged lines. Files live in
// ~/.conduit/logs/ unless CONDUIT_LOG_DIR overrides it.
type Logger struct {
	processID string
	component string
	minLevel  Level
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	processID     string
	processIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

func getProcessID() string {
	processIDOnce.Do(func() {
		processID = uuid.New().String()
	})
	return processID
}

func resolveLogDir() (string, error) {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".conduit", "logs"), nil
}

func initLogDirectory() error {
	initOnce.Do(func() {
		dir, err := resolveLogDir()
		if err != nil {
			initErr = err
			return
		}
		logDir = dir
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return initErr
}

// NewLogger creates a logger for component writing to
// <log dir>/<process-id>-conduit.log.
//
// When the file cannot be opened it still returns a usable logger that
// writes to stderr, together with the error.
func NewLogger(component string) (*Logger, error) {
	level := ParseLevel(os.Getenv(LogLevelEnv))
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, level, err), err
	}

	id := getProcessID()
	logPath := filepath.Join(logDir, id+"-conduit.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, level, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		processID: id,
		component: component,
		minLevel:  level,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

func newFallbackLogger(component string, level Level, err error) *Logger {
	logger := log.New(os.Stderr, "", 0)
	l := &Logger{
		processID: getProcessID(),
		component: component,
		minLevel:  level,
		logger:    logger,
	}
	l.Warnf("Failed to initialize file logging, falling back to stderr: %v", err)
	return l
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger(component string) *Logger {
	return &Logger{
		processID: getProcessID(),
		component: component,
		minLevel:  LevelError + 1,
		logger:    log.New(io.Discard, "", 0),
	}
}

// SetLevel changes the minimum level written.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.minLevel {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, fmt.Sprintf(format, v...))
}

// Printf logs at INFO level.
func (l *Logger) Printf(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Debugf logs at DEBUG level.
func (l *Logger) Debugf(format string, v ...interface{}) { l.write(LevelDebug, format, v...) }

// Infof logs at INFO level.
func (l *Logger) Infof(format string, v ...interface{}) { l.write(LevelInfo, format, v...) }

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, v ...interface{}) { l.write(LevelWarn, format, v...) }

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, v ...interface{}) { l.write(LevelError, format, v...) }

// ProcessID returns the id shared by every logger of this process.
func (l *Logger) ProcessID() string {
	return l.processID
}

// LogPath returns the path to the log file, or "" when not logging to a file.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// ProcessID returns the id naming this process's log file.
func ProcessID() string {
	return getProcessID()
}

// Directory returns the directory where logs are stored.
func Directory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
