// Package glog is the leveled, structured logger shared by every layer and
// by the MITM orchestrator. It mirrors gordp's glog package: a package-level
// leveled logger for the common case (Debugf/Infof/Warnf/Errorf) that writes
// plain level-tagged lines to stderr, plus a separate structured JSON logger
// (structured.go) that SessionLogger uses to attach session-scoped fields.
package glog

import (
	"fmt"
	"log"
	"os"
)

// LEVEL is the logger's verbosity threshold.
type LEVEL int

const (
	DEBUG LEVEL = iota
	INFO
	WARN
	ERROR
)

var defaultLogger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
var currentLevel = INFO

// SetLevel changes the package-level verbosity threshold.
func SetLevel(l LEVEL) { currentLevel = l }

func logf(level LEVEL, format string, args ...interface{}) {
	if level < currentLevel {
		return
	}
	defaultLogger.Printf("[%s] %s", levelToString(level), fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) { logf(DEBUG, format, args...) }
func Infof(format string, args ...interface{})   { logf(INFO, format, args...) }
func Warnf(format string, args ...interface{})   { logf(WARN, format, args...) }
func Errorf(format string, args ...interface{})  { logf(ERROR, format, args...) }

func Debug(args ...interface{}) { logf(DEBUG, "%s", fmt.Sprint(args...)) }
func Info(args ...interface{})  { logf(INFO, "%s", fmt.Sprint(args...)) }
func Warn(args ...interface{})  { logf(WARN, "%s", fmt.Sprint(args...)) }
func Error(args ...interface{}) { logf(ERROR, "%s", fmt.Sprint(args...)) }

// SessionLogger wraps the structured logger with a fixed session_id field,
// standing in for the process-wide logger's session-scoped filter hook that
// spec.md marks as an external collaborator.
type SessionLogger struct {
	sessionID string
}

// NewSessionLogger returns a logger that tags every structured entry with
// sessionID.
func NewSessionLogger(sessionID string) *SessionLogger {
	return &SessionLogger{sessionID: sessionID}
}

func (sl *SessionLogger) withSession(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["session_id"] = sl.sessionID
	return fields
}

func (sl *SessionLogger) Debug(message string, fields map[string]interface{}) {
	GetStructuredLogger().DebugStructured(message, sl.withSession(fields))
}

func (sl *SessionLogger) Info(message string, fields map[string]interface{}) {
	GetStructuredLogger().InfoStructured(message, sl.withSession(fields))
}

func (sl *SessionLogger) Warn(message string, fields map[string]interface{}) {
	GetStructuredLogger().WarnStructured(message, sl.withSession(fields))
}

func (sl *SessionLogger) Error(message string, err error, fields map[string]interface{}) {
	GetStructuredLogger().ErrorStructured(message, err, sl.withSession(fields))
}

func levelToString(level LEVEL) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
