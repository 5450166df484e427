/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tomoncle/bunhook/utils"
)

const loggerName = "BUNHOOK"

var (
	globalLogger   Logger
	globalLoggerMu sync.RWMutex
)

type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "TRACE"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "DEBUG"
	}
}

// ParseLogLevel accepts host severities ("silly", "verbose", "debug",
// "info", "warn", "error"). The second result is false for unknown names.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silly", "trace":
		return LogLevelTrace, true
	case "verbose", "debug":
		return LogLevelDebug, true
	case "info", "log":
		return LogLevelInfo, true
	case "warn", "warning":
		return LogLevelWarn, true
	case "error", "crit":
		return LogLevelError, true
	default:
		return LogLevelInfo, false
	}
}

type Logger interface {
	SetLevel(LogLevel)
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// LogAt dispatches to the logger method matching level. Trace entries go to
// Debug since the Logger interface has no finer level.
func LogAt(logger Logger, level LogLevel, msg string, fields ...interface{}) {
	if logger == nil {
		return
	}
	switch level {
	case LogLevelTrace, LogLevelDebug:
		logger.Debug(msg, fields...)
	case LogLevelWarn:
		logger.Warn(msg, fields...)
	case LogLevelError:
		logger.Error(msg, fields...)
	default:
		logger.Info(msg, fields...)
	}
}

func InitLogger(log Logger) {
	if log == nil {
		return
	}
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = log
}

func GetLogger() Logger {
	globalLoggerMu.RLock()
	l := globalLogger
	globalLoggerMu.RUnlock()
	if l != nil {
		return l
	}

	dl := NewDefaultLogger()
	globalLoggerMu.Lock()
	if globalLogger == nil {
		globalLogger = dl
	}
	l = globalLogger
	globalLoggerMu.Unlock()
	return l
}

type DefaultLogger struct {
	logger *utils.Logger
}

func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{logger: utils.NewLogger(loggerName)}
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.WithFields(l.fields(fields...)).Debug(msg)
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.WithFields(l.fields(fields...)).Info(msg)
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.WithFields(l.fields(fields...)).Warn(msg)
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.WithFields(l.fields(fields...)).Error(msg)
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	utils.SetLoggerLevel(loggerName, strings.ToLower(level.String()))
}

func (l *DefaultLogger) fields(kv ...interface{}) logrus.Fields {
	if len(kv) == 0 {
		return nil
	}
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) SetLevel(LogLevel)             {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NopLogger returns a Logger that drops every entry.
func NopLogger() Logger { return nopLogger{} }

func orDefaultLogger(l Logger) Logger {
	if l != nil {
		return l
	}
	return GetLogger()
}
