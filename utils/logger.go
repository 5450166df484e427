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

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const defaultTimestampFormat = "2006-01-02 15:04:05.000"

var (
	defaultLevel     = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
	consoleLogFormat = EnvDefaultString("CONSOLE_LOG_FORMAT", "text")
	consoleOutput    io.Writer = os.Stdout
	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]*logrus.Logger{}
)

// ConfigureConsoleLogFormat switches newly created loggers between "text"
// and "json" output.
func ConfigureConsoleLogFormat(format string) {
	s := strings.ToLower(strings.TrimSpace(format))
	if s == "json" {
		consoleLogFormat = "json"
	} else {
		consoleLogFormat = "text"
	}
}

// ConfigureConsoleOutput redirects newly created loggers. Mostly useful in tests.
func ConfigureConsoleOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	consoleOutput = w
}

// ParseLogLevel maps a level name to a logrus level. Host severities such as
// "silly" and "verbose" are accepted as aliases of trace and debug.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "silly":
		return logrus.TraceLevel
	case "debug", "verbose":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal", "crit":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

func RegisterLogger(name string, l *logrus.Logger) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	loggerRegistry[name] = l
}

// SetAllLoggersLevel changes the level of every registered logger and of
// loggers created afterwards.
func SetAllLoggersLevel(lvl logrus.Level) {
	loggerRegistryMu.RLock()
	for _, lg := range loggerRegistry {
		lg.SetLevel(lvl)
	}
	loggerRegistryMu.RUnlock()
	defaultLevel = lvl
}

// SetLoggerLevel changes the level of a single named logger. It reports
// whether a logger with that name exists.
func SetLoggerLevel(name string, lvlStr string) bool {
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(ParseLogLevel(lvlStr))
	return true
}

func ConfigureLogLevel(levelStr string) {
	SetAllLoggersLevel(ParseLogLevel(levelStr))
}

// NewLogger returns a named logger. Calling it twice with the same name
// returns the same instance.
func NewLogger(name string) *logrus.Logger {
	loggerRegistryMu.RLock()
	if l, ok := loggerRegistry[name]; ok {
		loggerRegistryMu.RUnlock()
		return l
	}
	loggerRegistryMu.RUnlock()

	l := logrus.New()
	l.SetOutput(consoleOutput)
	l.SetLevel(defaultLevel)
	l.SetReportCaller(EnvDefaultBool("LOG_REPORT_CALLER", true))
	if consoleLogFormat == "json" {
		l.SetFormatter(&JSONLogFormatter{LoggerName: name})
	} else {
		l.SetFormatter(&Log4jColorFormatter{
			LoggerName:  name,
			NameWidth:   10,
			CallerWidth: 25,
		})
	}
	RegisterLogger(name, l)
	return l
}

// Log4jColorFormatter renders entries as
// "time LEVEL pid - [main] name caller : message k=v".
type Log4jColorFormatter struct {
	LoggerName      string
	TimestampFormat string
	NameWidth       int
	CallerWidth     int
	DisableColors   bool
}

func (f *Log4jColorFormatter) tsFormat() string {
	if f.TimestampFormat != "" {
		return f.TimestampFormat
	}
	return defaultTimestampFormat
}

func (f *Log4jColorFormatter) paint(c *color.Color, s string) string {
	if f.DisableColors {
		return s
	}
	return c.Sprint(s)
}

func (f *Log4jColorFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format(f.tsFormat())
	lvl := padLeft(levelLabel(entry.Level), 7)
	pid := f.paint(color.New(color.FgMagenta), fmt.Sprintf("%-6d", os.Getpid()))
	name := padLeft(limitRunes(f.LoggerName, f.NameWidth), f.NameWidth)

	caller := ""
	if entry.Caller != nil {
		fileLine := filepath.Base(entry.Caller.File) + ":" + strconv.Itoa(entry.Caller.Line)
		if f.CallerWidth > 0 {
			fileLine = padLeft(limitRunesTail(fileLine, f.CallerWidth), f.CallerWidth)
		}
		caller = " " + f.paint(color.New(color.Faint), fileLine)
	}

	var b strings.Builder
	b.WriteString(ts)
	b.WriteString(" ")
	b.WriteString(f.paint(levelColor(entry.Level), lvl))
	b.WriteString(" ")
	b.WriteString(pid)
	b.WriteString(" - [main] ")
	b.WriteString(f.paint(color.New(color.FgCyan), name))
	b.WriteString(caller)
	b.WriteString(" ")
	b.WriteString(f.paint(color.New(color.Faint), ":"))
	b.WriteString(" ")
	b.WriteString(entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(entry.Data[k]))
	}
	b.WriteString("\n")
	return []byte(b.String()), nil
}

type JSONLogFormatter struct {
	LoggerName      string
	TimestampFormat string
}

func (f *JSONLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = defaultTimestampFormat
	}
	caller := ""
	if entry.Caller != nil {
		caller = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}

	rec := struct {
		Time    string                 `json:"time"`
		Level   string                 `json:"level"`
		Logger  string                 `json:"logger"`
		Caller  string                 `json:"caller,omitempty"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields,omitempty"`
	}{
		Time:    entry.Time.Format(tsFormat),
		Level:   strings.ToLower(entry.Level.String()),
		Logger:  f.LoggerName,
		Caller:  caller,
		Message: entry.Message,
	}
	if len(entry.Data) > 0 {
		rec.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			rec.Fields[k] = v
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return color.New(color.FgRed)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.InfoLevel:
		return color.New(color.FgGreen)
	case logrus.DebugLevel:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgMagenta)
	}
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// levelLabel is the upper-cased level name, with WARN in place of
// logrus' "warning".
func levelLabel(level logrus.Level) string {
	if level == logrus.WarnLevel {
		return "WARN"
	}
	return strings.ToUpper(level.String())
}

func padLeft(s string, width int) string { return fmt.Sprintf("%"+strconv.Itoa(width)+"s", s) }

func limitRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

func limitRunesTail(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDefaultBool reads a boolean such as "true" or "0" from the environment.
func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

// EnvDefaultDuration reads a duration such as "30s" from the environment.
func EnvDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return def
		}
		return d
	}
	return def
}
