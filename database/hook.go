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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"
)

// BenchmarkHook forwards every executed query to a logger at a fixed
// severity as "<ms>ms - SQ - <query>".
type BenchmarkHook struct {
	level  LogLevel
	logger Logger
}

var _ bun.QueryHook = (*BenchmarkHook)(nil)

func NewBenchmarkHook(level LogLevel, logger Logger) *BenchmarkHook {
	return &BenchmarkHook{level: level, logger: orDefaultLogger(logger)}
}

func (h *BenchmarkHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *BenchmarkHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	h.log(time.Since(event.StartTime), event.Query, event.Err)
}

func (h *BenchmarkHook) log(elapsed time.Duration, query string, err error) {
	msg := fmt.Sprintf("%dms - SQ - %s", elapsed.Milliseconds(), strings.TrimSpace(query))
	if err != nil && !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, sql.ErrTxDone) {
		LogAt(h.logger, h.level, msg, "error", err.Error())
		return
	}
	LogAt(h.logger, h.level, msg)
}

// SlowQueryHook warns about queries slower than a threshold. The
// BUNDEBUG_SLOW environment variable set to "0" silences it.
type SlowQueryHook struct {
	fromEnv    string
	connection string
	slowTime   time.Duration
	logger     Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(connection string, slowTime time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{
		fromEnv:    "BUNDEBUG_SLOW",
		connection: connection,
		slowTime:   slowTime,
		logger:     orDefaultLogger(logger),
	}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	if env, ok := os.LookupEnv(h.fromEnv); ok && strings.TrimSpace(env) == "0" {
		return
	}
	h.observe(time.Since(event.StartTime), event.Query)
}

func (h *SlowQueryHook) observe(duration time.Duration, query string) {
	if duration <= h.slowTime {
		return
	}
	h.logger.Warn("Database slow query detected",
		"connection", h.connection,
		"duration", duration.Round(time.Microsecond).String(),
		"slow_threshold", h.slowTime.String(),
		"query", query,
	)
}

// installQueryHooks adds the hooks requested by opts to db.
func installQueryHooks(db *bun.DB, connection string, opts *DatastoreOptions, logger Logger) error {
	switch {
	case opts.Logging != "":
		level, ok := ParseLogLevel(opts.Logging)
		if !ok {
			return fmt.Errorf("connection %s: unknown logging severity %q", connection, opts.Logging)
		}
		db.AddQueryHook(NewBenchmarkHook(level, logger))
	case opts.Benchmark:
		db.AddQueryHook(NewBenchmarkHook(LogLevelDebug, logger))
	}

	if opts.SlowQueryTime > 0 {
		db.AddQueryHook(NewSlowQueryHook(connection, opts.SlowQueryTime, logger))
	}

	if opts.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	return nil
}
