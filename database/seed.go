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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/uptrace/bun"
)

const (
	defaultSeedEnvironment = "prod"
	defaultSeedRoot        = "configs/sql"
	commonSeedDir          = "common"
	// unorderedSeed sorts files without a numeric prefix last.
	unorderedSeed = 999
)

var seedOrderPattern = regexp.MustCompile(`^(\d+)_`)

// SeedRunner loads initial data into a freshly migrated datastore from SQL
// files laid out as <root>/common/*.sql and <root>/environments/<env>/*.sql.
// Common files run first, each group in numeric prefix order, and every
// file runs in its own transaction.
type SeedRunner struct {
	db          bun.IDB
	connection  string
	environment string
	root        string
	logger      Logger
}

// SeedFile is one SQL file found under the seed root.
type SeedFile struct {
	Path  string
	Name  string
	Order int
	// Group is "common" or the environment name.
	Group string
}

// SeedResult is the outcome of one file. Err is nil on success.
type SeedResult struct {
	File         string
	Err          error
	Duration     time.Duration
	RowsAffected int64
}

// NewSeedRunner creates a runner. An empty environment means "prod" and an
// empty root means "configs/sql".
func NewSeedRunner(db bun.IDB, connection, environment, root string, logger Logger) *SeedRunner {
	if environment == "" {
		environment = defaultSeedEnvironment
	}
	if root == "" {
		root = defaultSeedRoot
	}
	return &SeedRunner{db: db, connection: connection, environment: environment, root: root, logger: orDefaultLogger(logger)}
}

// Run executes the seed files in order. It stops at the first failing file
// and returns the results gathered so far.
func (r *SeedRunner) Run(ctx context.Context) ([]SeedResult, error) {
	files, err := r.Files()
	if err != nil {
		return nil, fmt.Errorf("failed to list seed files: %w", err)
	}
	if len(files) == 0 {
		r.logger.Debug("No seed files found", "connection", r.connection, "root", r.root)
		return nil, nil
	}

	results := make([]SeedResult, 0, len(files))
	for _, f := range files {
		res := r.runFile(ctx, f)
		results = append(results, res)
		if res.Err != nil {
			r.logger.Error("Seed file failed", "connection", r.connection, "file", f.Path, "error", res.Err.Error())
			return results, fmt.Errorf("seed file %s: %w", f.Path, res.Err)
		}
		r.logger.Debug("Seed file applied", "file", f.Path, "duration", res.Duration.String(), "rows", res.RowsAffected)
	}
	r.logger.Info("Datastore seeded", "connection", r.connection, "environment", r.environment, "files", len(results))
	return results, nil
}

// Files lists the common files followed by the environment files.
func (r *SeedRunner) Files() ([]SeedFile, error) {
	groups := []struct{ name, dir string }{
		{commonSeedDir, filepath.Join(r.root, commonSeedDir)},
		{r.environment, filepath.Join(r.root, "environments", r.environment)},
	}
	var all []SeedFile
	for _, g := range groups {
		if _, err := os.Stat(g.dir); err != nil {
			continue
		}
		files, err := collectSeedFiles(g.dir, g.name)
		if err != nil {
			return nil, fmt.Errorf("%s seeds: %w", g.name, err)
		}
		sort.SliceStable(files, func(i, j int) bool {
			if files[i].Order != files[j].Order {
				return files[i].Order < files[j].Order
			}
			return files[i].Name < files[j].Name
		})
		all = append(all, files...)
	}
	return all, nil
}

func collectSeedFiles(dir, group string) ([]SeedFile, error) {
	var files []SeedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".sql") {
			files = append(files, SeedFile{Path: path, Name: d.Name(), Order: seedOrder(d.Name()), Group: group})
		}
		return nil
	})
	return files, err
}

func seedOrder(name string) int {
	m := seedOrderPattern.FindStringSubmatch(name)
	if m == nil {
		return unorderedSeed
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return unorderedSeed
	}
	return n
}

func (r *SeedRunner) runFile(ctx context.Context, f SeedFile) (res SeedResult) {
	start := time.Now()
	res.File = f.Path
	defer func() { res.Duration = time.Since(start) }()

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		res.Err = fmt.Errorf("failed to read file: %w", err)
		return res
	}
	content, err := r.render(string(raw))
	if err != nil {
		res.Err = err
		return res
	}
	statements := splitStatements(content)
	if len(statements) == 0 {
		return res
	}

	res.Err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, stmt := range statements {
			out, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("statement %q: %w", stmt, err)
			}
			n, _ := out.RowsAffected()
			res.RowsAffected += n
		}
		return nil
	})
	return res
}

// render expands {{.NAME}} placeholders from the process environment plus
// ENVIRONMENT, CONNECTION and TIMESTAMP. Unset names render empty.
func (r *SeedRunner) render(content string) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}
	tmpl, err := template.New("seed").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse seed template: %w", err)
	}

	vars := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	vars["ENVIRONMENT"] = r.environment
	vars["CONNECTION"] = r.connection
	vars["TIMESTAMP"] = time.Now().Format(time.DateTime)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render seed template: %w", err)
	}
	return buf.String(), nil
}

// splitStatements joins the non-comment lines of content and cuts them at
// trailing semicolons.
func splitStatements(content string) []string {
	var (
		out  []string
		stmt []string
	)
	flush := func() {
		if len(stmt) > 0 {
			out = append(out, strings.Join(stmt, " "))
			stmt = stmt[:0]
		}
	}
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		stmt = append(stmt, line)
		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return out
}
