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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeedTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestSplitSQLStatements(t *testing.T) {
	content := `
-- roles
INSERT INTO roles (name)
  VALUES ('admin');

INSERT INTO roles (name) VALUES ('user');
UPDATE roles SET name = 'guest' WHERE name = 'user'`

	assert.Equal(t, []string{
		"INSERT INTO roles (name) VALUES ('admin');",
		"INSERT INTO roles (name) VALUES ('user');",
		"UPDATE roles SET name = 'guest' WHERE name = 'user'",
	}, splitStatements(content))
	assert.Empty(t, splitStatements("-- nothing here\n\n"))
}

func TestSeedRunner_Files(t *testing.T) {
	root := writeSeedTree(t, map[string]string{
		"common/010_roles.sql":        "SELECT 1;",
		"common/002_schema.sql":       "SELECT 1;",
		"common/notes.txt":            "ignored",
		"environments/dev/001_a.sql":  "SELECT 1;",
		"environments/prod/001_b.sql": "SELECT 1;",
		"environments/dev/extra.sql":  "SELECT 1;",
	})

	files, err := NewSeedRunner(nil, "main", "dev", root, NopLogger()).Files()
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"002_schema.sql", "010_roles.sql", "001_a.sql", "extra.sql"}, names)
	assert.Equal(t, 999, files[3].Order)

	files, err = NewSeedRunner(nil, "main", "", root, NopLogger()).Files()
	require.NoError(t, err)
	assert.Equal(t, "001_b.sql", files[len(files)-1].Name)
}

func TestSeedRunner_Render(t *testing.T) {
	t.Setenv("SEED_ADMIN", "root")
	r := NewSeedRunner(nil, "tenants", "staging", "", NopLogger())

	out, err := r.render("INSERT INTO users (name, env, conn, other) VALUES ('{{.SEED_ADMIN}}', '{{.ENVIRONMENT}}', '{{.CONNECTION}}', '{{.UNSET_SEED_VAR}}');")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name, env, conn, other) VALUES ('root', 'staging', 'tenants', '');", out)

	plain := "SELECT 1;"
	out, err = r.render(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	_, err = r.render("SELECT '{{.BROKEN';")
	assert.Error(t, err)
}

func TestConnection_SeedOnSQLite(t *testing.T) {
	ctx := context.Background()
	root := writeSeedTree(t, map[string]string{
		"common/001_roles.sql":      "INSERT INTO \"roles\" (\"name\") VALUES ('admin');\nINSERT INTO \"roles\" (\"name\") VALUES ('user');",
		"environments/test/002.sql": "INSERT INTO \"roles\" (\"name\") VALUES ('{{.ENVIRONMENT}}');",
	})
	cfg := memoryDatastore(t)
	cfg.Options.SeedPath = root
	cfg.Options.SeedEnvironment = "test"
	conn, err := OpenConnection("main", cfg, NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Define("Role", Attributes{"name": {Type: "STRING"}}, &ModelOptions{})
	require.NoError(t, err)
	require.NoError(t, conn.Sync(ctx, SyncOptions{}))
	require.NoError(t, conn.Seed(ctx))

	var names []string
	require.NoError(t, conn.DB().NewRaw(`SELECT "name" FROM "roles" ORDER BY "id"`).Scan(ctx, &names))
	assert.Equal(t, []string{"admin", "user", "test"}, names)
}

func TestSeedRunner_StopsAtFailingFile(t *testing.T) {
	ctx := context.Background()
	root := writeSeedTree(t, map[string]string{
		"common/001_ok.sql":   `CREATE TABLE "flags" ("name" TEXT);`,
		"common/002_bad.sql":  `INSERT INTO "missing_table" ("name") VALUES ('x');`,
		"common/003_skip.sql": `INSERT INTO "flags" ("name") VALUES ('never');`,
	})
	conn := openMemoryConnection(t)

	results, err := NewSeedRunner(conn.DB(), "main", "", root, NopLogger()).Run(ctx)
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)

	var count int
	require.NoError(t, conn.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM "flags"`).Scan(&count))
	assert.Zero(t, count)
}
