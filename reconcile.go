package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
)

// insertColumnsRe matches the head of a complete-insert statement:
// INSERT INTO `table` (`col1`, `col2`, ...) VALUES ...
var insertColumnsRe = regexp.MustCompile("(?i)^INSERT\\s+INTO\\s+`?([^\\s`(]+)`?\\s*\\(([^)]+)\\)")

// maxDumpLine bounds the scanner token size. mysqldump packs many rows into
// one extended-insert line; the default is capped by net-buffer-length, but
// allow well beyond it.
const maxDumpLine = 64 * 1024 * 1024

// extractSourceSchemas scans the dump artifact's insert statements and
// records, per table, the first column list encountered, in first-seen table
// order. The dump pipeline forces complete-insert mode, so every insert
// carries its column list; mysqldump keeps the list stable across inserts for
// one table within a dump.
func extractSourceSchemas(path string) ([]TableSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var schemas []TableSchema

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxDumpLine)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "INSERT INTO") {
			continue
		}
		m := insertColumnsRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		table := m[1]
		if seen[table] {
			continue
		}
		seen[table] = true
		schemas = append(schemas, TableSchema{Table: table, Columns: splitColumnList(m[2])})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan dump file: %w", err)
	}
	return schemas, nil
}

func splitColumnList(s string) []string {
	parts := strings.Split(s, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		cols = append(cols, strings.Trim(strings.TrimSpace(p), "`"))
	}
	return cols
}

const targetColumnsQuery = `SELECT COLUMN_NAME
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

// fetchTargetSchemas reads the live column list of each named table from the
// target's catalog. A table missing from the target is fatal: reconciliation
// adds columns, never tables.
func fetchTargetSchemas(ctx context.Context, db *sql.DB, database string, tables []string) (map[string][]string, error) {
	out := make(map[string][]string, len(tables))
	for _, table := range tables {
		cols, err := fetchTableColumns(ctx, db, database, table)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, &MissingTableError{Table: table}
		}
		out[table] = cols
	}
	return out, nil
}

func fetchTableColumns(ctx context.Context, db *sql.DB, database, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, targetColumnsQuery, database, table)
	if err != nil {
		return nil, fmt.Errorf("query target columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan target column for %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read target columns for %s: %w", table, err)
	}
	return cols, nil
}

// diffSchemas returns the patches a data-only restore needs: one per source
// column absent from the target, in source column order, tables in dump
// order. Matching is exact and case-sensitive; a source column that merely
// resembles a differently named target column is not matched. Columns present
// only in the target need nothing: inserts name their columns explicitly, so
// those simply receive NULL.
func diffSchemas(source []TableSchema, target map[string][]string) []ColumnPatch {
	var patches []ColumnPatch
	for _, ts := range source {
		have := make(map[string]bool, len(target[ts.Table]))
		for _, c := range target[ts.Table] {
			have[c] = true
		}
		for _, c := range ts.Columns {
			if !have[c] {
				patches = append(patches, ColumnPatch{Table: ts.Table, Column: c})
			}
		}
	}
	return patches
}

// sqlExecer is the part of *sql.DB the patch statements need; tests
// substitute a recorder.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// applyPatches adds each missing column as nullable TEXT, one ALTER per
// patch, strictly in order. Each ALTER is its own DDL unit; there is no
// spanning transaction. The returned slice lists what was actually applied,
// so a mid-sequence failure still reports exactly which columns now exist.
func applyPatches(ctx context.Context, db sqlExecer, patches []ColumnPatch) ([]ColumnPatch, error) {
	applied := make([]ColumnPatch, 0, len(patches))
	for _, p := range patches {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT NULL", mysqlIdent(p.Table), mysqlIdent(p.Column))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return applied, &SchemaPatchError{Table: p.Table, Column: p.Column, Op: "add", Err: err}
		}
		applied = append(applied, p)
	}
	return applied, nil
}

// revertPatches drops the columns this run added, in reverse order,
// best-effort: one failed drop is logged and the rest still run. Returns the
// patches actually dropped.
func revertPatches(ctx context.Context, db sqlExecer, patches []ColumnPatch) []ColumnPatch {
	reverted := make([]ColumnPatch, 0, len(patches))
	for i := len(patches) - 1; i >= 0; i-- {
		p := patches[i]
		stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", mysqlIdent(p.Table), mysqlIdent(p.Column))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Printf("  WARN: drop column %s.%s: %v", p.Table, p.Column, err)
			continue
		}
		reverted = append(reverted, p)
	}
	return reverted
}

// mysqlIdent quotes a MySQL identifier.
func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func tableNames(schemas []TableSchema) []string {
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Table
	}
	return names
}
