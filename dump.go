package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

type dumpOptions struct {
	Tables     []string
	DataOnly   bool
	StagingDir string
	Verbose    bool
}

// stagingFileName includes a nanosecond timestamp so concurrent runs against
// the same database never collide on the staging file.
func stagingFileName(dir, database string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("db_dump_%s_%s.sql", database, now.Format("20060102_150405.000000000")))
}

// dumpArgs builds the mysqldump invocation. The baseline asks for one
// consistent snapshot without table locks; full mode adds routines, triggers
// and scheduled events, data-only mode suppresses schema output and forces
// explicit column lists on every insert so a diverged target can still accept
// the rows.
func dumpArgs(conn EffectiveConnection, opts dumpOptions) []string {
	args := []string{
		"-h", conn.Host,
		"-P", strconv.Itoa(conn.Port),
		"-u", conn.User,
	}
	if conn.Password != "" {
		args = append(args, "--password="+conn.Password)
	} else {
		args = append(args, "--no-password")
	}
	args = append(args, "--single-transaction", "--lock-tables=false")
	if opts.DataOnly {
		args = append(args, "--no-create-info", "--complete-insert", "--disable-keys")
	} else {
		args = append(args, "--routines", "--triggers", "--events", "--create-options")
	}
	args = append(args, conn.Database)
	return append(args, opts.Tables...)
}

// dumpDatabase runs mysqldump into a fresh staging file. A non-zero exit is
// fatal and surfaces the tool's stderr; an exit-0 empty file is fatal too,
// since even an empty database produces header output.
func dumpDatabase(ctx context.Context, conn EffectiveConnection, opts dumpOptions) (*DumpArtifact, error) {
	now := time.Now()
	path := stagingFileName(opts.StagingDir, conn.Database, now)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "mysqldump", dumpArgs(conn, opts)...)
	var stderr bytes.Buffer
	cmd.Stdout = f
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	closeErr := f.Close()
	if runErr != nil {
		os.Remove(path)
		return nil, &DumpError{Database: conn.Database, Stderr: stderr.String(), Err: runErr}
	}
	if closeErr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write staging file: %w", closeErr)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat staging file: %w", err)
	}
	if fi.Size() == 0 {
		os.Remove(path)
		return nil, &EmptyDumpError{Database: conn.Database, Path: path}
	}

	if opts.Verbose {
		log.Printf("  dump complete: %s (%d bytes)", path, fi.Size())
	}
	return &DumpArtifact{Path: path, Database: conn.Database, CreatedAt: now, DataOnly: opts.DataOnly}, nil
}
