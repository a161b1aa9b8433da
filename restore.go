package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ensureDatabase creates the target database when absent. Idempotent.
func ensureDatabase(ctx context.Context, conn EffectiveConnection) error {
	db, err := sql.Open("mysql", serverDSN(conn, false))
	if err != nil {
		return fmt.Errorf("open target server: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+mysqlIdent(conn.Database)); err != nil {
		return &RestoreError{Database: conn.Database, Err: fmt.Errorf("create database: %w", err)}
	}
	return nil
}

// restoreArgs builds the mysql client invocation for loading the dump.
// --force keeps the load going past recoverable statement errors (e.g.
// SET statements needing SUPER on managed hosts); hard failures still exit
// non-zero.
func restoreArgs(conn EffectiveConnection) []string {
	args := []string{
		"--force",
		"-h", conn.Host,
		"-P", strconv.Itoa(conn.Port),
		"-u", conn.User,
	}
	if conn.Password != "" {
		args = append(args, "--password="+conn.Password)
	} else {
		args = append(args, "--no-password")
	}
	return append(args, conn.Database)
}

// restoreDatabase makes sure the target database exists, then streams the
// artifact into the mysql client.
func restoreDatabase(ctx context.Context, conn EffectiveConnection, artifact *DumpArtifact, verbose bool) error {
	if err := ensureDatabase(ctx, conn); err != nil {
		return err
	}
	return streamRestore(ctx, conn, artifact, verbose)
}

// streamRestore pipes the staging file to the restore tool's stdin. The file
// is never loaded into memory; dumps can be arbitrarily large.
func streamRestore(ctx context.Context, conn EffectiveConnection, artifact *DumpArtifact, verbose bool) error {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("open dump file: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat dump file: %w", err)
	}

	var stdin io.Reader = f
	var progress *mpb.Progress
	if verbose {
		progress = mpb.New(mpb.WithWidth(64))
		bar := progress.New(fi.Size(),
			mpb.BarStyle(),
			mpb.PrependDecorators(decor.Name(artifact.Database+" ")),
			mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
		)
		pr := bar.ProxyReader(f)
		defer pr.Close()
		stdin = pr
	}

	cmd := exec.CommandContext(ctx, "mysql", restoreArgs(conn)...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if progress != nil {
		progress.Wait()
	}

	stderrText := stderr.String()
	if stderrText != "" {
		logRestoreDiagnostics(stderrText, artifact.Path)
	}
	if runErr != nil {
		return &RestoreError{Database: conn.Database, Stderr: stderrText, Err: runErr}
	}
	return nil
}

var restoreErrLineRe = regexp.MustCompile(`at line (\d+)`)

// logRestoreDiagnostics logs the restore tool's stderr, resolving "at line N"
// references against the dump file so the offending statement is visible.
func logRestoreDiagnostics(stderrText, dumpPath string) {
	var dumpLines []string
	if strings.Contains(stderrText, "at line") {
		dumpLines = readDumpLines(dumpPath)
	}
	for _, line := range strings.Split(strings.TrimSpace(stderrText), "\n") {
		if line == "" {
			continue
		}
		log.Printf("  mysql: %s", line)
		for _, ctxLine := range restoreErrorContext(line, dumpLines) {
			log.Printf("  %s", ctxLine)
		}
	}
}

// restoreErrorContext returns the dump lines around an "ERROR ... at line N"
// reference, the failing line marked. Empty when the line carries no
// reference or the number is out of range.
func restoreErrorContext(errLine string, dumpLines []string) []string {
	if !strings.Contains(errLine, "ERROR") {
		return nil
	}
	m := restoreErrLineRe.FindStringSubmatch(errLine)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > len(dumpLines) {
		return nil
	}

	start := n - 3
	if start < 0 {
		start = 0
	}
	end := n + 2
	if end > len(dumpLines) {
		end = len(dumpLines)
	}

	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		marker := "    "
		if i == n-1 {
			marker = ">>> "
		}
		out = append(out, fmt.Sprintf("%s%d: %s", marker, i+1, truncateLine(dumpLines[i], 200)))
	}
	return out
}

func readDumpLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(string(data), "\n")
}

// truncateLine cuts s to at most max bytes, backing up to a rune boundary so
// a multibyte character is never split.
func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
