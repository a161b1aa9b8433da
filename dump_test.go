package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDumpArgs(t *testing.T) {
	conn := EffectiveConnection{Host: "127.0.0.1", Port: 43121, User: "u", Password: "p", Database: "app"}

	t.Run("full mode", func(t *testing.T) {
		got := dumpArgs(conn, dumpOptions{})
		want := []string{
			"-h", "127.0.0.1", "-P", "43121", "-u", "u", "--password=p",
			"--single-transaction", "--lock-tables=false",
			"--routines", "--triggers", "--events", "--create-options",
			"app",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("dumpArgs() = %v\nwant %v", got, want)
		}
	})

	t.Run("data only", func(t *testing.T) {
		got := dumpArgs(conn, dumpOptions{DataOnly: true})
		for _, flag := range []string{"--no-create-info", "--complete-insert", "--disable-keys"} {
			if !contains(got, flag) {
				t.Errorf("dumpArgs(data-only) missing %s: %v", flag, got)
			}
		}
		for _, flag := range []string{"--routines", "--triggers", "--events"} {
			if contains(got, flag) {
				t.Errorf("dumpArgs(data-only) should not carry %s: %v", flag, got)
			}
		}
	})

	t.Run("tables appended in order", func(t *testing.T) {
		got := dumpArgs(conn, dumpOptions{Tables: []string{"users", "orders"}})
		n := len(got)
		if got[n-3] != "app" || got[n-2] != "users" || got[n-1] != "orders" {
			t.Errorf("dumpArgs() tail = %v, want [... app users orders]", got[n-3:])
		}
	})

	t.Run("no password", func(t *testing.T) {
		c := conn
		c.Password = ""
		got := dumpArgs(c, dumpOptions{})
		if !contains(got, "--no-password") {
			t.Errorf("dumpArgs() without password missing --no-password: %v", got)
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestStagingFileName(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 5, 9, 123456789, time.UTC)
	got := stagingFileName("/tmp", "app", now)
	want := "/tmp/db_dump_app_20260830_140509.123456789.sql"
	if got != want {
		t.Errorf("stagingFileName() = %q, want %q", got, want)
	}

	// Sub-second precision keeps concurrent runs apart.
	other := stagingFileName("/tmp", "app", now.Add(time.Nanosecond))
	if other == got {
		t.Error("stagingFileName() should differ for different instants")
	}
}

func TestDumpDatabase(t *testing.T) {
	toolDir := t.TempDir()
	staging := t.TempDir()
	argsFile := filepath.Join(toolDir, "args.txt")
	writeFakeTool(t, toolDir, "mysqldump",
		fmt.Sprintf(`printf '%%s\n' "$@" > %s
echo "-- MySQL dump"`, argsFile))
	t.Setenv("PATH", toolDir)

	conn := EffectiveConnection{Host: "h", Port: 3306, User: "u", Password: "p", Database: "mydb"}
	artifact, err := dumpDatabase(context.Background(), conn, dumpOptions{StagingDir: staging})
	if err != nil {
		t.Fatalf("dumpDatabase() error: %v", err)
	}
	if artifact.Database != "mydb" {
		t.Errorf("artifact.Database = %q", artifact.Database)
	}
	if !strings.HasPrefix(filepath.Base(artifact.Path), "db_dump_mydb_") {
		t.Errorf("artifact.Path = %q, want db_dump_mydb_ prefix", artifact.Path)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "MySQL dump") {
		t.Errorf("artifact content = %q", data)
	}

	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "--single-transaction") {
		t.Errorf("mysqldump args = %q, missing baseline flags", args)
	}
}

func TestDumpDatabaseEmptyOutput(t *testing.T) {
	toolDir := t.TempDir()
	staging := t.TempDir()
	writeFakeTool(t, toolDir, "mysqldump", `exit 0`)
	t.Setenv("PATH", toolDir)

	conn := EffectiveConnection{Host: "h", Port: 3306, User: "u", Database: "mydb"}
	_, err := dumpDatabase(context.Background(), conn, dumpOptions{StagingDir: staging})
	var emptyErr *EmptyDumpError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("error = %v (%T), want *EmptyDumpError", err, err)
	}
	assertStagingEmpty(t, staging)
}

func TestDumpDatabaseToolFailure(t *testing.T) {
	toolDir := t.TempDir()
	staging := t.TempDir()
	writeFakeTool(t, toolDir, "mysqldump", `echo "mysqldump: Access denied for user" >&2; exit 2`)
	t.Setenv("PATH", toolDir)

	conn := EffectiveConnection{Host: "h", Port: 3306, User: "u", Database: "mydb"}
	_, err := dumpDatabase(context.Background(), conn, dumpOptions{StagingDir: staging})
	var dumpErr *DumpError
	if !errors.As(err, &dumpErr) {
		t.Fatalf("error = %v (%T), want *DumpError", err, err)
	}
	if !strings.Contains(dumpErr.Stderr, "Access denied") {
		t.Errorf("DumpError.Stderr = %q, want stderr preserved verbatim", dumpErr.Stderr)
	}
	assertStagingEmpty(t, staging)
}

// assertStagingEmpty verifies a failed dump left no staging file behind.
func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir not cleaned up: %v", entries)
	}
}
