package main

import (
	"fmt"
	"strings"
)

// ResourceError indicates a local resource needed for the run (an ephemeral
// loopback port) could not be acquired.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

// TunnelError indicates an SSH tunnel failed to establish or died before
// becoming ready. Stderr carries the ssh client's own diagnostics verbatim.
type TunnelError struct {
	SSHHost string
	Stderr  string
	Err     error
}

func (e *TunnelError) Error() string {
	msg := fmt.Sprintf("ssh tunnel via %s: %v", e.SSHHost, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nssh: " + s
	}
	return msg
}

func (e *TunnelError) Unwrap() error { return e.Err }

// DumpError indicates mysqldump exited non-zero. Stderr is preserved
// unmodified; it usually names the exact problem (bad credentials, unknown
// database, unreachable host).
type DumpError struct {
	Database string
	Stderr   string
	Err      error
}

func (e *DumpError) Error() string {
	msg := fmt.Sprintf("dump of %s failed: %v", e.Database, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nmysqldump: " + s
	}
	return msg
}

func (e *DumpError) Unwrap() error { return e.Err }

// EmptyDumpError indicates mysqldump exited 0 but produced no output. Even a
// genuinely empty database yields header output, so an empty artifact means
// something upstream went silently wrong.
type EmptyDumpError struct {
	Database string
	Path     string
}

func (e *EmptyDumpError) Error() string {
	return fmt.Sprintf("dump of %s produced an empty file (%s)", e.Database, e.Path)
}

// RestoreError indicates the mysql client exited non-zero while loading the
// dump. Stderr typically includes the failing statement's server message.
type RestoreError struct {
	Database string
	Stderr   string
	Err      error
}

func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("restore into %s failed: %v", e.Database, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nmysql: " + s
	}
	return msg
}

func (e *RestoreError) Unwrap() error { return e.Err }

// MissingTableError indicates the target database lacks a table present in
// the source dump. Reconciliation only adds columns, never tables.
type MissingTableError struct {
	Table string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("table %s does not exist in the target database", e.Table)
}

// SchemaPatchError indicates an ADD COLUMN or DROP COLUMN statement failed
// during schema reconciliation.
type SchemaPatchError struct {
	Table  string
	Column string
	Op     string // "add" or "drop"
	Err    error
}

func (e *SchemaPatchError) Error() string {
	return fmt.Sprintf("%s column %s.%s: %v", e.Op, e.Table, e.Column, e.Err)
}

func (e *SchemaPatchError) Unwrap() error { return e.Err }
