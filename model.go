package main

import "time"

// Endpoint is one side of a copy: the coordinates of a MySQL database as the
// operator knows them. Immutable once built from configuration.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// TunnelSpec describes one SSH local forward: connections to
// 127.0.0.1:LocalPort are carried over SSHHost to RemoteHost:RemotePort.
type TunnelSpec struct {
	RemoteHost string
	RemotePort int
	LocalPort  int

	SSHHost        string
	SSHPort        int
	SSHUser        string
	SSHPassword    string
	PrivateKeyPath string
}

// EffectiveConnection is the resolved address the dump/restore tools actually
// connect to: either the endpoint's own host/port or the tunnel's loopback
// forward. Derived per run, never persisted.
type EffectiveConnection struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DumpArtifact is the staging SQL file produced by the dump stage. Owned by
// the current run; removed at the end unless the caller asked to keep it.
type DumpArtifact struct {
	Path      string
	Database  string
	CreatedAt time.Time
	DataOnly  bool
}

// TableSchema is an ordered column-name snapshot for one table, either
// recovered from the dump's insert statements or read from the target's
// INFORMATION_SCHEMA. Valid only for the current run.
type TableSchema struct {
	Table   string
	Columns []string
}

// ColumnPatch is one column speculatively added to the target as nullable
// TEXT so a data-only restore can succeed.
type ColumnPatch struct {
	Table  string
	Column string
}

// Stage names one step of the copy pipeline, for progress reporting and
// failure attribution.
type Stage string

const (
	StageTunnel    Stage = "tunnel"
	StageDump      Stage = "dump"
	StageReconcile Stage = "reconcile"
	StageRestore   Stage = "restore"
	StageRevert    Stage = "revert"
	StageCleanup   Stage = "cleanup"
)

// RunResult is what runCopy hands back to the CLI layer.
type RunResult struct {
	// Err is the original stage error, unwrapped by nothing; nil on success.
	Err error
	// FailedStage names the stage Err came from.
	FailedStage Stage
	// DumpFile is the retained staging file path, set only with keep_dump.
	DumpFile string
	// Applied lists the reconciliation columns added to the target. If the
	// run failed after they were applied they are still listed here: columns
	// are never auto-dropped after a partial restore.
	Applied []ColumnPatch
	// Reverted lists the applied columns that were dropped again post-restore.
	Reverted []ColumnPatch
	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// OK reports whether the run completed without a fatal error.
func (r *RunResult) OK() bool { return r.Err == nil }
