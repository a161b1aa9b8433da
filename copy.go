package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
)

func banner(title string) {
	log.Printf("%s", color.HiBlueString("── %s", title))
}

// runCopy drives one full copy: resolve connections, open tunnels, dump,
// reconcile in safe mode, restore, revert, tear down. Teardown of resources
// already acquired (tunnels, the staging file) runs on every exit path,
// including cancellation. Reconciliation columns applied before a later
// failure are reported but never auto-dropped; reverting after a partial
// restore could hide data loss.
func runCopy(ctx context.Context, cfg *CopyConfig) *RunResult {
	res := &RunResult{}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	fail := func(stage Stage, err error) *RunResult {
		res.FailedStage = stage
		res.Err = err
		return res
	}

	// Both external tools must be present before any tunnel or dump work
	// starts; a missing binary is attributed to the stage that needs it.
	if _, err := exec.LookPath("mysqldump"); err != nil {
		return fail(StageDump, &ResourceError{Op: "locate mysqldump", Err: err})
	}
	if _, err := exec.LookPath("mysql"); err != nil {
		return fail(StageRestore, &ResourceError{Op: "locate mysql", Err: err})
	}

	ports := newPortAllocator()
	readyTimeout := time.Duration(cfg.TunnelReadyTimeoutSecs) * time.Second

	// Source and target tunnels are independent; establish them concurrently.
	var srcTunnel, tgtTunnel *Tunnel
	defer func() {
		for _, t := range []*Tunnel{srcTunnel, tgtTunnel} {
			if t == nil {
				continue
			}
			log.Printf("closing tunnel via %s", t.spec.SSHHost)
			if err := t.Close(); err != nil {
				log.Printf("  WARN: close tunnel: %v", err)
			}
		}
	}()

	if cfg.Source.SSH != nil || cfg.Target.SSH != nil {
		banner("opening tunnels")
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			t, err := openSideTunnel(gctx, &cfg.Source, ports, readyTimeout, cfg.Verbose)
			srcTunnel = t
			return err
		})
		g.Go(func() error {
			t, err := openSideTunnel(gctx, &cfg.Target, ports, readyTimeout, cfg.Verbose)
			tgtTunnel = t
			return err
		})
		if err := g.Wait(); err != nil {
			return fail(StageTunnel, err)
		}
	}

	srcConn := resolveConn(cfg.Source.endpoint(), srcTunnel)
	tgtConn := resolveConn(cfg.Target.endpoint(), tgtTunnel)

	dataOnly := cfg.DataOnly || cfg.DataOnlySafe
	if dataOnly {
		banner(fmt.Sprintf("dumping %s (data only)", srcConn.Database))
	} else {
		banner(fmt.Sprintf("dumping %s (schema and data)", srcConn.Database))
	}
	artifact, err := dumpDatabase(ctx, srcConn, dumpOptions{
		Tables:     cfg.Tables,
		DataOnly:   dataOnly,
		StagingDir: cfg.StagingDir,
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		return fail(StageDump, err)
	}
	defer func() {
		if cfg.KeepDump {
			res.DumpFile = artifact.Path
			log.Printf("keeping dump file at %s", artifact.Path)
			return
		}
		if err := os.Remove(artifact.Path); err != nil {
			log.Printf("  WARN: remove dump file: %v", err)
		}
	}()

	// The target database must exist before reconciliation or hooks use a
	// connection that selects it; CREATE DATABASE IF NOT EXISTS is idempotent.
	if err := ensureDatabase(ctx, tgtConn); err != nil {
		return fail(StageRestore, err)
	}

	// sql.Open is lazy; no connection is made until reconciliation or hooks
	// actually need the target.
	targetDB, err := sql.Open("mysql", serverDSN(tgtConn, true))
	if err != nil {
		return fail(StageReconcile, fmt.Errorf("open target: %w", err))
	}
	defer targetDB.Close()

	if cfg.DataOnlySafe {
		banner("reconciling schema differences")
		applied, err := reconcileSchemas(ctx, targetDB, cfg, artifact)
		res.Applied = applied
		if err != nil {
			return fail(StageReconcile, err)
		}
	}

	if err := runHookPhase(ctx, targetDB, cfg, cfg.Hooks.BeforeRestore, "before_restore"); err != nil {
		return fail(StageRestore, err)
	}

	banner(fmt.Sprintf("restoring into %s", tgtConn.Database))
	if err := restoreDatabase(ctx, tgtConn, artifact, cfg.Verbose); err != nil {
		if len(res.Applied) > 0 {
			log.Printf("restore failed with %d reconciliation column(s) left in place:", len(res.Applied))
			for _, p := range res.Applied {
				log.Printf("  %s.%s", p.Table, p.Column)
			}
		}
		return fail(StageRestore, err)
	}

	if cfg.DataOnlySafe && len(res.Applied) > 0 {
		if cfg.KeepTempCols {
			log.Printf("keeping %d reconciliation column(s) (keep_temp_cols)", len(res.Applied))
		} else {
			banner("removing reconciliation columns")
			res.Reverted = revertPatches(ctx, targetDB, res.Applied)
		}
	}

	if err := runHookPhase(ctx, targetDB, cfg, cfg.Hooks.AfterRestore, "after_restore"); err != nil {
		return fail(StageRestore, err)
	}

	return res
}

// runHookPhase wraps hook failures in the restore taxonomy: hooks run against
// the target around the restore and share its failure category and exit code.
func runHookPhase(ctx context.Context, db sqlExecer, cfg *CopyConfig, files []string, phase string) error {
	if err := runHooks(ctx, db, cfg, files, phase); err != nil {
		return &RestoreError{Database: cfg.Target.Database, Err: err}
	}
	return nil
}

// openSideTunnel allocates a local port for one endpoint's SSH hop and opens
// the tunnel. Returns (nil, nil) when the endpoint is reached directly.
func openSideTunnel(ctx context.Context, ep *EndpointConfig, ports *portAllocator, readyTimeout time.Duration, verbose bool) (*Tunnel, error) {
	spec := ep.tunnelSpec()
	if spec == nil {
		return nil, nil
	}
	port, err := ports.allocate()
	if err != nil {
		return nil, err
	}
	spec.LocalPort = port
	return openTunnel(ctx, *spec, readyTimeout, verbose)
}

// reconcileSchemas runs the safe-mode pass: parse the dump's column lists,
// read the target's, and add what the target is missing. Returns the applied
// patches even on failure so the caller can report them.
func reconcileSchemas(ctx context.Context, db *sql.DB, cfg *CopyConfig, artifact *DumpArtifact) ([]ColumnPatch, error) {
	source, err := extractSourceSchemas(artifact.Path)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		log.Printf("  no insert statements in dump; nothing to reconcile")
		return nil, nil
	}
	log.Printf("  %d table(s) in dump", len(source))

	target, err := fetchTargetSchemas(ctx, db, cfg.Target.Database, tableNames(source))
	if err != nil {
		return nil, err
	}

	patches := diffSchemas(source, target)
	if len(patches) == 0 {
		log.Printf("  all dump columns exist in the target")
		return nil, nil
	}
	for _, p := range patches {
		log.Printf("  adding %s.%s (TEXT NULL)", p.Table, p.Column)
	}
	return applyPatches(ctx, db, patches)
}
