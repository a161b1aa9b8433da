package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes, one per failure category so wrapping scripts can branch on
// what broke.
const (
	exitUsage     = 1
	exitTunnel    = 2
	exitDump      = 3
	exitRestore   = 4
	exitReconcile = 5
)

var (
	configPath string

	flagTables       []string
	flagKeepDump     bool
	flagDataOnly     bool
	flagDataOnlySafe bool
	flagKeepTempCols bool
	flagVerbose      bool
	flagSampleConfig bool
)

var rootCmd = &cobra.Command{
	Use:          "dbcopy [config.toml]",
	Short:        "Copy a MySQL database between servers with mysqldump, over SSH tunnels when needed",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runCopyCmd,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "path to copy TOML config file")
	f.StringSliceVar(&flagTables, "tables", nil, "restrict the copy to these tables, in order")
	f.BoolVar(&flagKeepDump, "keep-dump", false, "keep the staging SQL file after the copy")
	f.BoolVar(&flagDataOnly, "data-only", false, "copy data only; the target schema must already exist")
	f.BoolVar(&flagDataOnlySafe, "data-only-safe", false, "data only, with automatic schema reconciliation on the target")
	f.BoolVar(&flagKeepTempCols, "keep-temp-cols", false, "safe mode: keep the reconciliation columns after the restore")
	f.BoolVar(&flagVerbose, "verbose", false, "verbose logging and restore progress")
	f.BoolVar(&flagSampleConfig, "sample-config", false, "print a sample config file and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func runCopyCmd(cmd *cobra.Command, args []string) error {
	if flagSampleConfig {
		fmt.Print(sampleConfig)
		return nil
	}

	// Resolve config path: positional arg takes precedence over --config flag
	cfgPath := configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}
	if cfgPath == "" {
		return fmt.Errorf("config file required: dbcopy <config.toml> or dbcopy --config <config.toml>")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.validateRunFlags(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("dbcopy — %s/%s → %s/%s",
		cfg.Source.Host, cfg.Source.Database, cfg.Target.Host, cfg.Target.Database)

	res := runCopy(ctx, cfg)
	printSummary(res)
	return res.Err
}

// applyFlagOverrides layers explicitly set CLI flags over the config file.
func applyFlagOverrides(cmd *cobra.Command, cfg *CopyConfig) {
	f := cmd.Flags()
	if f.Changed("tables") {
		cfg.Tables = flagTables
	}
	if f.Changed("keep-dump") {
		cfg.KeepDump = flagKeepDump
	}
	if f.Changed("data-only") {
		cfg.DataOnly = flagDataOnly
	}
	if f.Changed("data-only-safe") {
		cfg.DataOnlySafe = flagDataOnlySafe
	}
	if f.Changed("keep-temp-cols") {
		cfg.KeepTempCols = flagKeepTempCols
	}
	if f.Changed("verbose") {
		cfg.Verbose = flagVerbose
	}
}

func printSummary(res *RunResult) {
	if res.OK() {
		log.Printf("%s", color.HiGreenString("copy completed in %s", res.Elapsed.Round(time.Millisecond)))
	} else {
		log.Printf("%s", color.HiRedString("copy failed at %s stage after %s", res.FailedStage, res.Elapsed.Round(time.Millisecond)))
	}
	if res.DumpFile != "" {
		log.Printf("dump file: %s", res.DumpFile)
	}
	if n := len(res.Applied) - len(res.Reverted); n > 0 {
		log.Printf("%d reconciliation column(s) remain on the target:", n)
		reverted := make(map[ColumnPatch]bool, len(res.Reverted))
		for _, p := range res.Reverted {
			reverted[p] = true
		}
		for _, p := range res.Applied {
			if !reverted[p] {
				log.Printf("  %s.%s", p.Table, p.Column)
			}
		}
	}
}

// exitCode maps the error taxonomy to the process exit status.
func exitCode(err error) int {
	var (
		resErr     *ResourceError
		tunErr     *TunnelError
		dumpErr    *DumpError
		emptyErr   *EmptyDumpError
		restoreErr *RestoreError
		missingErr *MissingTableError
		patchErr   *SchemaPatchError
	)
	switch {
	case errors.As(err, &resErr), errors.As(err, &tunErr):
		return exitTunnel
	case errors.As(err, &dumpErr), errors.As(err, &emptyErr):
		return exitDump
	case errors.As(err, &restoreErr):
		return exitRestore
	case errors.As(err, &missingErr), errors.As(err, &patchErr):
		return exitReconcile
	default:
		return exitUsage
	}
}
