package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/dolphin-sweep/internal/config"
	"github.com/banshee-data/dolphin-sweep/internal/db"
	"github.com/banshee-data/dolphin-sweep/internal/monitoring"
	"github.com/banshee-data/dolphin-sweep/internal/report"
	"github.com/banshee-data/dolphin-sweep/internal/sweep"
	"github.com/banshee-data/dolphin-sweep/internal/version"
)

const defaultDBPath = "dolphin-sweep.db"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)

	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "run":
		err = runSweep(ctx, sweep.ModeFull, args[1:], stdout, stderr)
	case "generate":
		err = runSweep(ctx, sweep.ModeGenerate, args[1:], stdout, stderr)
	case "execute":
		err = runSweep(ctx, sweep.ModeExecute, args[1:], stdout, stderr)
	case "history":
		err = runHistory(args[1:], stdout, stderr)
	case "report":
		err = runReport(args[1:], stdout, stderr)
	case "migrate":
		err = runMigrate(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitUsage
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, db.ErrUnknownMigrateAction):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dolphin-sweep <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run        Generate one config per combination, then run each one")
	fmt.Fprintln(w, "  generate   Generate the configs only")
	fmt.Fprintln(w, "  execute    Run every config matching the artifact glob in the work dir")
	fmt.Fprintln(w, "  history    List recorded sweeps, or the runs of one sweep")
	fmt.Fprintln(w, "  report     Write duration charts and statistics for a recorded sweep")
	fmt.Fprintln(w, "  migrate    Manage the history database schema")
	fmt.Fprintln(w, "  version    Print build information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'dolphin-sweep <command> -h' for command flags.")
}

// sweepFlags holds the flags shared by run, generate and execute.
type sweepFlags struct {
	configPath    string
	blockSizes    string
	strideFactors string
	threads       string
	slices        string
	source        string
	workDir       string
	tool          string
	dbPath        string
	output        string
	dryRun        bool
	listingOrder  bool
	discover      bool
	noCSV         bool
	verbose       bool
}

func newSweepFlagSet(name string, f *sweepFlags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Sweep configuration JSON (see "+config.DefaultConfigPath+")")
	fs.StringVar(&f.blockSizes, "block-sizes", "", "Block sizes in GB: comma list (e.g. 1,4) or range min:max:step")
	fs.StringVar(&f.strideFactors, "stride-factors", "", "Stride factors: comma list or range min:max:step")
	fs.StringVar(&f.threads, "threads", "", "Threads per worker: comma list or range min:max:step")
	fs.StringVar(&f.slices, "slices", "", "SLC counts: comma list or range min:max:step")
	fs.StringVar(&f.source, "source", "", "Directory holding the SLC input files")
	fs.StringVar(&f.workDir, "workdir", "", "Working directory for configs, logs and scratch state")
	fs.StringVar(&f.tool, "tool", "", "Processing tool binary")
	fs.StringVar(&f.dbPath, "db", "", "Record sweep history in this SQLite database")
	fs.StringVar(&f.output, "output", "", "Results CSV (defaults to sweep-<timestamp>.csv in the work dir)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print commands instead of executing them")
	fs.BoolVar(&f.listingOrder, "listing-order", false, "Select inputs in directory-listing order instead of sorted order")
	fs.BoolVar(&f.discover, "discover", false, "Run every config matching the artifact glob, not only the generated ones")
	fs.BoolVar(&f.noCSV, "no-csv", false, "Do not write the results CSV")
	fs.BoolVar(&f.verbose, "verbose", false, "Log every command line")
	return fs
}

// buildConfig loads the optional config file and applies flag overrides.
func (f *sweepFlags) buildConfig() (*config.SweepConfig, error) {
	cfg := config.EmptySweepConfig()
	if f.configPath != "" {
		loaded, err := config.LoadSweepConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	lists := []struct {
		flag string
		val  string
		dst  *[]int
	}{
		{"block-sizes", f.blockSizes, &cfg.BlockSizesGB},
		{"stride-factors", f.strideFactors, &cfg.StrideFactors},
		{"threads", f.threads, &cfg.ThreadsPerWorker},
		{"slices", f.slices, &cfg.SliceCounts},
	}
	for _, l := range lists {
		vals, err := sweep.ParseIntParamList(l.val)
		if err != nil {
			return nil, fmt.Errorf("%w: -%s: %v", errUsage, l.flag, err)
		}
		if vals != nil {
			*l.dst = vals
		}
	}

	if f.source != "" {
		cfg.SourceDir = &f.source
	}
	if f.workDir != "" {
		cfg.WorkDir = &f.workDir
	}
	if f.tool != "" {
		cfg.ToolBinary = &f.tool
	}
	if f.listingOrder {
		order := config.InputOrderListing
		cfg.InputOrder = &order
	}
	if f.discover {
		cfg.DiscoverExisting = &f.discover
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return cfg, nil
}

func runSweep(ctx context.Context, mode sweep.Mode, args []string, stdout, stderr io.Writer) error {
	var f sweepFlags
	fs := newSweepFlagSet(string(mode), &f, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	monitoring.SetVerbose(f.verbose)

	cfg, err := f.buildConfig()
	if err != nil {
		return err
	}

	opts := sweep.Options{
		Progress:   stdout,
		DryRun:     f.dryRun,
		OutputPath: f.output,
		DisableCSV: f.noCSV,
	}
	if f.dbPath != "" {
		database, err := db.NewDB(f.dbPath)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer database.Close()
		opts.Persister = db.NewSweepStore(database)
	}

	runner, err := sweep.NewRunner(cfg, opts)
	if err != nil {
		return err
	}
	summary, err := runner.Sweep(ctx, mode)

	fmt.Fprintf(stdout, "Sweep %s %s: %d artifacts, %d runs in %s\n",
		summary.SweepID, summary.Status, len(summary.Artifacts), len(summary.RunResults()),
		sweep.FormatElapsed(summary.CompletedAt.Sub(summary.StartedAt)))
	if summary.CSVPath != "" {
		fmt.Fprintf(stdout, "Results: %s\n", summary.CSVPath)
	}
	return err
}

func openStore(path string) (*db.DB, *db.SweepStore, error) {
	database, err := db.NewDB(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	return database, db.NewSweepStore(database), nil
}

func runHistory(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", defaultDBPath, "SQLite history database")
	sweepID := fs.String("sweep", "", "List the runs of this sweep")
	limit := fs.Int("limit", 20, "Maximum number of sweeps to list (max 100)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	database, store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if *sweepID != "" {
		return printSweepRuns(stdout, store, *sweepID)
	}

	sweeps, err := store.ListSweeps(*limit)
	if err != nil {
		return err
	}
	if len(sweeps) == 0 {
		fmt.Fprintln(stdout, "No sweeps recorded")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SWEEP\tMODE\tSTATUS\tORDER\tSTARTED\tELAPSED\tRUNS\tFAILED")
	for _, s := range sweeps {
		elapsed := "-"
		if s.CompletedAt != nil {
			elapsed = sweep.FormatElapsed(s.CompletedAt.Sub(s.StartedAt))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.SweepID, s.Mode, s.Status, s.InputOrder, humanize.Time(s.StartedAt), elapsed, s.Runs, s.FailedRuns)
	}
	return tw.Flush()
}

func printSweepRuns(w io.Writer, store *db.SweepStore, sweepID string) error {
	rec, err := store.GetSweep(sweepID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("sweep %s not found", sweepID)
	}
	steps, err := store.ListSteps(sweepID, sweep.PhaseRun)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Sweep %s (%s, %s, inputs %s) started %s\n",
		rec.SweepID, rec.Mode, rec.Status, rec.InputOrder, rec.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if rec.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", rec.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT\tEXIT\tDURATION\tERROR")
	for _, s := range steps {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			filepath.Base(s.Artifact), s.ExitCode, sweep.FormatElapsed(s.Duration), s.Error)
	}
	return tw.Flush()
}

func runReport(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", defaultDBPath, "SQLite history database")
	sweepID := fs.String("sweep", "", "Sweep to report on (defaults to the most recent)")
	outDir := fs.String("out", "", "Output directory (defaults to report-<sweep>)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	database, store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	id := *sweepID
	if id == "" {
		recent, err := store.ListSweeps(1)
		if err != nil {
			return err
		}
		if len(recent) == 0 {
			return fmt.Errorf("no sweeps recorded in %s", *dbPath)
		}
		id = recent[0].SweepID
	}
	dir := *outDir
	if dir == "" {
		dir = "report-" + id
	}

	res, err := report.Generate(store, id, dir, stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s and %s\n", res.HTMLPath, res.PlotPath)
	return nil
}

func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", defaultDBPath, "SQLite history database")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
