// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the gribscan-harmonie CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gribscan/gribscan-harmonie/pkg/catalog"
	"github.com/gribscan/gribscan-harmonie/pkg/config"
	"github.com/gribscan/gribscan-harmonie/pkg/indexer"
	"github.com/gribscan/gribscan-harmonie/pkg/loader"
	"github.com/gribscan/gribscan-harmonie/pkg/resilience"
	"github.com/gribscan/gribscan-harmonie/pkg/source"
	"github.com/gribscan/gribscan-harmonie/pkg/telemetry"
)

const serviceName = "gribscan-harmonie"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		cliErr := wrapError(err)
		cliErr.Print(stderr, a.json)
		return cliErr.ExitCode()
	}
	return 0
}

// app holds the state shared by all commands.
type app struct {
	stdout, stderr io.Writer

	configPath string
	sets       []string
	json       bool
	logLevel   string

	cfg      *config.Config
	runID    string
	logger   *slog.Logger
	metrics  *telemetry.IndexMetrics
	catalog  catalog.Catalog
	shutdown telemetry.ShutdownFunc
	closeCat func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Index HARMONIE GRIB files and build Zarr reference stores",
		Long: `gribscan-harmonie scans GRIB files, writes one index file per GRIB file and
combines the indexes of a forecast into kerchunk reference stores, one per
level type, that can be opened as Zarr datasets without copying data.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			cmd.SetContext(telemetry.WithRunID(cmd.Context(), a.runID))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML configuration file")
	flags.StringArrayVar(&a.sets, "set", nil, "override a configuration key, e.g. --set index.workers=4 (repeatable)")
	flags.BoolVar(&a.json, "json", false, "print machine-readable JSON")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newScanCmd(a),
		newIndexCmd(a),
		newBuildCmd(a),
		newLoadCmd(a),
		newInspectCmd(a),
		newReadCmd(a),
		newWatchCmd(a),
		newCatalogCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cliArgs := make([]string, 0, 2+2*len(a.sets))
	if a.configPath != "" {
		cliArgs = append(cliArgs, "--config", a.configPath)
	}
	for _, s := range a.sets {
		cliArgs = append(cliArgs, "--set", s)
	}
	cfg, err := config.LoadWithCLI(cliArgs)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.runID = catalog.NewRunID()
	a.logger = telemetry.ConfigureSlog(a.stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		Version:        version,
		RunID:          a.runID,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		OTLPInsecure:   cfg.Telemetry.Insecure,
		Output:         a.stderr,
		MetricInterval: cfg.Telemetry.Interval,
	})
	if err != nil {
		return newConfigError(err, a.configPath)
	}
	a.shutdown = shutdown

	if a.metrics, err = telemetry.NewIndexMetrics(); err != nil {
		return err
	}

	a.catalog = catalog.Nop{}
	if cfg.Catalog.Enabled {
		db, err := catalog.OpenSQLite(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		a.catalog = db
		a.closeCat = db.Close
	}
	a.logger.DebugContext(telemetry.WithRunID(ctx, a.runID), "configuration loaded", "config", a.configPath, "sources", len(cfg.Sources))
	return nil
}

func (a *app) close() {
	if a.closeCat != nil {
		if err := a.closeCat(); err != nil {
			a.logger.Warn("closing catalog", "error", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

// indexer builds an indexer from the configuration.
func (a *app) indexer(reindex bool) *indexer.Indexer {
	var progress io.Writer
	if a.cfg.Index.Progress && !a.json {
		progress = a.stderr
	}
	return indexer.New(indexer.Options{
		IndexRoot: a.cfg.Index.Root,
		Workers:   a.cfg.Index.Workers,
		Progress:  progress,
		Reindex:   reindex,
		Retry:     resilience.DefaultRetryConfig().WithMaxAttempts(a.cfg.Index.Retries),
		Catalog:   a.catalog,
		Metrics:   a.metrics,
		Logger:    a.logger,
		RunID:     a.runID,
	})
}

func (a *app) source(name string) (source.Source, error) {
	if name == "" {
		return nil, newInvalidArgumentError("--source", "a source name is required")
	}
	sc, err := a.cfg.Source(name)
	if err != nil {
		return nil, err
	}
	return source.FromConfig(sc)
}

func (a *app) loader(name string) (*loader.Loader, error) {
	src, err := a.source(name)
	if err != nil {
		return nil, err
	}
	return loader.New(src, loader.Options{
		Indexer:   a.indexer(false),
		Catalog:   a.catalog,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Compress:  a.cfg.Index.Compress,
		CacheSize: a.cfg.Cache.Size,
	})
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func (a *app) newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(a.stdout, 0, 8, 2, ' ', 0)
}

func writeRow(w io.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(w, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.ReplaceAll(value, "\t", " ")
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the name and version",
		Args:  cobra.NoArgs,
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(*cobra.Command, []string) error {
			if a.json {
				return a.printJSON(map[string]string{"name": serviceName, "version": version})
			}
			fmt.Fprintln(a.stdout, serviceName, version)
			return nil
		},
	}
}
