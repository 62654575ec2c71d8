// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gribscan/gribscan-harmonie/pkg/grib"
	"github.com/gribscan/gribscan-harmonie/pkg/gribindex"
)

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan FILE...",
		Short: "List the messages of GRIB files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []gribindex.Entry
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					return newInvalidArgumentError(path, err.Error())
				}
				msgs, err := grib.ScanFile(abs)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					entries = append(entries, gribindex.FromMessage(abs, m))
				}
			}
			if a.json {
				return a.printJSON(entries)
			}

			w := a.newTabWriter()
			writeRow(w, "FILE", "OFFSET", "LENGTH", "ED", "PARAM", "LEVEL TYPE", "LEVEL", "STEP", "VALID TIME")
			for _, e := range entries {
				writeRow(w,
					filepath.Base(e.Filename),
					strconv.FormatInt(e.Offset, 10),
					strconv.FormatInt(e.Length, 10),
					strconv.Itoa(e.Edition),
					e.ShortName,
					e.LevelType,
					strconv.FormatFloat(e.Level, 'g', -1, 64),
					e.StepDuration().String(),
					e.ValidTime.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
}

func newIndexCmd(a *app) *cobra.Command {
	var (
		indexRoot string
		workers   int
		reindex   bool
	)
	cmd := &cobra.Command{
		Use:   "index FILE...",
		Short: "Write an index file for each GRIB file",
		Long: `index writes FILE.index.json next to each GRIB file, or below --index-root.
Existing index files are kept unless --reindex is set and the GRIB file changed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("index-root") {
				a.cfg.Index.Root = indexRoot
			}
			if cmd.Flags().Changed("workers") {
				if workers < 1 {
					return newInvalidArgumentError("--workers", "must be at least 1")
				}
				a.cfg.Index.Workers = workers
			}
			files := make([]string, len(args))
			for i, f := range args {
				abs, err := filepath.Abs(f)
				if err != nil {
					return newInvalidArgumentError(f, err.Error())
				}
				files[i] = abs
			}

			ix := a.indexer(reindex)
			paths, err := ix.IndexFiles(cmd.Context(), files)
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(map[string]interface{}{"run_id": ix.RunID(), "indexes": paths})
			}
			for _, p := range paths {
				fmt.Fprintln(a.stdout, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&indexRoot, "index-root", "", "mirror index files below this directory")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of files indexed in parallel")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "rewrite index files of changed GRIB files")
	return cmd
}
