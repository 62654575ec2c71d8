// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gribscan/gribscan-harmonie/pkg/catalog"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
	"github.com/gribscan/gribscan-harmonie/pkg/source"
	"github.com/gribscan/gribscan-harmonie/pkg/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "watch --source NAME",
		Short: "Index GRIB files of a source as they arrive",
		Long: `watch follows the directory tree of a pattern source and indexes every new or
rewritten GRIB file once it has been quiet for watch.debounce. It runs until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := a.source(name)
			if err != nil {
				return err
			}
			tmpl, ok := src.(*source.TemplateSource)
			if !ok {
				return errors.Newf(errors.CodeUnsupported, "source %q has no file pattern to watch", name)
			}

			a.cfg.Index.Progress = false
			w, err := watch.New(tmpl, a.indexer(true), watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			defer w.Stop()

			ctx := cmd.Context()
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			s := w.Stats()
			a.logger.InfoContext(ctx, "watch stopped", "indexed", s.Indexed, "errors", s.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "source", "", "configured source name")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Query the catalog of written index files and stores",
	}

	var (
		levelType string
		kind      string
		runID     string
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog records in the order they were written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Catalog.Enabled {
				return NewCLIError(
					errors.New(errors.CodeInvalidInput, "the catalog is disabled", nil),
					"set catalog.enabled=true in the configuration or pass --set catalog.enabled=true")
			}
			switch catalog.Kind(kind) {
			case "", catalog.KindIndex, catalog.KindStore:
			default:
				return newInvalidArgumentError("--kind", "must be index or store")
			}
			records, err := a.catalog.List(cmd.Context(), catalog.Filter{
				RunID:     runID,
				Kind:      catalog.Kind(kind),
				LevelType: levelType,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if a.json {
				if records == nil {
					records = []catalog.Record{}
				}
				return a.printJSON(records)
			}
			w := a.newTabWriter()
			writeRow(w, "CREATED", "RUN", "KIND", "LEVEL TYPE", "MESSAGES", "SKIPPED", "PATH")
			for _, r := range records {
				writeRow(w,
					r.CreatedAt.Format(time.RFC3339),
					r.RunID,
					string(r.Kind),
					r.LevelType,
					strconv.Itoa(r.Messages),
					strconv.FormatBool(r.Skipped),
					r.Path,
				)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&levelType, "level-type", "", "only stores of this level type")
	list.Flags().StringVar(&kind, "kind", "", "only records of this kind: index or store")
	list.Flags().StringVar(&runID, "run", "", "only records of this run id")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of records")

	cmd.AddCommand(list)
	return cmd
}
