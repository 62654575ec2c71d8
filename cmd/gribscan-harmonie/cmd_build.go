// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gribscan/gribscan-harmonie/pkg/timeutil"
)

type selectionFlags struct {
	source string
	time   string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "configured source name")
	cmd.Flags().StringVar(&f.time, "time", "", `analysis time, or "START/STOP[/STEP]" for a range`)
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("time")
}

func (f *selectionFlags) selection() (timeutil.Selection, error) {
	return timeutil.ParseSelection(f.time)
}

func newBuildCmd(a *app) *cobra.Command {
	var sf selectionFlags
	cmd := &cobra.Command{
		Use:   "build --source NAME --time SEL",
		Short: "Create the collection stores of a source",
		Long: `build indexes the GRIB files of every selected analysis time and writes one
reference store per level type next to the index files. Stores that are newer
than their index files are reused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := sf.selection()
			if err != nil {
				return err
			}
			l, err := a.loader(sf.source)
			if err != nil {
				return err
			}
			defer l.Close()

			collections, err := l.CreateIndexes(cmd.Context(), sel)
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(collections)
			}
			w := a.newTabWriter()
			writeRow(w, "LEVEL TYPE", "STORE")
			for _, lt := range collections.LevelTypes() {
				for _, p := range collections[lt] {
					writeRow(w, lt, p)
				}
			}
			return w.Flush()
		},
	}
	sf.register(cmd)
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var (
		sf        selectionFlags
		levelType string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "load --source NAME --time SEL --level-type LT",
		Short: "Write the combined reference store of one level type",
		Long: `load builds the collection stores of the selected analysis times and combines
those of one level type. Overlapping forecasts are stacked along analysis_time,
consecutive ones are joined along time. The result goes to stdout unless -o is
given; an output path ending in .zst is compressed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := sf.selection()
			if err != nil {
				return err
			}
			l, err := a.loader(sf.source)
			if err != nil {
				return err
			}
			defer l.Close()

			ds, err := l.Load(cmd.Context(), sel, levelType)
			if err != nil {
				return err
			}
			store, err := ds.Store()
			if err != nil {
				return err
			}
			if output != "" {
				if err := store.WriteFile(output); err != nil {
					return err
				}
				a.logger.InfoContext(cmd.Context(), "wrote reference store", "path", output, "level_type", levelType, "refs", len(store.Refs))
				if a.json {
					return a.printJSON(map[string]interface{}{"path": output, "sizes": ds.Sizes()})
				}
				fmt.Fprintln(a.stdout, output)
				return nil
			}
			data, err := store.Marshal()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(append(data, '\n'))
			return err
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&levelType, "level-type", "", "level type to load, e.g. heightAboveGround")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the store to this path")
	_ = cmd.MarkFlagRequired("level-type")
	return cmd
}
