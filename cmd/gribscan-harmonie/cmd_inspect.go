// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gribscan/gribscan-harmonie/pkg/dataset"
	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

type coordSummary struct {
	Name  string   `json:"name" yaml:"name"`
	Dims  []string `json:"dims" yaml:"dims"`
	DType string   `json:"dtype" yaml:"dtype"`
	Size  int      `json:"size" yaml:"size"`
	First string   `json:"first,omitempty" yaml:"first,omitempty"`
	Last  string   `json:"last,omitempty" yaml:"last,omitempty"`
	Units string   `json:"units,omitempty" yaml:"units,omitempty"`
}

type varSummary struct {
	Name     string   `json:"name" yaml:"name"`
	Dims     []string `json:"dims" yaml:"dims"`
	Shape    []int    `json:"shape" yaml:"shape"`
	LongName string   `json:"long_name,omitempty" yaml:"long_name,omitempty"`
	Units    string   `json:"units,omitempty" yaml:"units,omitempty"`
	Chunks   int      `json:"chunks" yaml:"chunks"`
}

type datasetSummary struct {
	Path      string                 `json:"path" yaml:"path"`
	Sizes     map[string]int         `json:"sizes" yaml:"sizes"`
	Coords    []coordSummary         `json:"coords" yaml:"coords"`
	Variables []varSummary           `json:"variables" yaml:"variables"`
	Attrs     map[string]interface{} `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

func summarize(path string, ds *dataset.Dataset) datasetSummary {
	out := datasetSummary{Path: path, Sizes: ds.Sizes(), Attrs: ds.Attrs}
	for _, name := range ds.CoordNames() {
		c := ds.Coords[name]
		cs := coordSummary{Name: name, Dims: c.Dims, DType: c.DType, Size: len(c.Values), Units: attrString(c.Attrs, "units")}
		if cs.Dims == nil {
			cs.Dims = []string{}
		}
		if len(c.Values) > 0 {
			cs.First = formatCoord(c, 0)
			cs.Last = formatCoord(c, len(c.Values)-1)
		}
		out.Coords = append(out.Coords, cs)
	}
	for _, name := range ds.VariableNames() {
		v := ds.Vars[name]
		out.Variables = append(out.Variables, varSummary{
			Name:     name,
			Dims:     v.Dims,
			Shape:    v.Shape(),
			LongName: attrString(v.Attrs, "long_name"),
			Units:    attrString(v.Attrs, "units"),
			Chunks:   len(v.Refs),
		})
	}
	return out
}

func formatCoord(c *dataset.Coord, i int) string {
	if c.Name == dataset.DimTime || c.Name == dataset.DimValidTime || c.Name == dataset.DimAnalysisTime {
		return c.Times()[i].Format(time.RFC3339)
	}
	return strconv.FormatFloat(c.Values[i], 'g', -1, 64)
}

func attrString(attrs map[string]interface{}, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func newInspectCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect STORE",
		Short: "Describe the coordinates and variables of a reference store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.json {
				format = "json"
			}
			switch format {
			case "text", "json", "yaml":
			default:
				return newInvalidArgumentError("--format", fmt.Sprintf("unknown format %q, use text, json or yaml", format))
			}
			ds, err := dataset.OpenFile(args[0])
			if err != nil {
				return err
			}
			sum := summarize(args[0], ds)

			switch format {
			case "json":
				return a.printJSON(sum)
			case "yaml":
				enc := yaml.NewEncoder(a.stdout)
				enc.SetIndent(2)
				if err := enc.Encode(sum); err != nil {
					return err
				}
				return enc.Close()
			default:
				return a.printSummary(sum)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or yaml")
	return cmd
}

func (a *app) printSummary(sum datasetSummary) error {
	dims := make([]string, 0, len(sum.Sizes))
	for d, n := range sum.Sizes {
		dims = append(dims, fmt.Sprintf("%s: %d", d, n))
	}
	sort.Strings(dims)
	fmt.Fprintf(a.stdout, "%s\nDimensions: (%s)\n\nCoordinates:\n", sum.Path, strings.Join(dims, ", "))

	w := a.newTabWriter()
	for _, c := range sum.Coords {
		writeRow(w, "  "+c.Name, "("+strings.Join(c.Dims, ", ")+")", c.DType, c.First, c.Last)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "\nData variables:")
	w = a.newTabWriter()
	for _, v := range sum.Variables {
		writeRow(w, "  "+v.Name, "("+strings.Join(v.Dims, ", ")+")", v.LongName, v.Units, strconv.Itoa(v.Chunks)+" chunks")
	}
	return w.Flush()
}

type chunkStats struct {
	Variable string  `json:"variable"`
	Index    []int   `json:"index"`
	Count    int     `json:"count"`
	Valid    int     `json:"valid"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
}

func computeStats(values []float64) chunkStats {
	s := chunkStats{Count: len(values), Min: math.NaN(), Max: math.NaN(), Mean: math.NaN()}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if s.Valid == 0 || v < s.Min {
			s.Min = v
		}
		if s.Valid == 0 || v > s.Max {
			s.Max = v
		}
		sum += v
		s.Valid++
	}
	if s.Valid > 0 {
		s.Mean = sum / float64(s.Valid)
	}
	return s
}

func parseIndex(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, newInvalidArgumentError("--index", fmt.Sprintf("%q is not a list of chunk indices", s))
		}
		out[i] = n
	}
	return out, nil
}

func newReadCmd(a *app) *cobra.Command {
	var (
		variable string
		index    string
	)
	cmd := &cobra.Command{
		Use:   "read STORE --var NAME --index I,J,...",
		Short: "Decode one chunk and print summary statistics",
		Long: `read fetches the GRIB message behind one chunk of a variable and decodes it.
The index has one entry per dimension; trailing grid dimensions may be omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.OpenFile(args[0])
			if err != nil {
				return err
			}
			v, ok := ds.Vars[variable]
			if !ok {
				return errors.Newf(errors.CodeNotFound, "variable %q not found", variable).
					WithContext("available", ds.VariableNames())
			}
			idx, err := parseIndex(index)
			if err != nil {
				return err
			}
			for len(idx) < len(v.Dims) {
				idx = append(idx, 0)
			}

			values, err := ds.DecodeChunk(cmd.Context(), variable, idx)
			if err != nil {
				return err
			}
			st := computeStats(values)
			st.Variable = variable
			st.Index = idx
			if a.json {
				if st.Valid == 0 {
					// NaN is not valid JSON
					return a.printJSON(map[string]interface{}{"variable": variable, "index": idx, "count": st.Count, "valid": 0})
				}
				return a.printJSON(st)
			}
			fmt.Fprintf(a.stdout, "%s[%s]: %d values, %d valid, min %g, max %g, mean %g\n",
				variable, dataset.ChunkKey(idx), st.Count, st.Valid, st.Min, st.Max, st.Mean)
			return nil
		},
	}
	cmd.Flags().StringVar(&variable, "var", "", "variable name")
	cmd.Flags().StringVar(&index, "index", "0", "chunk index, e.g. 0,2")
	_ = cmd.MarkFlagRequired("var")
	return cmd
}
