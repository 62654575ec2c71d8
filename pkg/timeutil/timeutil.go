// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeutil normalises analysis-time arguments and durations.
package timeutil

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/sosodev/duration"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// IdentifierLayout formats analysis times into collection identifiers.
const IdentifierLayout = "20060102T150405"

// Selection is a single analysis time or an inclusive range of them.
type Selection struct {
	Start time.Time
	Stop  time.Time
	// Step is zero when the range did not specify one.
	Step    time.Duration
	IsRange bool
}

// At selects a single analysis time.
func At(t time.Time) Selection {
	t = t.UTC()
	return Selection{Start: t, Stop: t}
}

// Range selects analysis times from start to stop inclusive.
func Range(start, stop time.Time, step time.Duration) Selection {
	return Selection{Start: start.UTC(), Stop: stop.UTC(), Step: step, IsRange: true}
}

// Validate checks that a range is ordered and its step is not negative.
func (s Selection) Validate() error {
	if s.Start.IsZero() {
		return errors.New(errors.CodeInvalidInput, "analysis time is required", nil)
	}
	if s.IsRange {
		if s.Stop.Before(s.Start) {
			return errors.Newf(errors.CodeInvalidInput, "range stop %s is before start %s",
				s.Stop.Format(time.RFC3339), s.Start.Format(time.RFC3339))
		}
		if s.Step < 0 {
			return errors.Newf(errors.CodeInvalidInput, "negative range step %s", s.Step)
		}
	}
	return nil
}

func (s Selection) String() string {
	if !s.IsRange {
		return s.Start.Format(time.RFC3339)
	}
	out := s.Start.Format(time.RFC3339) + "/" + s.Stop.Format(time.RFC3339)
	if s.Step > 0 {
		out += "/" + s.Step.String()
	}
	return out
}

// ParseSelection parses "T", "T1/T2" or "T1/T2/STEP".
func ParseSelection(s string) (Selection, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	switch len(parts) {
	case 1:
		t, err := ParseTime(parts[0])
		if err != nil {
			return Selection{}, err
		}
		return At(t), nil
	case 2, 3:
		start, err := ParseTime(parts[0])
		if err != nil {
			return Selection{}, err
		}
		stop, err := ParseTime(parts[1])
		if err != nil {
			return Selection{}, err
		}
		var step time.Duration
		if len(parts) == 3 {
			if step, err = ParseDuration(parts[2]); err != nil {
				return Selection{}, err
			}
		}
		sel := Range(start, stop, step)
		return sel, sel.Validate()
	default:
		return Selection{}, errors.Newf(errors.CodeInvalidInput, "invalid time selection %q", s)
	}
}

var layouts = []string{
	IdentifierLayout,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses an analysis time. Times without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New(errors.CodeInvalidInput, "empty time", nil)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, errors.New(errors.CodeInvalidInput, "invalid time", err).WithContext("value", s)
	}
	return t.UTC(), nil
}

var pandasFreq = regexp.MustCompile(`^(\d*)\s*(s|sec|min|t|h|d|w)$`)

var pandasUnits = map[string]time.Duration{
	"s":   time.Second,
	"sec": time.Second,
	"min": time.Minute,
	"t":   time.Minute,
	"h":   time.Hour,
	"d":   24 * time.Hour,
	"w":   7 * 24 * time.Hour,
}

// ParseDuration accepts Go durations ("3h"), ISO-8601 durations ("PT3H", "P1D")
// and pandas frequency strings ("3H", "1D", "30min").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New(errors.CodeInvalidInput, "empty duration", nil)
	}
	if strings.HasPrefix(strings.ToUpper(s), "P") || strings.HasPrefix(s, "-P") {
		d, err := duration.Parse(strings.ToUpper(s))
		if err != nil {
			return 0, errors.New(errors.CodeInvalidInput, "invalid ISO-8601 duration", err).WithContext("value", s)
		}
		return d.ToTimeDuration(), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if m := pandasFreq.FindStringSubmatch(strings.ToLower(s)); m != nil {
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		return time.Duration(n) * pandasUnits[m[2]], nil
	}
	return 0, errors.Newf(errors.CodeInvalidInput, "invalid duration %q", s)
}

// DateRange returns the times from start to stop inclusive every step.
func DateRange(start, stop time.Time, step time.Duration) ([]time.Time, error) {
	if step <= 0 {
		return nil, errors.Newf(errors.CodeInvalidInput, "range step must be positive, got %s", step)
	}
	var out []time.Time
	for t := start; !t.After(stop); t = t.Add(step) {
		out = append(out, t)
	}
	return out, nil
}

// Identifier formats an analysis time as a compact ISO-8601 collection identifier.
func Identifier(t time.Time) string {
	return t.UTC().Format(IdentifierLayout)
}
