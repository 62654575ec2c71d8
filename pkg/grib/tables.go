// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package grib

import (
	"fmt"
	"time"
)

type paramInfo struct {
	short string
	long  string
	units string
}

// WMO GRIB2 parameters produced by HARMONIE, keyed by discipline, category and number.
var grib2Params = map[[3]int]paramInfo{
	{0, 0, 0}:  {"t", "Temperature", "K"},
	{0, 0, 6}:  {"td", "Dew point temperature", "K"},
	{0, 1, 0}:  {"q", "Specific humidity", "kg kg-1"},
	{0, 1, 1}:  {"r", "Relative humidity", "%"},
	{0, 1, 8}:  {"tp", "Total precipitation", "kg m-2"},
	{0, 2, 1}:  {"ws", "Wind speed", "m s-1"},
	{0, 2, 2}:  {"u", "U component of wind", "m s-1"},
	{0, 2, 3}:  {"v", "V component of wind", "m s-1"},
	{0, 2, 8}:  {"w", "Vertical velocity", "Pa s-1"},
	{0, 2, 22}: {"gust", "Wind speed (gust)", "m s-1"},
	{0, 3, 0}:  {"pres", "Pressure", "Pa"},
	{0, 3, 1}:  {"msl", "Pressure reduced to MSL", "Pa"},
	{0, 3, 4}:  {"z", "Geopotential", "m2 s-2"},
	{0, 3, 5}:  {"gh", "Geopotential height", "gpm"},
	{0, 6, 1}:  {"tcc", "Total cloud cover", "%"},
	{0, 6, 3}:  {"lcc", "Low cloud cover", "%"},
	{0, 6, 4}:  {"mcc", "Medium cloud cover", "%"},
	{0, 6, 5}:  {"hcc", "High cloud cover", "%"},
	{0, 19, 0}: {"vis", "Visibility", "m"},
	{2, 0, 0}:  {"lsm", "Land-sea mask", "(0 - 1)"},
}

// GRIB1 table 2 entries shared by the WMO table and the HARMONIE local table 253.
var grib1Params = map[int]paramInfo{
	1:  {"pres", "Pressure", "Pa"},
	2:  {"msl", "Pressure reduced to MSL", "Pa"},
	6:  {"z", "Geopotential", "m2 s-2"},
	11: {"t", "Temperature", "K"},
	17: {"td", "Dew point temperature", "K"},
	20: {"vis", "Visibility", "m"},
	33: {"u", "U component of wind", "m s-1"},
	34: {"v", "V component of wind", "m s-1"},
	39: {"w", "Vertical velocity", "Pa s-1"},
	51: {"q", "Specific humidity", "kg kg-1"},
	52: {"r", "Relative humidity", "%"},
	61: {"tp", "Total precipitation", "kg m-2"},
	71: {"tcc", "Total cloud cover", "%"},
	73: {"lcc", "Low cloud cover", "%"},
	74: {"mcc", "Medium cloud cover", "%"},
	75: {"hcc", "High cloud cover", "%"},
	81: {"lsm", "Land-sea mask", "(0 - 1)"},
}

var grib1Levels = map[int]string{
	1:   "surface",
	100: "isobaricInhPa",
	102: "meanSea",
	103: "heightAboveSea",
	105: "heightAboveGround",
	109: "hybrid",
	111: "depthBelowLand",
	200: "entireAtmosphere",
}

var grib2Levels = map[int]string{
	1:   "surface",
	8:   "nominalTop",
	10:  "entireAtmosphere",
	100: "isobaricInhPa",
	101: "meanSea",
	102: "heightAboveSea",
	103: "heightAboveGround",
	105: "hybrid",
	106: "depthBelowLand",
	200: "entireAtmosphere",
}

// Units of the forecast time range. GRIB1 uses 254 for seconds, GRIB2 uses 13.
var stepUnits = map[int]time.Duration{
	0:  time.Minute,
	1:  time.Hour,
	2:  24 * time.Hour,
	10: 3 * time.Hour,
	11: 6 * time.Hour,
	12: 12 * time.Hour,
}

func grib1Param(indicator, table int) paramInfo {
	if p, ok := grib1Params[indicator]; ok {
		return p
	}
	return paramInfo{short: fmt.Sprintf("param%d.%d", indicator, table)}
}

func grib2Param(discipline, category, number int) paramInfo {
	if p, ok := grib2Params[[3]int{discipline, category, number}]; ok {
		return p
	}
	return paramInfo{short: fmt.Sprintf("param%d.%d.%d", discipline, category, number)}
}

func levelName(table map[int]string, code int) string {
	if name, ok := table[code]; ok {
		return name
	}
	return fmt.Sprintf("levelType%d", code)
}

func stepDuration(edition, unit int, value int64) (time.Duration, error) {
	if (edition == 1 && unit == 254) || (edition == 2 && unit == 13) {
		return time.Duration(value) * time.Second, nil
	}
	d, ok := stepUnits[unit]
	if !ok {
		return 0, malformed("unknown time range unit %d", unit)
	}
	return time.Duration(value) * d, nil
}
