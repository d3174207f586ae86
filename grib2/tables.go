/*
Copyright © 2024 the gribref authors.
This file is part of gribref.

gribref is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gribref is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gribref.  If not, see <http://www.gnu.org/licenses/>.
*/


package grib2

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Parameter describes a meteorological parameter.
type Parameter struct {
	Discipline int    `toml:"discipline"`
	Category   int    `toml:"category"`
	Number     int    `toml:"number"`
	ShortName  string `toml:"shortName"`
	Name       string `toml:"name"`
	Units      string `toml:"units"`
}

// Level maps a fixed surface type (code table 4.5) to a level type name.
// Scale divides the stored level value, e.g. 100 to report Pa in hPa.
type Level struct {
	Code        int     `toml:"code"`
	TypeOfLevel string  `toml:"typeOfLevel"`
	Scale       float64 `toml:"scale"`
}

// Centre describes an originating centre (common code table C-11).
type Centre struct {
	Code         int    `toml:"code"`
	Abbreviation string `toml:"abbreviation"`
	Description  string `toml:"description"`
}

type paramKey struct{ discipline, category, number int }

// Tables holds the lookup tables used to name decoded messages.
type Tables struct {
	params  map[paramKey]Parameter
	levels  map[int]Level
	centres map[int]Centre
}

// tableFile is the layout of a TOML local definition file.
type tableFile struct {
	Parameter []Parameter
	Level     []Level
	Centre    []Centre
}

// DefaultTables returns the built-in tables, which cover the common WMO
// parameters plus NCEP local entries used by HRRR and GFS.
func DefaultTables() *Tables {
	t := &Tables{
		params:  make(map[paramKey]Parameter),
		levels:  make(map[int]Level),
		centres: make(map[int]Centre),
	}
	t.add(&builtin)
	return t
}

// LoadTables returns the built-in tables extended by the TOML local
// definition files at paths. Later entries replace earlier ones.
func LoadTables(paths ...string) (*Tables, error) {
	t := DefaultTables()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrap(err, "grib2: opening local definitions")
		}
		err = t.Read(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "grib2: reading %s", p)
		}
	}
	return t, nil
}

// Read adds the definitions in the TOML document r to t.
func (t *Tables) Read(r io.Reader) error {
	var f tableFile
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return err
	}
	for _, p := range f.Parameter {
		if p.ShortName == "" {
			return fmt.Errorf("grib2: parameter %d.%d.%d has no short name", p.Discipline, p.Category, p.Number)
		}
	}
	for _, l := range f.Level {
		if l.TypeOfLevel == "" {
			return fmt.Errorf("grib2: level %d has no type name", l.Code)
		}
	}
	t.add(&f)
	return nil
}

func (t *Tables) add(f *tableFile) {
	for _, p := range f.Parameter {
		t.params[paramKey{p.Discipline, p.Category, p.Number}] = p
	}
	for _, l := range f.Level {
		if l.Scale == 0 {
			l.Scale = 1
		}
		t.levels[l.Code] = l
	}
	for _, c := range f.Centre {
		t.centres[c.Code] = c
	}
}

// Parameter returns the named parameter. Unknown parameters are named
// "unknown".
func (t *Tables) Parameter(discipline, category, number int) (Parameter, bool) {
	p, ok := t.params[paramKey{discipline, category, number}]
	if !ok {
		return Parameter{
			Discipline: discipline, Category: category, Number: number,
			ShortName: "unknown", Name: "unknown", Units: "unknown",
		}, false
	}
	return p, true
}

// Level returns the level type for a fixed surface code.
func (t *Tables) Level(code int) (Level, bool) {
	l, ok := t.levels[code]
	if !ok {
		return Level{Code: code, TypeOfLevel: "unknown", Scale: 1}, false
	}
	return l, true
}

// Centre returns the originating centre for code.
func (t *Tables) Centre(code int) Centre {
	c, ok := t.centres[code]
	if !ok {
		s := strconv.Itoa(code)
		return Centre{Code: code, Abbreviation: s, Description: s}
	}
	return c
}

// statProcess names the statistical processes of code table 4.10.
var statProcess = map[int]string{
	0: "avg",
	1: "accum",
	2: "max",
	3: "min",
	4: "diff",
	5: "rms",
	6: "sd",
	7: "cov",
	9: "ratio",
}

var builtin = tableFile{
	Parameter: []Parameter{
		{0, 0, 0, "t", "Temperature", "K"},
		{0, 0, 6, "dpt", "Dew point temperature", "K"},
		{0, 1, 0, "q", "Specific humidity", "kg kg**-1"},
		{0, 1, 1, "r", "Relative humidity", "%"},
		{0, 1, 8, "tp", "Total Precipitation", "kg m**-2"},
		{0, 2, 2, "u", "U component of wind", "m s**-1"},
		{0, 2, 3, "v", "V component of wind", "m s**-1"},
		{0, 2, 22, "gust", "Wind speed (gust)", "m s**-1"},
		{0, 3, 0, "sp", "Surface pressure", "Pa"},
		{0, 3, 1, "prmsl", "Pressure reduced to MSL", "Pa"},
		{0, 3, 5, "gh", "Geopotential height", "gpm"},
		{0, 4, 7, "sdswrf", "Surface downward short-wave radiation flux", "W m**-2"},
		{0, 4, 200, "vbdsf", "Visible Beam Downward Solar Flux", "W m**-2"},
		{0, 4, 201, "vddsf", "Visible Diffuse Downward Solar Flux", "W m**-2"},
		{0, 6, 1, "tcc", "Total Cloud Cover", "%"},
		{0, 16, 195, "refd", "Derived radar reflectivity", "dB"},
		{0, 16, 196, "refc", "Maximum/Composite radar reflectivity", "dB"},
		{0, 19, 0, "vis", "Visibility", "m"},
		{2, 0, 0, "lsm", "Land-sea mask", "(0 - 1)"},
		{10, 2, 0, "siconc", "Sea ice area fraction", "(0 - 1)"},
	},
	Level: []Level{
		{Code: 1, TypeOfLevel: "surface"},
		{Code: 2, TypeOfLevel: "cloudBase"},
		{Code: 3, TypeOfLevel: "cloudTop"},
		{Code: 4, TypeOfLevel: "isothermZero"},
		{Code: 6, TypeOfLevel: "maxWind"},
		{Code: 7, TypeOfLevel: "tropopause"},
		{Code: 8, TypeOfLevel: "nominalTop"},
		{Code: 10, TypeOfLevel: "atmosphere"},
		{Code: 100, TypeOfLevel: "isobaricInhPa", Scale: 100},
		{Code: 101, TypeOfLevel: "meanSea"},
		{Code: 102, TypeOfLevel: "heightAboveSea"},
		{Code: 103, TypeOfLevel: "heightAboveGround"},
		{Code: 104, TypeOfLevel: "sigma"},
		{Code: 105, TypeOfLevel: "hybrid"},
		{Code: 106, TypeOfLevel: "depthBelowLand"},
		{Code: 108, TypeOfLevel: "pressureFromGround", Scale: 100},
		{Code: 200, TypeOfLevel: "atmosphereSingleLayer"},
	},
	Centre: []Centre{
		{7, "kwbc", "US National Weather Service - NCEP"},
		{34, "rjtd", "Japanese Meteorological Agency - Tokyo"},
		{54, "cwao", "Canadian Meteorological Service - Montreal"},
		{74, "egrr", "U.K. Met Office - Exeter"},
		{78, "edzw", "Offenbach (RSMC)"},
		{85, "lfpw", "French Weather Service - Toulouse"},
		{98, "ecmf", "European Centre for Medium-Range Weather Forecasts"},
	},
}
