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
	"math"

	"github.com/ctessum/geom/proj"
	"github.com/spatialmodel/gribref"
)

// Scanning mode flags (flag table 3.4).
const (
	scanNegativeI   = 0x80
	scanPositiveJ   = 0x40
	scanConsecutive = 0x20
)

const microDegrees = 1e-6

func grid(a *gribref.AttributeSet, s section) error {
	if err := s.need(14, "grid definition section"); err != nil {
		return err
	}
	tmpl := s.u16(13)
	n := int(s.u32(7))
	a.Extra["gridDefinitionTemplateNumber"] = tmpl
	a.Extra["numberOfDataPoints"] = n
	switch tmpl {
	case 0:
		return latLonGrid(a, s)
	case 30:
		return lambertGrid(a, s)
	default:
		// Unsupported grids are described by their point count only.
		a.GridType = fmt.Sprintf("grid_template_%d", tmpl)
		a.Nx, a.Ny = n, 0
		return nil
	}
}

// earthShape returns the semi-major and semi-minor axes in metres for
// code table 3.2, read from the first octets of a grid template.
func earthShape(s section) (float64, float64, error) {
	scaled := func(scaleOctet, valueOctet int) float64 {
		return float64(s.u32(valueOctet)) / math.Pow(10, float64(s.u8(scaleOctet)))
	}
	switch shape := s.u8(15); shape {
	case 0:
		return 6367470, 6367470, nil
	case 1:
		r := scaled(16, 17)
		return r, r, nil
	case 2:
		return 6378160, 6356775, nil
	case 3:
		return scaled(21, 22) * 1000, scaled(26, 27) * 1000, nil
	case 4:
		return 6378137, 6356752.314, nil
	case 5:
		return 6378137, 6356752.314245, nil
	case 6:
		return 6371229, 6371229, nil
	case 7:
		return scaled(21, 22), scaled(26, 27), nil
	case 8:
		return 6371200, 6371200, nil
	default:
		return 0, 0, fmt.Errorf("grib2: unsupported shape of the earth %d", shape)
	}
}

func latLonGrid(a *gribref.AttributeSet, s section) error {
	if err := s.need(72, "latitude/longitude grid template"); err != nil {
		return err
	}
	ni, nj := int(s.u32(31)), int(s.u32(35))
	if s.u32(39) != 0 && !missing32(s.u32(39)) {
		return fmt.Errorf("grib2: grids with a non-default basic angle are not supported")
	}
	la1 := float64(s.s32(47)) * microDegrees
	lo1 := float64(s.s32(51)) * microDegrees
	la2 := float64(s.s32(56)) * microDegrees
	lo2 := float64(s.s32(60)) * microDegrees
	scan := s.u8(72)
	if scan&scanConsecutive != 0 {
		return fmt.Errorf("grib2: column-major scanning is not supported")
	}

	var di float64
	if missing32(s.u32(64)) {
		span := lo2 - lo1
		if scan&scanNegativeI != 0 {
			span = lo1 - lo2
		}
		if span < 0 {
			span += 360
		}
		if ni > 1 {
			di = span / float64(ni-1)
		}
	} else {
		di = float64(s.u32(64)) * microDegrees
	}
	if scan&scanNegativeI != 0 {
		di = -di
	}
	a.GridType = "regular_ll"
	a.Nx, a.Ny = ni, nj
	a.Longitudes = make([]float64, ni)
	for i := range a.Longitudes {
		a.Longitudes[i] = lo1 + float64(i)*di
	}
	a.Latitudes = make([]float64, nj)
	for j := range a.Latitudes {
		if nj == 1 {
			a.Latitudes[j] = la1
			break
		}
		a.Latitudes[j] = la1 + float64(j)*(la2-la1)/float64(nj-1)
	}
	a.Extra["iDirectionIncrementInDegrees"] = math.Abs(di)
	a.Extra["jScansPositively"] = scan&scanPositiveJ != 0
	a.Extra["scanningMode"] = scan
	return nil
}

func lambertGrid(a *gribref.AttributeSet, s section) error {
	if err := s.need(81, "Lambert conformal grid template"); err != nil {
		return err
	}
	semiMajor, semiMinor, err := earthShape(s)
	if err != nil {
		return err
	}
	nx, ny := int(s.u32(31)), int(s.u32(35))
	la1 := float64(s.s32(39)) * microDegrees
	lo1 := float64(s.s32(43)) * microDegrees
	lad := float64(s.s32(48)) * microDegrees
	lov := float64(s.s32(52)) * microDegrees
	dx := float64(s.u32(56)) / 1000
	dy := float64(s.u32(60)) / 1000
	scan := s.u8(65)
	latin1 := float64(s.s32(66)) * microDegrees
	latin2 := float64(s.s32(70)) * microDegrees
	if scan&scanConsecutive != 0 {
		return fmt.Errorf("grib2: column-major scanning is not supported")
	}

	a.GridType = "lambert"
	a.Nx, a.Ny = nx, ny
	a.Extra["LaDInDegrees"] = lad
	a.Extra["LoVInDegrees"] = lov
	a.Extra["Latin1InDegrees"] = latin1
	a.Extra["Latin2InDegrees"] = latin2
	a.Extra["DxInMetres"] = dx
	a.Extra["DyInMetres"] = dy
	a.Extra["scanningMode"] = scan

	lcc, err := proj.Parse(fmt.Sprintf(
		"+proj=lcc +lat_1=%g +lat_2=%g +lat_0=%g +lon_0=%g +x_0=0 +y_0=0 +a=%g +b=%g +to_meter=1",
		latin1, latin2, lad, lov, semiMajor, semiMinor))
	if err != nil {
		return err
	}
	ll, err := proj.Parse(fmt.Sprintf("+proj=longlat +a=%g +b=%g", semiMajor, semiMinor))
	if err != nil {
		return err
	}
	forward, err := ll.NewTransform(lcc)
	if err != nil {
		return err
	}
	inverse, err := lcc.NewTransform(ll)
	if err != nil {
		return err
	}
	x0, y0, err := forward(lo1, la1)
	if err != nil {
		return err
	}
	if scan&scanNegativeI != 0 {
		dx = -dx
	}
	if scan&scanPositiveJ == 0 {
		dy = -dy
	}
	a.Latitudes = make([]float64, nx*ny)
	a.Longitudes = make([]float64, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			lon, lat, err := inverse(x0+float64(i)*dx, y0+float64(j)*dy)
			if err != nil {
				return err
			}
			k := j*nx + i
			a.Latitudes[k] = lat
			a.Longitudes[k] = math.Mod(lon+360, 360)
		}
	}
	return nil
}
