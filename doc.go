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

// Package gribref builds virtual zarr datasets over GRIB2 files.
//
// A GRIB2 file is a sequence of self-contained messages. ScanGrib splits a
// file into messages, decodes the metadata of each one and describes it as
// a single-message zarr group whose data chunk is a byte-range reference
// into the original file. GribTree then merges many such groups into one
// dataset organized as variable/stepType/typeOfLevel, concatenating the
// time, step and level coordinates. The result is written as a reference
// Manifest that array readers can use to read the original bytes lazily.
//
// ParseIdx reads the plain-text ".idx" inventories that many producers
// publish next to their GRIB2 files.
package gribref

// Version gives the version number.
const Version = "0.1.0"
