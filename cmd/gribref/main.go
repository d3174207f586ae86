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


// Command gribref is a command-line interface for indexing GRIB2 files as
// virtual zarr datasets.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/gribref/gributil"
)

func main() {
	if err := gributil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
