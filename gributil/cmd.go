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


// Package gributil contains the command-line interface to gribref.
package gributil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gribref"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to gribref.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum severity of log messages:
              debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Output",
			usage: `
              Output is the file the results are written to. If empty
              or "-", results are written to standard output.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{scanCmd.Flags(), treeCmd.Flags(), idxCmd.Flags()},
		},
		{
			name: "Format",
			usage: `
              Format is the manifest encoding: json or msgpack.`,
			defaultVal: "json",
			flagsets:   []*pflag.FlagSet{scanCmd.Flags(), treeCmd.Flags()},
		},
		{
			name: "Skip",
			usage: `
              Skip is the number of leading bytes of each GRIB file
              that do not belong to any message.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{scanCmd.Flags()},
		},
		{
			name: "MaxMessages",
			usage: `
              MaxMessages, if greater than zero, is the maximum number of
              messages read from each file.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{scanCmd.Flags()},
		},
		{
			name: "Filter",
			usage: `
              Filter keeps only messages whose attributes match. It is
              a JSON object mapping attribute names to lists of accepted
              values, for example {"typeOfLevel":["heightAboveGround"],"level":["2","10"]}.`,
			defaultVal: map[string][]string{},
			flagsets:   []*pflag.FlagSet{scanCmd.Flags()},
		},
		{
			name: "Parallel",
			usage: `
              Parallel is the number of files scanned at the same time.
              Zero means one per processor.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{scanCmd.Flags()},
		},
		{
			name: "Tree",
			usage: `
              Tree specifies whether to merge the messages of all files
              into a single dataset instead of writing one manifest
              per message.`,
			shorthand:  "t",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{scanCmd.Flags()},
		},
		{
			name: "Tables",
			usage: `
              Tables lists TOML files with local parameter, level and
              centre definitions that extend the built-in tables.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{scanCmd.Flags()},
		},
		{
			name: "Storage.Anonymous",
			usage: `
              Storage.Anonymous specifies whether to access cloud buckets
              without credentials.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{scanCmd.Flags(), idxCmd.Flags()},
		},
		{
			name: "Storage.Region",
			usage: `
              Storage.Region is the AWS region of S3 buckets. If empty,
              the AWS_REGION environment variable is used.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{scanCmd.Flags(), idxCmd.Flags()},
		},
		{
			name: "Storage.Endpoint",
			usage: `
              Storage.Endpoint overrides the S3 endpoint, for use with
              S3-compatible object stores.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{scanCmd.Flags(), idxCmd.Flags()},
		},
		{
			name: "Storage.Retries",
			usage: `
              Storage.Retries is the number of times failed HTTP requests
              are retried.`,
			defaultVal: 3,
			flagsets:   []*pflag.FlagSet{scanCmd.Flags(), idxCmd.Flags()},
		},
		{
			name: "Idx.Suffix",
			usage: `
              Idx.Suffix is the extension of index files, which are found
              at <grib file>.<suffix>.`,
			defaultVal: "idx",
			flagsets:   []*pflag.FlagSet{idxCmd.Flags()},
		},
		{
			name: "Idx.Validate",
			usage: `
              Idx.Validate specifies whether to check that every record
              of the index maps to a unique set of attributes.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{idxCmd.Flags()},
		},
		{
			name: "Idx.Exempt",
			usage: `
              Idx.Exempt lists variable short names that are excluded from
              the uniqueness check.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{idxCmd.Flags()},
		},
		{
			name: "Idx.ResolveLength",
			usage: `
              Idx.ResolveLength specifies whether to compute the length of
              the last record from the size of the GRIB file.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{idxCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("GRIBREF")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case map[string][]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(scanCmd)
	Root.AddCommand(treeCmd)
	Root.AddCommand(idxCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and configures logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("gribref: problem reading configuration file: %v", err)
		}
	}
	return setLogger(logrus.StandardLogger(), Cfg.GetString("LogLevel"))
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "gribref",
	Short: "Virtual zarr datasets over GRIB2 files.",
	Long: `gribref indexes GRIB2 files and describes them as zarr datasets whose
chunks are byte ranges of the original files, so that the data can be read
lazily without converting it. Use the subcommands specified below to access
the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'GRIBREF_var' where 'var' is
the name of the variable to be set, with '.' replaced by '_'.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of gribref.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("gribref v%s\n", gribref.Version)
	},
	DisableAutoGenTag: true,
}

// scanCmd scans GRIB2 files and writes their manifests.
var scanCmd = &cobra.Command{
	Use:   "scan url...",
	Short: "Describe the messages in GRIB2 files",
	Long: `scan splits GRIB2 files into messages and writes a reference manifest
for each message, one per line for JSON output. With --Tree, the messages of
all files are merged into a single dataset grouped by variable, step type and
level type.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Scan(cmd.Context(), Cfg, args)
	},
	DisableAutoGenTag: true,
}

// treeCmd merges previously saved single-message manifests.
var treeCmd = &cobra.Command{
	Use:   "tree manifest...",
	Short: "Merge message manifests into one dataset",
	Long: `tree reads manifests written by 'scan' without --Tree and merges
all of their messages into a single dataset grouped by variable, step type
and level type.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Tree(Cfg, args)
	},
	DisableAutoGenTag: true,
}

// idxCmd parses the index file of a GRIB2 file.
var idxCmd = &cobra.Command{
	Use:   "idx url",
	Short: "Parse the index file of a GRIB2 file",
	Long: `idx reads the plain-text index published next to a GRIB2 file and
writes its records as CSV with the columns message_index, sub_index, offset,
length, reference_time, short_name, level and step.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return Idx(cmd.Context(), Cfg, args[0])
	},
	DisableAutoGenTag: true,
}
