// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package envflag lets environment variables stand in for command line
// flags that were not set explicitly.
package envflag

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
)

// Parse exposes every flag in the default FlagSet (flag.CommandLine) as an
// environment variable of the form PREFIX_FLAGNAME.  Flags not set on the
// command line take their value from the environment, and each flag's usage
// string gains the variable name.  Call after flag.Parse.
func Parse(prefix string) {
	apply(prefix, flag.CommandLine)
}

func apply(prefix string, fs *flag.FlagSet) {
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		name := fmt.Sprintf("%s_%s", prefix, strings.ToUpper(f.Name))
		name = strings.ReplaceAll(name, "-", "_")

		if val := os.Getenv(name); val != "" && !explicit[f.Name] {
			if err := fs.Set(f.Name, val); err != nil {
				log.Printf("error setting flag %s from %s: %v", f.Name, name, err)
			}
		}

		f.Usage = fmt.Sprintf("%s [%s]", f.Usage, name)
	})
}
