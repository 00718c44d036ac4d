// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// optiling computes the tiling of operators from their JSON description and compile info, and runs shape
// inference over JSON graphs.
//
// Usage:
//
//	optiling [klog flags] <command> [command flags]
//
// Commands:
//
//	tiling  Computes the tiling of one operator.
//	sweep   Computes the tiling of one operator for a range of values of one input dimension.
//	infer   Runs shape inference over a graph of operators.
//	ops     Lists the supported operator types.
//
// Flags taking a JSON value accept either the JSON text or "@<path>" to read it from a file.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type command struct {
	name, usage string
	run         func(args []string) error
}

var commands = []command{
	{"tiling", "Computes the tiling of one operator.", runTiling},
	{"sweep", "Computes the tiling of one operator for a range of values of one input dimension.", runSweep},
	{"infer", "Runs shape inference over a graph of operators.", runInfer},
	{"ops", "Lists the supported operator types.", runOps},
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", os.Args[0])
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(out, "  %-8s %s\n", cmd.name, cmd.usage)
	}
	_, _ = fmt.Fprintf(out, "\nSee '%s <command> -help' for the command flags.\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing command. See '%s -help'.", os.Args[0])
		os.Exit(1)
	}
	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		var err error
		if exception := exceptions.TryCatch[error](func() { err = cmd.run(args[1:]) }); exception != nil {
			err = exception
		}
		if err != nil {
			if errors.Is(err, flag.ErrHelp) {
				os.Exit(0)
			}
			klog.Errorf("%s failed: %+v", cmd.name, err)
			os.Exit(1)
		}
		return
	}
	klog.Errorf("Unknown command %q, valid commands are: %s", args[0], commandNames())
	os.Exit(1)
}

func commandNames() string {
	names := make([]string, len(commands))
	for ii, cmd := range commands {
		names[ii] = cmd.name
	}
	return strings.Join(names, ", ")
}

// newFlagSet returns the flag set of a command, with usage listing its flags.
func newFlagSet(name string) *flag.FlagSet {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.Usage = func() {
		_, _ = fmt.Fprintf(flagSet.Output(), "Usage: %s %s [flags]\n\nFlags:\n", os.Args[0], name)
		flagSet.PrintDefaults()
	}
	return flagSet
}
