// Package cli implements the bodewell command: it parses the command line,
// enables plugins, loads the configuration, registers the configured monitors
// and runs the service until it is signaled to stop.
package cli

import (
	"context"
	"io"
	"os"

	"git.unix.lgbt/diamondburned/bodewell/bodewell"
	"git.unix.lgbt/diamondburned/bodewell/bodewell/journal"
	"git.unix.lgbt/diamondburned/bodewell/config"
	"git.unix.lgbt/diamondburned/bodewell/plugin"
)

// DefaultEnv returns the environment of a real process.
func DefaultEnv(program string) Env {
	loader := plugin.NewLoader(plugin.DefaultDir)

	return Env{
		Program: program,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,

		NewService: func() *bodewell.Service {
			return bodewell.New(bodewell.Options{
				Console: func(w io.Writer) bodewell.Journaler {
					return journal.NewHumanWriter(w)
				},
				OpenLog: journal.OpenLogFile,
			})
		},

		Resolver: loader,
		Lister:   loader,

		LoadConfig:   config.Load,
		ExpandConfig: config.Expand,

		LastRun: journal.LastRunFromFile,

		Signals: notifySignals,
	}
}

// Main runs bodewell with os.Args-style arguments and returns the exit code.
func Main(args []string) int {
	program := "bodewell"
	if len(args) > 0 {
		program, args = args[0], args[1:]
	}

	return Run(context.Background(), DefaultEnv(program), args)
}
