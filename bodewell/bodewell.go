// Package bodewell is the core of the bodewell monitoring service. A Service
// holds a set of named monitors, each built by a monitor kind, and journals
// everything it does as typed events into its sinks.
//
// # Lifecycle
//
// A Service is created, configured, started exactly once and stopped exactly
// once:
//
//	created --Start--> started --Stop--> stopped
//
// Monitors and kinds can only be registered while the service is in the
// created state. Plugins usually register kinds; the configuration file
// declares monitors.
//
// # Verbosity
//
// Every event carries a Level. Events below the threshold of the current
// verbosity are dropped before they reach any sink:
//
//	quiet    warn and error
//	normal   info and up
//	verbose  verbose and up
//	debug    everything
package bodewell
