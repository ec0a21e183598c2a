// Package config handles application configuration and setup.
package config

import (
	"github.com/retroenv/retrogolib/log"
)

// Options are the run-time settings collected from the command line.
type Options struct {
	ROMPath     string
	SourcePath  string // empty in the one-argument CLI form
	OutputDir   string // defaults to the ROM's own directory
	Debug       bool
	Quiet       bool
	DumpVectors bool
	DumpTraps   bool
	DryRun      bool // forces every FILE range to be treated as if WRITEOUT were absent
}

// CreateLogger creates a logger with appropriate settings.
func CreateLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	switch {
	case debug:
		cfg.Level = log.DebugLevel
	case quiet:
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}
