// Package main implements a classic Macintosh ROM unlinker.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/retroenv/m68kunlink/internal/config"
	"github.com/retroenv/m68kunlink/internal/manual"
	"github.com/retroenv/m68kunlink/internal/unlink"
	"github.com/retroenv/m68kunlink/internal/vectortable"
	"github.com/retroenv/retrogolib/buildinfo"
)

var (
	version = "0.1.0"
	commit  = ""
	date    = ""
)

func main() {
	options := readArguments()

	logger := config.CreateLogger(options.Debug, options.Quiet)
	if !options.Quiet {
		printBanner()
	}

	summary, err := unlink.Run(logger, unlink.Options{
		ROMPath:     options.ROMPath,
		SourcePath:  options.SourcePath,
		OutputDir:   options.OutputDir,
		DumpVectors: options.DumpVectors,
		DumpTraps:   options.DumpTraps,
		DryRun:      options.DryRun,
	})
	if err != nil {
		exitOnFatalError(err)
	}

	if options.DumpVectors {
		for _, r := range summary.VectorRecords {
			fmt.Printf("vector %04X:%04X -> %06X\n", r.TableID, r.VOffset, r.RoutineOffset)
		}
	}
	if options.DumpTraps {
		for _, r := range summary.TrapRecords {
			fmt.Printf("trap %04X -> %06X\n", r.TrapNumber, r.RoutineOffset)
		}
	}

	if !options.Quiet {
		fmt.Printf("modules: %d, files written: %d, unresolved references: %d\n",
			len(summary.ModuleRanges), len(summary.FilesWritten), summary.Unresolved)
	}
}

// exitOnFatalError dispatches on the annotation/ROM structural error types
// unlink.Run can return, printing a message tailored to the offending
// category before exiting, mirroring the root main.go's errors.As(err,
// &usageErr) pattern.
func exitOnFatalError(err error) {
	var outOfOrder *manual.OutOfOrderError
	var malformedInit *vectortable.MalformedVectorInitError
	var badIslandGuess *unlink.InvalidIslandGuessOffsetError

	switch {
	case errors.As(err, &outOfOrder):
		fmt.Printf("annotation file is out of order: %s\n", outOfOrder)
	case errors.As(err, &malformedInit):
		fmt.Printf("ROM vector-init walk is malformed: %s\n", malformedInit)
	case errors.As(err, &badIslandGuess):
		fmt.Printf("annotation file is invalid: %s\n", badIslandGuess)
	default:
		fmt.Println(fmt.Errorf("unlinking failed: %w", err))
	}
	os.Exit(1)
}

func readArguments() config.Options {
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	options := config.Options{}

	flags.BoolVar(&options.Debug, "debug", false, "enable debug logging")
	flags.BoolVar(&options.Quiet, "q", false, "perform operations quietly")
	flags.BoolVar(&options.DumpVectors, "dump-vectors", false, "print the recovered vector table to stdout")
	flags.BoolVar(&options.DumpTraps, "dump-traps", false, "print the recovered trap table to stdout")
	flags.BoolVar(&options.DryRun, "n", false, "dry run: build every module but write no object files")
	flags.StringVar(&options.OutputDir, "o", "", "output directory for written objects, defaults to the ROM's own directory")

	if err := flags.Parse(os.Args[1:]); err != nil || flags.NArg() == 0 {
		printBanner()
		fmt.Printf("usage: unlink [options] ROM\n       unlink [options] SRC ROM\n\n")
		flags.PrintDefaults()
		os.Exit(1)
	}

	switch flags.NArg() {
	case 1:
		options.ROMPath = flags.Arg(0)
	case 2:
		options.SourcePath = flags.Arg(0)
		options.ROMPath = flags.Arg(1)
	default:
		printBanner()
		fmt.Printf("usage: unlink [options] ROM\n       unlink [options] SRC ROM\n\n")
		flags.PrintDefaults()
		os.Exit(1)
	}

	return options
}

func printBanner() {
	fmt.Println("[--------------------------------------]")
	fmt.Println("[ unlink - classic Mac ROM unlinker     ]")
	fmt.Printf("[--------------------------------------]\n\n")
	fmt.Printf("version: %s\n\n", buildinfo.Version(version, commit, date))
}
