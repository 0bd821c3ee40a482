package main

import (
	"github.com/Velocidex/ordereddict"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	mft_command = app.Command(
		"mft", "Parse the $MFT of a volume or an extracted $MFT.")

	mft_command_sources = addArtifactFlags(mft_command, "mft")
	mft_command_output  = addOutputFlags(mft_command)

	mft_command_failures = mft_command.Flag(
		"failures", "Show the slots which could not be decoded").Bool()
)

func doMFT() {
	ctx, cancel := getContext()
	defer cancel()

	sources := mft_command_sources.open()
	defer sources.Close()

	formatter := getFormatter()
	table := sources.loadTable(ctx, formatter.Options)
	if table == nil {
		kingpin.Fatalf("One of --image or --mft is required")
	}
	formatter.Table = table

	if *mft_command_failures {
		rows := []*ordereddict.Dict{}
		for _, failure := range table.Failures {
			rows = append(rows, ordereddict.NewDict().
				Set("EntryNumber", failure.Index).
				Set("Offset", failure.Offset).
				Set("Reason", failure.Reason))
		}
		mft_command_output.write(rows)
		return
	}

	mft_command_output.write(formatter.MftRows(table))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case mft_command.FullCommand():
			doMFT()
		default:
			return false
		}
		return true
	})
}
