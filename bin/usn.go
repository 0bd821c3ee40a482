package main

import (
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

var (
	usn_command = app.Command(
		"usn", "Parse the USN journal ($UsnJrnl:$J).")

	usn_command_sources = addArtifactFlags(usn_command, "mft", "usn")
	usn_command_output  = addOutputFlags(usn_command)

	usn_command_start_offset = usn_command.Flag(
		"start_offset", "Start parsing at this offset in the journal").
		Default("0").Int64()
)

func doUSN() {
	ctx, cancel := getContext()
	defer cancel()

	sources := usn_command_sources.open()
	defer sources.Close()

	formatter := getFormatter()

	// The MFT resolves parent references to paths and locates the
	// journal on an image.
	table := sources.loadTable(ctx, formatter.Options)
	formatter.Table = table

	source := sources.UsnJrnl
	if source == nil && sources.Volume != nil && table != nil {
		stream, err := parser.OpenUsnJournal(sources.Volume, table)
		kingpin.FatalIfError(err, "Can not open $UsnJrnl:$J")
		source = stream
	}
	if source == nil {
		kingpin.Fatalf("One of --image or --usn is required")
	}

	journal, err := parser.ParseUSNJournal(ctx, source, sources.Geometry,
		*usn_command_start_offset, formatter.Options)
	kingpin.FatalIfError(err, "Can not parse USN journal")

	logger.WithFields(logrus.Fields{
		"records":    journal.Stats.UsnRecords,
		"gaps":       journal.Stats.UsnGaps,
		"incomplete": journal.Incomplete,
	}).Info("Parsed USN journal")

	usn_command_output.write(formatter.UsnRows(journal.Entries))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case usn_command.FullCommand():
			doUSN()
		default:
			return false
		}
		return true
	})
}
