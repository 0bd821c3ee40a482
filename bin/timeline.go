package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/exporter"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

const FORMAT_POSTGRES = "postgres"

var (
	timeline_command = app.Command(
		"timeline", "Correlate the $MFT, USN journal and $LogFile into a timeline.")

	timeline_command_sources = addArtifactFlags(
		timeline_command, "mft", "usn", "logfile")

	timeline_command_output = addOutputFlags(timeline_command,
		append(exporter.Formats, exporter.FORMAT_SQLITE, FORMAT_POSTGRES)...)

	timeline_command_db = timeline_command.Flag(
		"db", "The database file (sqlite) or connection string (postgres)").
		String()

	timeline_command_host = timeline_command.Flag(
		"host", "The host name recorded in the database").String()

	timeline_command_warnings = timeline_command.Flag(
		"warnings", "Show the damaged regions instead of the events").Bool()
)

func doTimeline() {
	ctx, cancel := getContext()
	defer cancel()

	sources := timeline_command_sources.open()
	defer sources.Close()

	formatter := getFormatter()
	analysis, err := parser.Analyze(ctx, sources.Sources, sources.Geometry,
		formatter.Options)
	kingpin.FatalIfError(err, "Analysis failed")
	formatter.Table = analysis.Table

	printSummary(analysis)

	if *timeline_command_warnings {
		timeline_command_output.write(formatter.WarningRows(analysis.Warnings))
		return
	}

	switch *timeline_command_output.format {
	case exporter.FORMAT_SQLITE, FORMAT_POSTGRES:
		storeTimeline(formatter, analysis.Timeline)
	default:
		timeline_command_output.write(formatter.TimelineRows(analysis.Timeline))
	}
}

func storeTimeline(formatter *exporter.Formatter, timeline *parser.Timeline) {
	driver := *timeline_command_output.format
	dsn := *timeline_command_db
	if dsn == "" {
		dsn = config.Database.DSN
	}
	if dsn == "" && driver == exporter.FORMAT_SQLITE {
		dsn = *timeline_command_output.output
	}
	if dsn == "" {
		kingpin.Fatalf("--db is required for %v output", driver)
	}

	// Inserting is not cancellable.
	ctx := context.Background()
	store, err := exporter.CreateStore(ctx, driver, dsn,
		config.Database.IndexColumns)
	kingpin.FatalIfError(err, "Can not create database")
	defer store.Close()

	events := formatter.Events(timeline, getHost(*timeline_command_host))
	if *timeline_command_output.filter != "" {
		events = exporter.FilterEvents(events, *timeline_command_output.filter)
	}

	inserted, err := store.InsertEvents(ctx, events, func(count int) {
		logger.WithFields(logrus.Fields{"count": count}).Info("Inserting events")
	})
	kingpin.FatalIfError(err, "Can not insert events")

	err = store.UpdateMetadata(ctx)
	kingpin.FatalIfError(err, "Can not update metadata")

	fmt.Fprintf(os.Stderr, "Stored %s events in %v\n",
		humanize.Comma(int64(inserted)), driver)
}

func printSummary(analysis *parser.Analysis) {
	stats := analysis.Stats
	fmt.Fprintf(os.Stderr,
		"%s MFT records, %s journal records, %s log records (%s transactions) "+
			"correlated into %s events in %v\n",
		humanize.Comma(int64(stats.Records)),
		humanize.Comma(int64(stats.UsnRecords)),
		humanize.Comma(int64(stats.LogRecords)),
		humanize.Comma(int64(stats.LogTransactions)),
		humanize.Comma(int64(len(analysis.Timeline.Events))),
		analysis.Duration)

	if len(analysis.Warnings) > 0 {
		fmt.Fprintf(os.Stderr, "%s warnings, use --warnings to list them\n",
			humanize.Comma(int64(len(analysis.Warnings))))
	}
	if analysis.Incomplete {
		fmt.Fprintf(os.Stderr, "Analysis is incomplete\n")
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case timeline_command.FullCommand():
			doTimeline()
		default:
			return false
		}
		return true
	})
}
