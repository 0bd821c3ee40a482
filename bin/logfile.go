package main

import (
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

var (
	logfile_command = app.Command(
		"logfile", "Parse the $LogFile.")

	logfile_command_sources = addArtifactFlags(logfile_command, "logfile")
	logfile_command_output  = addOutputFlags(logfile_command)

	logfile_command_warnings = logfile_command.Flag(
		"warnings", "Show the damaged regions instead of the records").Bool()
)

func doLogFile() {
	ctx, cancel := getContext()
	defer cancel()

	sources := logfile_command_sources.open()
	defer sources.Close()

	formatter := getFormatter()

	source := sources.LogFile
	if source == nil && sources.Volume != nil {
		table := sources.loadTable(ctx, formatter.Options)
		stream, err := parser.OpenLogFile(sources.Volume, table)
		kingpin.FatalIfError(err, "Can not open $LogFile")
		source = stream
	}
	if source == nil {
		kingpin.Fatalf("One of --image or --logfile is required")
	}

	result, err := parser.ParseLogFile(ctx, source, sources.Geometry,
		formatter.Options)
	kingpin.FatalIfError(err, "Can not parse $LogFile")

	logger.WithFields(logrus.Fields{
		"records":      result.Stats.LogRecords,
		"transactions": result.Stats.LogTransactions,
		"segments":     result.Segments,
		"warnings":     len(result.Warnings),
	}).Info("Parsed $LogFile")

	if *logfile_command_warnings {
		logfile_command_output.write(formatter.WarningRows(result.Warnings))
		return
	}
	logfile_command_output.write(formatter.LogRows(result))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case logfile_command.FullCommand():
			doLogFile()
		default:
			return false
		}
		return true
	})
}
