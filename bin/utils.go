package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/Velocidex/ordereddict"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/exporter"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
	"www.velocidex.com/golang/go-ntfs-timeline/volume"
)

// Input flags shared by the commands: either a raw image or the
// extracted artifacts.
type artifactFlags struct {
	image        *string
	image_offset *int64
	mft          *string
	usn          *string
	logfile      *string
}

// Only the named artifact flags (mft, usn, logfile) are added.
func addArtifactFlags(command *kingpin.CmdClause, artifacts ...string) *artifactFlags {
	result := &artifactFlags{
		image: command.Flag(
			"image", "A raw image of an NTFS volume").ExistingFile(),
		image_offset: command.Flag(
			"image_offset", "The offset of the volume in the image").
			Default("0").Int64(),
	}

	for _, artifact := range artifacts {
		switch artifact {
		case "mft":
			result.mft = command.Flag(
				"mft", "An extracted $MFT file").ExistingFile()
		case "usn":
			result.usn = command.Flag(
				"usn", "An extracted $UsnJrnl:$J file").ExistingFile()
		case "logfile":
			result.logfile = command.Flag(
				"logfile", "An extracted $LogFile").ExistingFile()
		}
	}
	return result
}

// openedSources holds open files until the command is done.
type openedSources struct {
	parser.Sources
	Geometry parser.VolumeGeometry
	closers  []io.Closer
}

func (self *openedSources) Close() {
	for _, c := range self.closers {
		c.Close()
	}
}

func (self *artifactFlags) open() *openedSources {
	result := &openedSources{Geometry: parser.DefaultGeometry()}
	if config.Geometry != nil {
		result.Geometry = *config.Geometry
	}

	if *self.image != "" {
		reader, fd, err := volume.Open(*self.image, *self.image_offset,
			*record_directory)
		kingpin.FatalIfError(err, "Can not open image")
		result.closers = append(result.closers, fd, reader)
		result.Volume = reader

		if *record_directory != "" {
			logger.WithFields(logrus.Fields{"dir": *record_directory}).
				Info("Recording reads")
		}

		// Images carry their own geometry.
		result.Geometry, err = volume.GeometryFromBootSector(reader)
		kingpin.FatalIfError(err, "Can not read boot sector")
	}

	open_file := func(path *string) parser.ByteSource {
		if path == nil || *path == "" {
			return nil
		}
		fd, err := volume.NewFileSource(*path)
		kingpin.FatalIfError(err, "Can not open %v", *path)
		result.closers = append(result.closers, fd)
		return fd
	}

	result.MFT = open_file(self.mft)
	result.UsnJrnl = open_file(self.usn)
	result.LogFile = open_file(self.logfile)

	logger.WithFields(logrus.Fields{
		"geometry": result.Geometry,
	}).Debug("Opened sources")

	return result
}

// loadTable walks the MFT from an extracted $MFT or from the image.
func (self *openedSources) loadTable(ctx context.Context,
	options parser.Options) *parser.MftTable {
	var table *parser.MftTable
	var err error

	switch {
	case self.MFT != nil:
		table, err = parser.ParseMFTFile(ctx, self.MFT, self.Geometry, options)
	case self.Volume != nil:
		table, err = parser.ParseMFT(ctx, self.Volume, self.Geometry, options)
	default:
		return nil
	}
	kingpin.FatalIfError(err, "Can not parse $MFT")

	logger.WithFields(logrus.Fields{
		"records":  table.Stats.Records,
		"failures": len(table.Failures),
	}).Info("Parsed $MFT")

	return table
}

// Output flags shared by the commands producing rows.
type outputFlags struct {
	format *string
	output *string
	filter *string
}

func addOutputFlags(command *kingpin.CmdClause, formats ...string) *outputFlags {
	if len(formats) == 0 {
		formats = exporter.Formats
	}
	return &outputFlags{
		format: command.Flag("format", "Output format").
			Default(exporter.FORMAT_JSONL).Enum(formats...),
		output: command.Flag("output", "Write to this file instead of stdout").
			String(),
		filter: command.Flag("filter",
			"Only keep rows containing this keyword (case insensitive)").String(),
	}
}

func (self *outputFlags) write(rows []*ordereddict.Dict) {
	if *self.filter != "" {
		rows = exporter.Search(rows, *self.filter)
	}

	var out io.Writer = os.Stdout
	if *self.output != "" {
		fd, err := os.Create(*self.output)
		kingpin.FatalIfError(err, "Can not create %v", *self.output)
		defer fd.Close()
		out = fd
	}

	err := exporter.WriteRows(out, *self.format, rows)
	kingpin.FatalIfError(err, "Writing output")
}

// Interrupting a command cancels the parsers, which return what they
// have so far.
func getContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
