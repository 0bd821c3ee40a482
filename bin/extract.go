package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

var (
	extract_command = app.Command(
		"extract", "Extract the $MFT, $LogFile and $UsnJrnl:$J from an image.")

	extract_command_sources = addArtifactFlags(extract_command)

	extract_command_dir = extract_command.Arg(
		"dir", "The directory to write to").Required().String()

	extract_command_prefix = extract_command.Flag(
		"prefix", "Prefix for the extracted file names").String()
)

const extract_buffer_size = 1024 * 1024

type extractedArtifact struct {
	name   string
	stream parser.ByteSource
	err    error
}

// writeStream copies a stream to path. Sparse ranges become holes in
// the output so the mostly sparse $J does not fill the disk.
func writeStream(path string, stream parser.ByteSource) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	ranges := []parser.Range{{Offset: 0, Length: stream.Size()}}
	if range_reader, ok := stream.(parser.RangeReader); ok {
		ranges = range_reader.Ranges()
	}

	var written int64
	buf := make([]byte, extract_buffer_size)
	for _, r := range ranges {
		if r.IsSparse {
			continue
		}

		for offset := r.Offset; offset < r.Offset+r.Length; {
			to_read := parser.CapInt64(int64(len(buf)), r.Offset+r.Length-offset)
			n, err := stream.ReadAt(buf[:to_read], offset)
			if n == 0 {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return written, err
			}

			_, err = out.WriteAt(buf[:n], offset)
			if err != nil {
				return written, err
			}
			offset += int64(n)
			written += int64(n)
		}
	}

	return written, out.Truncate(stream.Size())
}

func doExtract() {
	ctx, cancel := getContext()
	defer cancel()

	sources := extract_command_sources.open()
	defer sources.Close()

	if sources.Volume == nil {
		kingpin.Fatalf("--image is required")
	}

	err := os.MkdirAll(*extract_command_dir, 0700)
	kingpin.FatalIfError(err, "Can not create %v", *extract_command_dir)

	options := getOptions()
	mft, err := parser.BootstrapMFT(sources.Volume, sources.Geometry)
	kingpin.FatalIfError(err, "Can not locate $MFT")

	table, err := parser.ParseMFTFile(ctx, mft, sources.Geometry, options)
	kingpin.FatalIfError(err, "Can not parse $MFT")

	log_stream, log_err := parser.OpenLogFile(sources.Volume, table)
	usn_stream, usn_err := parser.OpenUsnJournal(sources.Volume, table)

	streams := []extractedArtifact{
		{name: "MFT", stream: mft},
		{name: "LogFile", stream: log_stream, err: log_err},
		{name: "UsnJrnl_J", stream: usn_stream, err: usn_err},
	}

	for _, s := range streams {
		if s.err != nil {
			logger.WithFields(logrus.Fields{
				"artifact": s.name,
				"error":    s.err,
			}).Warn("Unable to locate artifact")
			continue
		}

		path := filepath.Join(*extract_command_dir, *extract_command_prefix+s.name)
		written, err := writeStream(path, s.stream)
		kingpin.FatalIfError(err, "Can not write %v", path)

		fmt.Printf("%v: %v (%v allocated)\n", path,
			humanize.Bytes(uint64(s.stream.Size())),
			humanize.Bytes(uint64(written)))
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case extract_command.FullCommand():
			doExtract()
		default:
			return false
		}
		return true
	})
}
