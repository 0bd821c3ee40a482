package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/dustin/go-humanize"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/exporter"
	"www.velocidex.com/golang/go-ntfs-timeline/volume"
)

var (
	info_command = app.Command(
		"info", "Show the tool capabilities or the geometry of an image.")

	info_command_image = info_command.Flag(
		"image", "A raw image of an NTFS volume").ExistingFile()

	info_command_image_offset = info_command.Flag(
		"image_offset", "The offset of the volume in the image").
		Default("0").Int64()
)

func doInfo() {
	if *info_command_image == "" {
		rows := []*ordereddict.Dict{
			ordereddict.NewDict().Set("Key", "Version").Set("Value", VERSION),
			ordereddict.NewDict().Set("Key", "Artifacts").
				Set("Value", "$MFT, $UsnJrnl:$J, $LogFile"),
			ordereddict.NewDict().Set("Key", "Formats").
				Set("Value", strings.Join(append(exporter.Formats,
					exporter.FORMAT_SQLITE, FORMAT_POSTGRES), ", ")),
			ordereddict.NewDict().Set("Key", "Timezone").Set("Value", getTimezone()),
		}
		exporter.WriteTable(os.Stdout, rows, "gontfs-timeline")
		return
	}

	reader, fd, err := volume.Open(*info_command_image,
		*info_command_image_offset, *record_directory)
	kingpin.FatalIfError(err, "Can not open image")
	defer fd.Close()
	defer reader.Close()

	buf := make([]byte, volume.BOOT_SECTOR_SIZE)
	_, err = reader.ReadAt(buf, 0)
	kingpin.FatalIfError(err, "Can not read boot sector")

	boot, err := volume.ParseBootSector(buf)
	kingpin.FatalIfError(err, "Can not parse boot sector")

	geometry, err := boot.Geometry()
	kingpin.FatalIfError(err, "Invalid boot sector")

	volume_size := boot.VolumeSectors * uint64(boot.SectorSize)
	rows := []*ordereddict.Dict{
		ordereddict.NewDict().Set("Key", "OemId").Set("Value", boot.OemId),
		ordereddict.NewDict().Set("Key", "Serial").
			Set("Value", fmt.Sprintf("%016X", boot.Serial)),
		ordereddict.NewDict().Set("Key", "VolumeSize").
			Set("Value", humanize.Bytes(volume_size)),
		ordereddict.NewDict().Set("Key", "BytesPerSector").
			Set("Value", geometry.BytesPerSector),
		ordereddict.NewDict().Set("Key", "BytesPerCluster").
			Set("Value", humanize.Bytes(uint64(geometry.BytesPerCluster))),
		ordereddict.NewDict().Set("Key", "MftStartCluster").
			Set("Value", geometry.MftStartCluster),
		ordereddict.NewDict().Set("Key", "MftOffset").
			Set("Value", fmt.Sprintf("%#x", geometry.MftOffset())),
		ordereddict.NewDict().Set("Key", "MftMirrCluster").
			Set("Value", boot.MftMirrCluster),
		ordereddict.NewDict().Set("Key", "MftRecordSize").
			Set("Value", geometry.MftRecordSize),
		ordereddict.NewDict().Set("Key", "ClustersPerIndexBlock").
			Set("Value", geometry.ClustersPerIndexBlock),
	}
	exporter.WriteTable(os.Stdout, rows, *info_command_image)
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case info_command.FullCommand():
			doInfo()
		default:
			return false
		}
		return true
	})
}
