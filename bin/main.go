package main

import (
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

const VERSION = "1.0.0"

type CommandHandler func(command string) bool

var (
	app = kingpin.New("gontfs-timeline",
		"Build forensic timelines from the NTFS $MFT, $UsnJrnl:$J and $LogFile.")

	verbose_flag = app.Flag("verbose", "Log progress to stderr").
			Short('v').Bool()

	config_flag = app.Flag("config", "A YAML config file").ExistingFile()

	record_directory = app.Flag(
		"record", "Path to read/write recorded data").
		Default("").String()

	timezone_flag = app.Flag("timezone",
		"Timezone of exported timestamps (e.g. Asia/Seoul)").String()

	command_handlers []CommandHandler
)

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)
	app.Version(VERSION)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	initLogging()
	loadConfig()

	for _, command_handler := range command_handlers {
		if command_handler(command) {
			break
		}
	}
}
