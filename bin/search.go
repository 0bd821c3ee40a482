package main

import (
	"context"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/exporter"
)

var (
	search_command = app.Command(
		"search", "Search a stored timeline database.")

	search_command_keyword = search_command.Arg(
		"keyword", "Case insensitive keyword").Required().String()

	search_command_db = search_command.Flag(
		"db", "The database file (sqlite) or connection string (postgres)").
		String()

	search_command_driver = search_command.Flag(
		"driver", "The database driver").
		Default(exporter.FORMAT_SQLITE).Enum(exporter.FORMAT_SQLITE, FORMAT_POSTGRES)

	search_command_limit = search_command.Flag(
		"limit", "Maximum number of events (0 for all)").Default("0").Int()

	search_command_output = addOutputFlags(search_command)
)

func doSearch() {
	ctx := context.Background()

	dsn := *search_command_db
	if dsn == "" {
		dsn = config.Database.DSN
	}
	if dsn == "" {
		kingpin.Fatalf("--db is required")
	}

	store, err := exporter.OpenStore(ctx, *search_command_driver, dsn)
	kingpin.FatalIfError(err, "Can not open database")
	defer store.Close()

	events, err := store.SearchEvents(ctx, *search_command_keyword,
		*search_command_limit)
	kingpin.FatalIfError(err, "Search failed")

	search_command_output.write(exporter.EventRows(events))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case search_command.FullCommand():
			doSearch()
		default:
			return false
		}
		return true
	})
}
