package main

import (
	"os"
	"time"

	"github.com/Velocidex/yaml/v2"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-ntfs-timeline/exporter"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

// Config is read from the --config file. Command line flags win over
// the file.
type Config struct {
	Timezone string `yaml:"timezone"`
	Host     string `yaml:"host"`

	// Used for extracted artifacts which carry no boot sector.
	Geometry *parser.VolumeGeometry `yaml:"geometry"`

	IncludeShortNames    bool   `yaml:"include_short_names"`
	MaxLinks             int    `yaml:"max_links"`
	MaxDirectoryDepth    int    `yaml:"max_directory_depth"`
	CorrelationTolerance string `yaml:"correlation_tolerance"`
	MaxUsnRecordSize     int64  `yaml:"max_usn_record_size"`

	Database DatabaseConfig `yaml:"database"`
}

type DatabaseConfig struct {
	Driver       string   `yaml:"driver"`
	DSN          string   `yaml:"dsn"`
	IndexColumns []string `yaml:"index_columns"`
}

var (
	config = &Config{}
	logger = logrus.New()
)

func initLogging() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose_flag {
		logger.SetLevel(logrus.DebugLevel)
	}
}

func loadConfig() {
	if *config_flag == "" {
		return
	}

	data, err := os.ReadFile(*config_flag)
	kingpin.FatalIfError(err, "Can not read config")

	err = yaml.UnmarshalStrict(data, config)
	kingpin.FatalIfError(err, "Can not parse config %v", *config_flag)

	logger.WithFields(logrus.Fields{"path": *config_flag}).
		Debug("Loaded config")
}

func getOptions() parser.Options {
	options := parser.GetDefaultOptions()
	options.Logger = logger
	options.IncludeShortNames = config.IncludeShortNames

	if config.MaxLinks > 0 {
		options.MaxLinks = config.MaxLinks
	}
	if config.MaxDirectoryDepth > 0 {
		options.MaxDirectoryDepth = config.MaxDirectoryDepth
	}
	if config.MaxUsnRecordSize > 0 {
		options.MaxUsnRecordSize = config.MaxUsnRecordSize
	}
	if config.CorrelationTolerance != "" {
		tolerance, err := time.ParseDuration(config.CorrelationTolerance)
		kingpin.FatalIfError(err, "correlation_tolerance")
		options.CorrelationTolerance = tolerance
	}
	return options
}

func getTimezone() string {
	if *timezone_flag != "" {
		return *timezone_flag
	}
	if config.Timezone != "" {
		return config.Timezone
	}
	return exporter.DEFAULT_TIMEZONE
}

func getFormatter() *exporter.Formatter {
	formatter, err := exporter.NewFormatter(getTimezone())
	kingpin.FatalIfError(err, "Invalid timezone")
	formatter.Options = getOptions()
	return formatter
}

func getHost(flag string) string {
	if flag != "" {
		return flag
	}
	return config.Host
}
