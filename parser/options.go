package parser

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxLinks             = 20
	DefaultMaxDirectoryDepth    = 20
	DefaultCorrelationTolerance = time.Second
	DefaultMaxUsnRecordSize     = 0x10000
)

type Options struct {
	// Include DOS short names when computing hard link paths.
	IncludeShortNames bool

	// Max number of links to retrieve
	MaxLinks int

	// Maximum directory depth to analyze for paths.
	MaxDirectoryDepth int

	// Adjacent events of the same kind for the same file are
	// collapsed when they are at most this far apart.
	CorrelationTolerance time.Duration

	// USN records declaring a larger length are treated as corrupt.
	MaxUsnRecordSize int64

	// Keep extension records as separate entries in the table in
	// addition to merging them into their base record.
	KeepExtensionRecords bool

	// Pipeline level logging. Parsers never log per record.
	Logger logrus.FieldLogger
}

func GetDefaultOptions() Options {
	return Options{
		IncludeShortNames:    false,
		MaxLinks:             DefaultMaxLinks,
		MaxDirectoryDepth:    DefaultMaxDirectoryDepth,
		CorrelationTolerance: DefaultCorrelationTolerance,
		MaxUsnRecordSize:     DefaultMaxUsnRecordSize,
		KeepExtensionRecords: true,
	}
}

// Fill in zero values with the defaults.
func (self Options) normalize() Options {
	defaults := GetDefaultOptions()
	if self.MaxLinks <= 0 {
		self.MaxLinks = defaults.MaxLinks
	}
	if self.MaxDirectoryDepth <= 0 {
		self.MaxDirectoryDepth = defaults.MaxDirectoryDepth
	}
	if self.CorrelationTolerance < 0 {
		self.CorrelationTolerance = 0
	}
	if self.MaxUsnRecordSize <= 0 {
		self.MaxUsnRecordSize = defaults.MaxUsnRecordSize
	}
	if self.Logger == nil {
		self.Logger = discardLogger()
	}
	return self
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
