package parser

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sources names the inputs of an analysis. Either a whole volume is
// given and the artifacts are located through its MFT, or the
// extracted artifacts are given directly. Missing artifacts are
// skipped.
type Sources struct {
	Volume ByteSource

	MFT     ByteSource
	UsnJrnl ByteSource
	LogFile ByteSource

	// Where to start reading the journal.
	UsnStartOffset int64
}

type Analysis struct {
	Geometry VolumeGeometry `json:"geometry"`
	Table    *MftTable      `json:"-"`
	Journal  *UsnJournal    `json:"-"`
	LogFile  *LogFileResult `json:"-"`
	Timeline *Timeline      `json:"-"`

	Warnings   []Warning `json:"warnings"`
	Stats      *Stats    `json:"-"`
	Incomplete bool      `json:"incomplete,omitempty"`
	Duration   time.Duration
}

// Analyze runs the three parsers in parallel and correlates their
// output once all of them are done. Only an invalid geometry or the
// absence of any readable artifact fails the analysis. A cancelled
// analysis returns what was parsed so far with Incomplete set.
func Analyze(ctx context.Context, sources Sources,
	geometry VolumeGeometry, options Options) (*Analysis, error) {
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}

	options = options.normalize()
	logger := options.Logger
	start := time.Now()

	result := &Analysis{
		Geometry: geometry,
		Warnings: []Warning{},
		Stats:    &Stats{},
	}

	// Artifacts which can not be located on the volume are skipped.
	mft_source := sources.MFT
	log_source := sources.LogFile
	if sources.Volume != nil {
		if mft_source == nil {
			mft_reader, err := BootstrapMFT(sources.Volume, geometry)
			if err != nil {
				logger.WithFields(logrus.Fields{"error": err}).
					Warn("Unable to locate $MFT")
			} else {
				mft_source = mft_reader
			}
		}

		if log_source == nil && mft_source != nil {
			log_source, err = locateLogFile(sources.Volume, mft_source, geometry)
			if err != nil {
				logger.WithFields(logrus.Fields{"error": err}).
					Warn("Unable to locate $LogFile")
			}
		}
	}

	if mft_source == nil && sources.UsnJrnl == nil && log_source == nil {
		return nil, errors.Wrap(ErrNotAvailable, "Analyze: no artifacts")
	}

	var g errgroup.Group

	var journal *UsnJournal
	parse_journal := func(usn_source ByteSource) error {
		parsed, err := ParseUSNJournal(ctx, usn_source, geometry,
			sources.UsnStartOffset, options)
		if err != nil {
			return errors.Wrap(err, "USN journal")
		}
		journal = parsed
		return nil
	}

	if sources.UsnJrnl != nil {
		g.Go(func() error {
			return parse_journal(sources.UsnJrnl)
		})
	}

	// The journal of a volume can only be found once the MFT is
	// walked so it runs after the walk on the same worker.
	g.Go(func() error {
		if mft_source != nil {
			table, err := ParseMFTFile(ctx, mft_source, geometry, options)
			if err != nil {
				return errors.Wrap(err, "MFT")
			}
			result.Table = table
		}

		if sources.UsnJrnl != nil || sources.Volume == nil ||
			result.Table == nil {
			return nil
		}

		stream, err := OpenUsnJournal(sources.Volume, result.Table)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err}).
				Warn("Unable to locate $UsnJrnl:$J")
			return nil
		}
		return parse_journal(stream)
	})

	var log_result *LogFileResult
	g.Go(func() error {
		if log_source == nil {
			return nil
		}
		parsed, err := ParseLogFile(ctx, log_source, geometry, options)
		if err != nil {
			return errors.Wrap(err, "LogFile")
		}
		log_result = parsed
		return nil
	})

	err = g.Wait()
	if err != nil {
		return nil, err
	}
	result.LogFile = log_result
	result.Journal = journal

	// Correlation needs all the evidence.
	var usn_entries []UsnEntry
	if result.Journal != nil {
		usn_entries = result.Journal.Entries
		result.Stats.Merge(result.Journal.Stats)
		result.Incomplete = result.Incomplete || result.Journal.Incomplete
		for _, gap := range result.Journal.Gaps() {
			result.Warnings = append(result.Warnings, Warning{
				Kind:    WarningJournalGap,
				Offset:  gap.Offset,
				Length:  gap.Length,
				Message: gap.Reason,
			})
		}
	}

	var transactions []*Transaction
	if result.LogFile != nil {
		transactions = result.LogFile.Transactions
		result.Stats.Merge(result.LogFile.Stats)
		result.Incomplete = result.Incomplete || result.LogFile.Incomplete
		result.Warnings = append(result.Warnings, result.LogFile.Warnings...)
	}

	if result.Table != nil {
		result.Stats.Merge(result.Table.Stats)
		result.Incomplete = result.Incomplete || result.Table.Incomplete
	}

	if ctx.Err() == nil {
		result.Timeline = Correlate(ctx, result.Table, usn_entries,
			transactions, options)
		result.Incomplete = result.Incomplete || result.Timeline.Incomplete
	} else {
		result.Timeline = &Timeline{Events: []*CorrelatedEvent{}, Incomplete: true}
		result.Incomplete = true
	}

	if result.Incomplete {
		result.Warnings = append(result.Warnings, Warning{
			Kind:    WarningIncomplete,
			Message: "analysis was cancelled before completion",
		})
	}

	result.Duration = time.Since(start)
	logger.WithFields(logrus.Fields{
		"records":    result.Stats.Records,
		"usn":        result.Stats.UsnRecords,
		"log":        result.Stats.LogRecords,
		"events":     len(result.Timeline.Events),
		"warnings":   len(result.Warnings),
		"incomplete": result.Incomplete,
		"duration":   result.Duration,
	}).Info("Analysis done")

	return result, nil
}

// locateLogFile reads MFT entry 2 and opens its $DATA stream.
func locateLogFile(volume, mft ByteSource,
	geometry VolumeGeometry) (ByteSource, error) {
	offset := int64(MFT_ENTRY_LOGFILE) * geometry.MftRecordSize
	buf, err := readExact(mft, offset, geometry.MftRecordSize)
	if err != nil {
		return nil, err
	}

	record, err := decodeMftRecord(buf, geometry, MFT_ENTRY_LOGFILE, offset)
	if err != nil {
		return nil, err
	}

	return OpenStream(volume, geometry, record, ATTR_TYPE_DATA, "")
}
