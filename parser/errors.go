package parser

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrOutOfRange   = errors.New("read out of range")
	ErrNotAvailable = errors.New("Not available")
)

// The kind of structural problem found while decoding a single unit
// (MFT record, attribute header, log page).
type DecodeErrorKind int

const (
	BadSignature DecodeErrorKind = iota + 1
	TruncatedHeader
	AttributeOverrun
	UnresolvedRunList
	FixupMismatch
)

func (self DecodeErrorKind) String() string {
	switch self {
	case BadSignature:
		return "BadSignature"
	case TruncatedHeader:
		return "TruncatedHeader"
	case AttributeOverrun:
		return "AttributeOverrun"
	case UnresolvedRunList:
		return "UnresolvedRunList"
	case FixupMismatch:
		return "FixupMismatch"
	}
	return fmt.Sprintf("DecodeErrorKind(%d)", int(self))
}

// DecodeError is a StructuralError: it always concerns one unit and
// never aborts a pipeline.
type DecodeError struct {
	Kind    DecodeErrorKind
	Offset  int64
	Message string
}

func (self *DecodeError) Error() string {
	if self.Message == "" {
		return fmt.Sprintf("%v at %#x", self.Kind, self.Offset)
	}
	return fmt.Sprintf("%v at %#x: %s", self.Kind, self.Offset, self.Message)
}

func newDecodeError(kind DecodeErrorKind, offset int64,
	format string, args ...interface{}) *DecodeError {
	return &DecodeError{
		Kind:    kind,
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsDecodeError reports whether err is a DecodeError of the given
// kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	var decode_err *DecodeError
	if errors.As(err, &decode_err) {
		return decode_err.Kind == kind
	}
	return false
}

// ResolutionError marks an attribute as present but unreadable. The
// owning record stays usable.
type ResolutionError struct {
	AttributeType uint32
	AttributeId   uint16
	Reason        string
}

func (self *ResolutionError) Error() string {
	return fmt.Sprintf("attribute %#x (id %d) unresolved: %s",
		self.AttributeType, self.AttributeId, self.Reason)
}

// GeometryError is fatal: all offset calculations depend on the
// geometry so nothing is parsed when it is inconsistent.
type GeometryError struct {
	Field  string
	Reason string
}

func (self *GeometryError) Error() string {
	return fmt.Sprintf("invalid volume geometry: %s %s", self.Field, self.Reason)
}

func IsGeometryError(err error) bool {
	var geometry_err *GeometryError
	return errors.As(err, &geometry_err)
}

type WarningKind string

const (
	WarningJournalGap     WarningKind = "JournalGap"
	WarningTruncatedLog   WarningKind = "TruncatedLog"
	WarningBadRestartArea WarningKind = "BadRestartArea"
	WarningBadPage        WarningKind = "BadPage"
	WarningStalePage      WarningKind = "StalePage"
	WarningIncomplete     WarningKind = "AnalysisIncomplete"
)

// A Warning is a GapWarning style diagnostic: a region that could not
// be read or parsed. Warnings are reported alongside results.
type Warning struct {
	Kind    WarningKind
	Offset  int64
	Length  int64
	Message string
}

func (self Warning) String() string {
	return fmt.Sprintf("%v @ %#x (%d bytes): %v",
		self.Kind, self.Offset, self.Length, self.Message)
}
