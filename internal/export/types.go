// Package export renders submitted sessions as analysis CSV and PDF reports.
package export

import (
	"errors"
	"time"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type Request struct {
	SessionID string
	Format    Format
	// IncludePractice keeps practice trials in CSV output.
	IncludePractice bool
}

// SessionData is everything an export needs about one participant.
type SessionData struct {
	ID           string
	Experiment   string
	Status       string
	Demographics map[string]string
	Progress     int
	Total        int
	StartedAt    time.Time
	SubmittedAt  *time.Time
	Records      []experiment.Record
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrNotSubmitted indicates the session has no submitted results yet.
	ErrNotSubmitted = errors.New("session results not submitted")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
