package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	ListTrialRecords(ctx context.Context, sessionID string) ([]experiment.Record, error)
}

type Service struct {
	store      DataStore
	pdfTimeout time.Duration
	pdf        func(ctx context.Context, html string, timeout time.Duration) ([]byte, error)
}

func NewService(store DataStore, pdfTimeout time.Duration) *Service {
	if pdfTimeout <= 0 {
		pdfTimeout = 30 * time.Second
	}
	return &Service{store: store, pdfTimeout: pdfTimeout, pdf: renderPDF}
}

// Load gathers a submitted session and its records.
func (s *Service) Load(ctx context.Context, sessionID string) (SessionData, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionData{}, fmt.Errorf("get session: %w", err)
	}
	if session.Status == store.SessionRunning {
		return SessionData{}, ErrNotSubmitted
	}
	records, err := s.store.ListTrialRecords(ctx, sessionID)
	if err != nil {
		return SessionData{}, fmt.Errorf("list trial records: %w", err)
	}
	return FromSession(session, records), nil
}

func FromSession(session store.Session, records []experiment.Record) SessionData {
	return SessionData{
		ID:           session.ID,
		Experiment:   session.Experiment,
		Status:       session.Status,
		Demographics: session.Demographics,
		Progress:     session.Progress,
		Total:        session.Total,
		StartedAt:    session.StartedAt,
		SubmittedAt:  session.SubmittedAt,
		Records:      records,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	data, err := s.Load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.Render(ctx, data, req)
}

func (s *Service) Render(ctx context.Context, data SessionData, req Request) (*Result, error) {
	base := sanitizeFilename(data.Experiment + "-" + data.ID)
	switch req.Format {
	case FormatCSV:
		body, err := WriteCSV(data, req.IncludePractice)
		if err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
		return &Result{Data: body, Filename: base + ".csv", MimeType: "text/csv; charset=utf-8"}, nil
	case FormatJSON:
		body, err := EncodeJSON(data)
		if err != nil {
			return nil, err
		}
		return &Result{Data: body, Filename: base + ".json", MimeType: "application/json"}, nil
	case FormatPDF:
		html, err := RenderReportHTML(BuildReport(data))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		body, err := s.pdf(ctx, html, s.pdfTimeout)
		if err != nil {
			return nil, err
		}
		return &Result{Data: body, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

type jsonSession struct {
	SessionID    string              `json:"sessionId"`
	Experiment   string              `json:"experiment"`
	Status       string              `json:"status"`
	Demographics map[string]string   `json:"demographics"`
	Progress     int                 `json:"progress"`
	Total        int                 `json:"total"`
	StartedAt    time.Time           `json:"startedAt"`
	SubmittedAt  *time.Time          `json:"submittedAt,omitempty"`
	Records      []experiment.Record `json:"records"`
}

// EncodeJSON renders the ordered record list with its session header.
func EncodeJSON(data SessionData) ([]byte, error) {
	records := data.Records
	if records == nil {
		records = []experiment.Record{}
	}
	body, err := json.MarshalIndent(jsonSession{
		SessionID:    data.ID,
		Experiment:   data.Experiment,
		Status:       data.Status,
		Demographics: data.Demographics,
		Progress:     data.Progress,
		Total:        data.Total,
		StartedAt:    data.StartedAt,
		SubmittedAt:  data.SubmittedAt,
		Records:      records,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return body, nil
}
