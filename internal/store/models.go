package store

import (
	"time"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

const (
	SessionRunning   = "running"
	SessionSubmitted = "submitted"
	SessionFinished  = "finished"
)

type Researcher struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session is the durable summary of one participant run. The live runner
// state is kept elsewhere until results are submitted.
type Session struct {
	ID           string
	Experiment   string
	Status       string
	Demographics map[string]string
	Timestamps   []experiment.Timestamp
	Warnings     []string
	Progress     int
	Total        int
	RecordCount  int
	StartedAt    time.Time
	SubmittedAt  *time.Time
	FinishedAt   *time.Time
}

// Submission is everything written when a session crosses sendResults.
type Submission struct {
	Session Session
	Records []experiment.Record
}

// StimulusItem is one row of an uploaded stimulus table as stored for search.
type StimulusItem struct {
	Kind        string
	ItemID      string
	Label       string
	Condition   string
	AnaphorType string
	Anchor      string
	Anaphor     string
	Stimulus    string
	Question    string
	Version     string
	UpdatedAt   time.Time
}

// StimulusItemFromRow flattens a table row for storage.
func StimulusItemFromRow(kind experiment.Kind, version string, row experiment.Row) StimulusItem {
	label := row.TrialName()
	if kind == experiment.KindPractice {
		label = experiment.PracticeTemplate
	}
	item := StimulusItem{
		Kind:        string(kind),
		ItemID:      row.ItemID,
		Label:       label,
		Condition:   row.Condition,
		AnaphorType: row.AnaphorType,
		Anchor:      row.Anchor,
		Anaphor:     row.Anaphor,
		Stimulus:    row.Stimulus,
		Version:     version,
	}
	if row.Question != nil {
		item.Question = *row.Question
	}
	return item
}
