package export

import (
	"bytes"
	"embed"
	"html/template"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/report.html"))

// ReportData holds data for the session report template.
type ReportData struct {
	SessionID    string
	Experiment   string
	Status       string
	StartedAt    time.Time
	SubmittedAt  *time.Time
	Progress     int
	Total        int
	Demographics []ReportPair
	Trials       []ReportTrial
	Answered     int
	Correct      int
	MeanReading  int64
}

type ReportPair struct {
	Name  string
	Value string
}

type ReportTrial struct {
	TrialID     string
	Label       string
	ItemID      string
	Condition   string
	AnaphorType string
	Chunks      int
	TotalMs     int64
	Answer      string
	Correct     string
}

// BuildReport summarizes a session for the PDF template. Practice trials are
// listed but excluded from the accuracy and reading-time figures.
func BuildReport(data SessionData) ReportData {
	report := ReportData{
		SessionID:   data.ID,
		Experiment:  data.Experiment,
		Status:      data.Status,
		StartedAt:   data.StartedAt,
		SubmittedAt: data.SubmittedAt,
		Progress:    data.Progress,
		Total:       data.Total,
	}
	for _, key := range slices.Sorted(maps.Keys(data.Demographics)) {
		report.Demographics = append(report.Demographics, ReportPair{Name: key, Value: data.Demographics[key]})
	}

	var readingSum int64
	var readingCount int64
	for _, rec := range data.Records {
		trial := ReportTrial{
			TrialID:     rec.TrialID,
			Label:       rec.Label,
			ItemID:      fieldOf(rec, "itemNummer"),
			Condition:   fieldOf(rec, "bedingung"),
			AnaphorType: fieldOf(rec, "anapherArt"),
			Chunks:      len(rec.Readings),
			Answer:      fieldOf(rec, experiment.SelectionField),
			Correct:     AnswerCorrect(rec),
		}
		for _, reading := range rec.Readings {
			trial.TotalMs += reading.ReadingTimeMs
		}
		report.Trials = append(report.Trials, trial)

		if fieldOf(rec, "uebung") == "TRUE" {
			continue
		}
		if trial.Correct != "" {
			report.Answered++
			if trial.Correct == "TRUE" {
				report.Correct++
			}
		}
		readingSum += trial.TotalMs
		readingCount += int64(trial.Chunks)
	}
	if readingCount > 0 {
		report.MeanReading = readingSum / readingCount
	}
	return report
}

func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
