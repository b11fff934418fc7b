package experiment

import "strings"

const (
	SentenceSeparator = "//"
	ChunkDelimiter    = "/"
	MaskMarker        = "*"
)

// Kind says what a trial is for. Only practice and main trials produce log
// records.
type Kind string

const (
	KindConsent      Kind = "consent"
	KindDemographics Kind = "demographics"
	KindInstructions Kind = "instructions"
	KindPractice     Kind = "practice"
	KindPracticeEnd  Kind = "practice-end"
	KindMain         Kind = "main"
	KindBreak        Kind = "break"
	KindEnd          Kind = "end"
)

func (k Kind) Templated() bool {
	return k == KindPractice || k == KindMain
}

// Row is one line of a stimulus table. Rows are validated when the table is
// loaded and are read-only for the rest of a session.
type Row struct {
	ItemID         string  `json:"itemNummer"`
	Context        string  `json:"kontext"`
	Condition      string  `json:"bedingung"`
	AnaphorType    string  `json:"anapherArt"`
	Subcategory    string  `json:"unterkategorie"`
	Specification  string  `json:"spezifikation"`
	Anchor         string  `json:"anker"`
	Anaphor        string  `json:"anapher"`
	AnaphorIndex   string  `json:"anapherIdx"`
	Stimulus       string  `json:"stimulussatz"`
	Question       *string `json:"verstaendnisfrage,omitempty"`
	ExpectedAnswer *string `json:"erwarteteAntwort,omitempty"`
	Block          string  `json:"block,omitempty"`
	Label          string  `json:"block_bedingung,omitempty"`
}

// HasQuestion reports whether the row asks a comprehension question. A
// question made only of whitespace counts as absent.
func (r Row) HasQuestion() bool {
	return r.Question != nil && strings.TrimSpace(*r.Question) != ""
}

// TrialName is the name main trials are sequenced under: the explicit label
// if the table has one, otherwise block followed by condition ("3S").
func (r Row) TrialName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Block + r.Condition
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func StringPtr(value string) *string {
	return &value
}
