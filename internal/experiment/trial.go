package experiment

const (
	ContinueButton   = "Weiter"
	SentencePartOne  = "DashedSentence_pt1"
	SentencePartTwo  = "DashedSentence_pt2"
	QuestionText     = "question"
	SelectionField   = "selection"
	QuestionStart    = "QuestionStartTime"
	QuestionEnd      = "QuestionEndTime"
	YesLabel         = "Ja"
	NoLabel          = "Nein"
	PracticeTemplate = "practice-trial"
)

// Variant distinguishes templated trials with and without a comprehension
// question.
type Variant string

const (
	VariantSimple                 Variant = "simple"
	VariantWithComprehensionCheck Variant = "withComprehensionCheck"
)

type ComprehensionCheck struct {
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expectedAnswer,omitempty"`
	// Timed trials bracket the selection with QuestionStartTime and
	// QuestionEndTime.
	Timed bool `json:"timed"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Trial is a generated, immutable step sequence plus the static fields it
// logs on open.
type Trial struct {
	ID        string              `json:"id"`
	Label     string              `json:"label"`
	Kind      Kind                `json:"kind"`
	Row       *Row                `json:"row,omitempty"`
	Check     *ComprehensionCheck `json:"check,omitempty"`
	Steps     []Step              `json:"steps"`
	Fields    []Field             `json:"fields,omitempty"`
	Countable bool                `json:"countable"`
	// Terminal trials never complete.
	Terminal bool `json:"terminal,omitempty"`
}

func (t Trial) Variant() Variant {
	if t.Check != nil {
		return VariantWithComprehensionCheck
	}
	return VariantSimple
}

// Logged reports whether completing the trial commits a log record.
func (t Trial) Logged() bool {
	return t.Kind.Templated()
}

func (t Trial) withID(id string) Trial {
	t.ID = id
	return t
}
