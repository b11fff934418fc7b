package experiment

import "time"

type StepKind string

const (
	StepShowText                StepKind = "showText"
	StepShowButton              StepKind = "showButton"
	StepShowDocument            StepKind = "showDocument"
	StepShowForm                StepKind = "showForm"
	StepShowDashedSentence      StepKind = "showDashedSentence"
	StepShowComprehensionPrompt StepKind = "showComprehensionPrompt"
	StepRecordTimestamp         StepKind = "recordTimestamp"
	StepWait                    StepKind = "wait"
	StepRemove                  StepKind = "remove"
)

type WaitKind string

const (
	WaitUserClick      WaitKind = "userClick"
	WaitSelectorChoice WaitKind = "selectorChoice"
	WaitTimer          WaitKind = "timer"
)

// Step is one presentation or suspension action. Kind selects which of the
// remaining fields are meaningful.
type Step struct {
	Kind StepKind `json:"kind"`
	// ID names the element a step shows, waits on or records into.
	ID string `json:"id,omitempty"`

	Text     string      `json:"text,omitempty"`
	Label    string      `json:"label,omitempty"`
	Resource string      `json:"resource,omitempty"`
	Warning  string      `json:"warning,omitempty"`
	Inputs   []FormInput `json:"inputs,omitempty"`
	Chunks   []string    `json:"chunks,omitempty"`
	Question string      `json:"question,omitempty"`
	YesLabel string      `json:"yesLabel,omitempty"`
	NoLabel  string      `json:"noLabel,omitempty"`
	Field    string      `json:"field,omitempty"`
	Targets  []string    `json:"targets,omitempty"`

	Wait       WaitKind `json:"wait,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
	// Options restricts a selectorChoice wait to these values.
	Options []string `json:"options,omitempty"`
	// Gate names a predicate the submitted form values must satisfy.
	Gate string `json:"gate,omitempty"`
	// Require names a document step that must report itself complete.
	Require string `json:"require,omitempty"`
	// FailureMessage is shown when Gate or Require does not hold.
	FailureMessage string `json:"failureMessage,omitempty"`
}

type FormInputKind string

const (
	InputText     FormInputKind = "text"
	InputDropDown FormInputKind = "dropdown"
)

type FormInput struct {
	Name        string        `json:"name" yaml:"name"`
	Kind        FormInputKind `json:"kind" yaml:"kind"`
	Label       string        `json:"label" yaml:"label"`
	Placeholder string        `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options     []string      `json:"options,omitempty" yaml:"options,omitempty"`
	Required    bool          `json:"required,omitempty" yaml:"required,omitempty"`
}

func ShowText(id, text string) Step {
	return Step{Kind: StepShowText, ID: id, Text: text}
}

func ShowButton(id, label string) Step {
	return Step{Kind: StepShowButton, ID: id, Label: label}
}

func ShowDashedSentence(id string, chunks []string) Step {
	return Step{Kind: StepShowDashedSentence, ID: id, Chunks: chunks}
}

func ShowComprehensionPrompt(question, yes, no string) Step {
	return Step{Kind: StepShowComprehensionPrompt, ID: SelectionField, Question: question, YesLabel: yes, NoLabel: no}
}

func RecordTimestamp(field string) Step {
	return Step{Kind: StepRecordTimestamp, Field: field}
}

func Remove(targets ...string) Step {
	return Step{Kind: StepRemove, Targets: targets}
}

func WaitClick(target string) Step {
	return Step{Kind: StepWait, ID: target, Wait: WaitUserClick}
}

func WaitSelection(field string, options ...string) Step {
	return Step{Kind: StepWait, ID: field, Wait: WaitSelectorChoice, Field: field, Options: options}
}

func WaitTimerFor(id string, d time.Duration) Step {
	return Step{Kind: StepWait, ID: id, Wait: WaitTimer, DurationMs: d.Milliseconds()}
}

func (s Step) Suspends() bool {
	return s.Kind == StepWait
}
