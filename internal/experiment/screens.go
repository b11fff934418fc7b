package experiment

import "time"

const (
	DemographicsGateName = "demographics"
	BreakStart           = "BreakStartTime"
	BreakEnd             = "BreakEndTime"
)

// Texts are the participant-facing strings of the fixed screens.
type Texts struct {
	Continue             string `yaml:"continue" json:"continue"`
	ConsentDocument      string `yaml:"consentDocument" json:"consentDocument"`
	ConsentWarning       string `yaml:"consentWarning" json:"consentWarning"`
	InstructionsDocument string `yaml:"instructionsDocument" json:"instructionsDocument"`
	InstructionsWarning  string `yaml:"instructionsWarning" json:"instructionsWarning"`
	DemographicsTitle    string `yaml:"demographicsTitle" json:"demographicsTitle"`
	RequiredNote         string `yaml:"requiredNote" json:"requiredNote"`
	DemographicsError    string `yaml:"demographicsError" json:"demographicsError"`
	PracticeEnd          string `yaml:"practiceEnd" json:"practiceEnd"`
	BreakAnnouncement    string `yaml:"breakAnnouncement" json:"breakAnnouncement"`
	BreakContinue        string `yaml:"breakContinue" json:"breakContinue"`
	End                  string `yaml:"end" json:"end"`
}

func DefaultTexts() Texts {
	return Texts{
		Continue:             ContinueButton,
		ConsentDocument:      "einverstaendniserklaerung.html",
		ConsentWarning:       "Sie müssen einwilligen, um fortzufahren.",
		InstructionsDocument: "anleitung.html",
		DemographicsTitle:    "Demographische Fragen",
		RequiredNote:         "* = Pflichtfeld",
		DemographicsError:    "Bitte füllen Sie alle erforderlichen Felder korrekt aus.",
		PracticeEnd:          "Nun haben Sie die Aufgabe geübt.\n\nKlicken  Sie, um das Experiment zu starten.",
		BreakAnnouncement:    "Bitte nehmen Sie eine kurze Pause, bevor es weitergeht.",
		BreakContinue:        "Klicken Sie, um das Experiment fortzusetzen.",
		End:                  "Vielen Dank für Ihre Teilnahme!",
	}
}

const dropDownPlaceholder = "Wählen Sie eine Option aus."

func DemographicsInputs() []FormInput {
	yesNo := []string{YesLabel, NoLabel}
	return []FormInput{
		{Name: "alter", Kind: InputText, Label: "* Alter:", Required: true},
		{Name: "geschlecht", Kind: InputDropDown, Label: "* Geschlecht", Placeholder: dropDownPlaceholder, Options: []string{"Männlich", "Weiblich", "Divers"}, Required: true},
		{Name: "muttersprache_deutsch", Kind: InputDropDown, Label: "* Ist Deutsch Ihre Muttersprache?", Placeholder: dropDownPlaceholder, Options: yesNo, Required: true},
		{Name: "andere_muttersprache", Kind: InputText, Label: "Wenn nicht, was ist Ihre Muttersprache?"},
		{Name: "mehrsprachig", Kind: InputDropDown, Label: "* Gibt es eine oder mehrere weitere Sprache(n), die Sie von Geburt an gelernt haben (d.h. sind Sie bilingual aufgewachsen)?", Placeholder: dropDownPlaceholder, Options: yesNo, Required: true},
		{Name: "weitere_muttersprachen", Kind: InputText, Label: "Wenn ja, um welche Sprachen handelt es sich?"},
		{Name: "sprachstoerung", Kind: InputDropDown, Label: "* Wurde bei Ihnen eine Sprachstörung oder eine Lese-/Rechtschreibschwäche diagnostiziert?", Placeholder: dropDownPlaceholder, Options: yesNo, Required: true},
		{Name: "germanistik_hintergrund", Kind: InputDropDown, Label: "* Studieren Sie aktuell oder haben Sie vorher Germanistik studiert?", Placeholder: dropDownPlaceholder, Options: yesNo, Required: true},
	}
}

// Screens builds the fixed, non-templated trials.
func Screens(texts Texts, inputs []FormInput, breakDuration time.Duration) map[string]Trial {
	return map[string]Trial{
		"consent": {
			Kind: KindConsent,
			Steps: []Step{
				{Kind: StepShowDocument, ID: "consent_form", Resource: texts.ConsentDocument, Warning: texts.ConsentWarning},
				ShowButton("continue", texts.Continue),
				{Kind: StepWait, ID: "continue", Wait: WaitUserClick, Require: "consent_form", FailureMessage: texts.ConsentWarning},
			},
		},
		"demographics": {
			Kind: KindDemographics,
			Steps: []Step{
				ShowText("demographics_title", texts.DemographicsTitle),
				ShowText("required_field_text", texts.RequiredNote),
				{Kind: StepShowForm, ID: "demographics_form", Inputs: inputs},
				ShowText("error_msg", ""),
				ShowButton("weiter", texts.Continue),
				{Kind: StepWait, ID: "weiter", Wait: WaitUserClick, Gate: DemographicsGateName, FailureMessage: texts.DemographicsError},
			},
		},
		"instructions": {
			Kind: KindInstructions,
			Steps: []Step{
				{Kind: StepShowDocument, ID: "instruction_form", Resource: texts.InstructionsDocument, Warning: texts.InstructionsWarning},
				ShowButton("continue", texts.Continue),
				{Kind: StepWait, ID: "continue", Wait: WaitUserClick, Require: "instruction_form", FailureMessage: texts.InstructionsWarning},
			},
		},
		"practice-end": {
			Kind: KindPracticeEnd,
			Steps: []Step{
				ShowText("practice-end", texts.PracticeEnd),
				ShowButton(ContinueButton, texts.Continue),
				WaitClick(ContinueButton),
				Remove(ContinueButton),
			},
		},
		"break": {
			Kind: KindBreak,
			Steps: []Step{
				ShowText("break-announcement", texts.BreakAnnouncement),
				RecordTimestamp(BreakStart),
				WaitTimerFor("wait", breakDuration),
				Remove("break-announcement"),
				ShowText("break-continue", texts.BreakContinue),
				ShowButton(ContinueButton, texts.Continue),
				WaitClick(ContinueButton),
				Remove(ContinueButton),
				RecordTimestamp(BreakEnd),
			},
		},
		"end": {
			Kind:     KindEnd,
			Terminal: true,
			Steps: []Step{
				ShowText("end", texts.End),
				WaitClick("end"),
			},
		},
	}
}
