package experiment

import (
	"fmt"
	"strings"
)

// Expand turns one stimulus row into the steps of a practice or main trial.
// The returned trial has no ID yet; the sequencer assigns one when the block
// is entered.
func Expand(row Row, kind Kind) (Trial, error) {
	if !kind.Templated() {
		return Trial{}, fmt.Errorf("expand item %s: kind %q has no template", row.ItemID, kind)
	}
	first, second, err := splitStimulus(row.Stimulus)
	if err != nil {
		return Trial{}, fmt.Errorf("expand item %s: %w", row.ItemID, err)
	}

	trial := Trial{
		Label:     trialLabel(row, kind),
		Kind:      kind,
		Countable: kind == KindMain,
		Fields:    staticFields(row, kind),
	}
	rowCopy := row
	trial.Row = &rowCopy

	trial.Steps = []Step{
		ShowButton(ContinueButton, ContinueButton),
		WaitClick(ContinueButton),
		Remove(ContinueButton),
		ShowDashedSentence(SentencePartOne, first),
		WaitClick(SentencePartOne),
		ShowDashedSentence(SentencePartTwo, second),
		WaitClick(SentencePartTwo),
		Remove(SentencePartOne, SentencePartTwo),
	}

	if row.HasQuestion() {
		trial.Check = &ComprehensionCheck{
			Question:       *row.Question,
			ExpectedAnswer: deref(row.ExpectedAnswer),
			Timed:          kind == KindMain,
		}
	}

	switch trial.Variant() {
	case VariantWithComprehensionCheck:
		trial.Steps = append(trial.Steps, checkSteps(*trial.Check)...)
	case VariantSimple:
	}
	return trial, nil
}

func checkSteps(check ComprehensionCheck) []Step {
	steps := []Step{
		ShowText(QuestionText, check.Question),
		ShowComprehensionPrompt(check.Question, YesLabel, NoLabel),
	}
	if check.Timed {
		steps = append(steps, RecordTimestamp(QuestionStart))
	}
	steps = append(steps, WaitSelection(SelectionField, YesLabel, NoLabel))
	if check.Timed {
		steps = append(steps, RecordTimestamp(QuestionEnd))
	}
	return steps
}

func trialLabel(row Row, kind Kind) string {
	if kind == KindPractice {
		return PracticeTemplate
	}
	return row.TrialName()
}

func staticFields(row Row, kind Kind) []Field {
	uebung := "FALSE"
	if kind == KindPractice {
		uebung = "TRUE"
	}
	fields := []Field{
		{Name: "uebung", Value: uebung},
		{Name: "itemNummer", Value: row.ItemID},
	}
	if kind == KindMain {
		fields = append(fields, Field{Name: "block", Value: row.Block})
	}
	return append(fields,
		Field{Name: "kontext", Value: row.Context},
		Field{Name: "bedingung", Value: row.Condition},
		Field{Name: "anapherArt", Value: row.AnaphorType},
		Field{Name: "unterkategorie", Value: row.Subcategory},
		Field{Name: "spezifikation", Value: row.Specification},
		Field{Name: "anker", Value: row.Anchor},
		Field{Name: "anapher", Value: row.Anaphor},
		Field{Name: "anapherIdx", Value: row.AnaphorIndex},
		Field{Name: "verstaendnisfrage", Value: deref(row.Question)},
		Field{Name: "erwarteteAntwort", Value: deref(row.ExpectedAnswer)},
	)
}

// splitStimulus requires exactly one sentence separator and at least one
// non-empty chunk on each side. Mask markers are removed from every chunk.
func splitStimulus(stimulus string) ([]string, []string, error) {
	if n := strings.Count(stimulus, SentenceSeparator); n != 1 {
		return nil, nil, fmt.Errorf("%w: want 1 %q separator, found %d", ErrMalformedStimulus, SentenceSeparator, n)
	}
	parts := strings.SplitN(stimulus, SentenceSeparator, 2)
	first, err := chunks(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("sentence 1: %w", err)
	}
	second, err := chunks(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("sentence 2: %w", err)
	}
	return first, second, nil
}

func chunks(part string) ([]string, error) {
	raw := strings.Split(part, ChunkDelimiter)
	out := make([]string, 0, len(raw))
	for i, chunk := range raw {
		chunk = strings.ReplaceAll(chunk, MaskMarker, "")
		if strings.TrimSpace(chunk) == "" {
			return nil, fmt.Errorf("%w: chunk %d is empty", ErrMalformedStimulus, i)
		}
		out = append(out, chunk)
	}
	return out, nil
}

// Dropped describes a row left out of its block.
type Dropped struct {
	ItemID string
	Err    error
}

// ExpandBlock expands every row of a block. Rows that fail are left out and
// reported; the remaining trials keep their input order.
func ExpandBlock(rows []Row, kind Kind) ([]Trial, []Dropped) {
	trials := make([]Trial, 0, len(rows))
	var dropped []Dropped
	for _, row := range rows {
		trial, err := Expand(row, kind)
		if err != nil {
			dropped = append(dropped, Dropped{ItemID: row.ItemID, Err: err})
			continue
		}
		trials = append(trials, trial)
	}
	return trials, dropped
}
