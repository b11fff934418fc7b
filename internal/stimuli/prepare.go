package stimuli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

var slashRun = regexp.MustCompile(`/+`)

// Prepared is a stimulus in the chunked, two-sentence encoding.
type Prepared struct {
	Stimulus string
	// AnaphorIndex is the position of the first marked chunk in the stimulus split
	// on single slashes, counting the empty chunk of the sentence separator.
	// It is -1 when the anaphor could not be marked.
	AnaphorIndex int
	Annotated    bool
}

// Prepare marks every occurrence of the anaphor with asterisks, chunks the sentence on
// whitespace and separates the two sentences with a double slash. Words
// inside the marked phrase stay together in one chunk.
func Prepare(stimulus, anaphor string) Prepared {
	text := strings.Join(strings.Fields(slashRun.ReplaceAllString(stimulus, " ")), " ")
	text, annotated := annotate(text, strings.TrimSpace(anaphor))
	chunked := chunk(text)
	chunked = strings.ReplaceAll(chunked, "./", "."+experiment.SentenceSeparator)
	return Prepared{Stimulus: chunked, AnaphorIndex: markedChunk(chunked), Annotated: annotated}
}

func annotate(text, anaphor string) (string, bool) {
	if anaphor == "" {
		return text, false
	}
	if strings.Contains(text, anaphor) {
		return strings.ReplaceAll(text, anaphor, experiment.MaskMarker+anaphor+experiment.MaskMarker), true
	}
	// The anaphor may appear in another case: match any definite article
	// followed by the noun with an inflection suffix.
	words := strings.Fields(anaphor)
	noun := words[len(words)-1]
	inflected := regexp.MustCompile(`\b((?i:der|die|das|den|dem|des))(\s+` + regexp.QuoteMeta(noun) + `(?:e?[nmsr]|e)?)(\P{L}|$)`)
	if !inflected.MatchString(text) {
		return text, false
	}
	return inflected.ReplaceAllString(text, experiment.MaskMarker+"${1}${2}"+experiment.MaskMarker+"${3}"), true
}

func chunk(text string) string {
	var b strings.Builder
	inside := false
	for _, r := range text {
		switch {
		case string(r) == experiment.MaskMarker:
			inside = !inside
			b.WriteRune(r)
		case r == ' ' && !inside:
			b.WriteString(experiment.ChunkDelimiter)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func markedChunk(stimulus string) int {
	for i, part := range strings.Split(stimulus, experiment.ChunkDelimiter) {
		if strings.Contains(part, experiment.MaskMarker) {
			return i
		}
	}
	return -1
}

// PrepareRows rewrites the stimulus and anaphor index of every row. Rows
// whose anaphor could not be located are reported by item id.
func PrepareRows(rows []experiment.Row) ([]experiment.Row, []string) {
	out := make([]experiment.Row, len(rows))
	var warnings []string
	for i, row := range rows {
		prepared := Prepare(row.Stimulus, row.Anaphor)
		row.Stimulus = prepared.Stimulus
		row.AnaphorIndex = ""
		if prepared.AnaphorIndex >= 0 {
			row.AnaphorIndex = strconv.Itoa(prepared.AnaphorIndex)
		}
		if !prepared.Annotated {
			warnings = append(warnings, fmt.Sprintf("item %s: could not mark %q in %q", row.ItemID, row.Anaphor, prepared.Stimulus))
		}
		out[i] = row
	}
	return out, warnings
}
