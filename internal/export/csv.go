package export

import (
	"bytes"
	"encoding/csv"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

// Columns of the long format ahead of the per-record fields.
var readingColumns = []string{
	"versuchspersonenID", "stimulusIdx", "stimulusSatz", "satzteil", "wort", "chunkIdx", "posWrtAnapher", "leseZeit",
}

var recordColumns = []string{
	"uebung", "itemNummer", "block", "kontext", "bedingung", "anapherArt", "unterkategorie", "spezifikation",
	"anker", "anapher", "anapherIdx", "verstaendnisfrage", "erwarteteAntwort",
}

var answerColumns = []string{
	"antwort", "antwortRichtig", experiment.QuestionStart, experiment.QuestionEnd,
}

// Columns returns the header for a session's CSV. Demographic answers follow
// the fixed columns in name order; a name that clashes with a fixed column
// gets a "demo_" prefix.
func Columns(demographics map[string]string) []string {
	header := slices.Concat(readingColumns, recordColumns, answerColumns)
	for _, name := range demographicColumns(demographics) {
		header = append(header, name.column)
	}
	return header
}

type demographicColumn struct {
	key    string
	column string
}

func demographicColumns(demographics map[string]string) []demographicColumn {
	fixed := slices.Concat(readingColumns, recordColumns, answerColumns)
	keys := slices.Sorted(maps.Keys(demographics))
	out := make([]demographicColumn, 0, len(keys))
	for _, key := range keys {
		column := key
		if slices.Contains(fixed, key) {
			column = "demo_" + key
		}
		out = append(out, demographicColumn{key: key, column: column})
	}
	return out
}

// AnswerCorrect compares the selection with the expected answer ignoring
// case. It is empty when either side is missing.
func AnswerCorrect(rec experiment.Record) string {
	expected, _ := rec.Get("erwarteteAntwort")
	selected, ok := rec.Get(experiment.SelectionField)
	expected = strings.TrimSpace(expected)
	selected = strings.TrimSpace(selected)
	if !ok || expected == "" || selected == "" {
		return ""
	}
	if strings.EqualFold(selected, expected) {
		return "TRUE"
	}
	return "FALSE"
}

// WriteCSV writes one line per chunk reading, or one line per record when a
// record carries no readings.
func WriteCSV(data SessionData, includePractice bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns(data.Demographics)); err != nil {
		return nil, err
	}

	demographics := demographicColumns(data.Demographics)
	stimulusIdx := 0
	for _, rec := range data.Records {
		if uebung, _ := rec.Get("uebung"); uebung == "TRUE" && !includePractice {
			continue
		}
		stimulusIdx++
		tail := recordTail(rec, data.Demographics, demographics)

		readings := orderedReadings(rec.Readings)
		if len(readings) == 0 {
			line := append([]string{data.ID, strconv.Itoa(stimulusIdx), "", "", "", "", "", ""}, tail...)
			if err := w.Write(line); err != nil {
				return nil, err
			}
			continue
		}

		sentence := fullSentence(readings)
		anaphorIdx, anaphorErr := strconv.Atoi(fieldOf(rec, "anapherIdx"))
		firstPart := partOneLength(readings)
		for _, reading := range readings {
			position := reading.Index
			if reading.Sentence == experiment.SentencePartTwo {
				position += firstPart
			}
			relative := ""
			if anaphorErr == nil {
				relative = strconv.Itoa(position - anaphorIdx)
			}
			line := append([]string{
				data.ID,
				strconv.Itoa(stimulusIdx),
				sentence,
				reading.Sentence,
				reading.Chunk,
				strconv.Itoa(position + 1),
				relative,
				strconv.FormatInt(reading.ReadingTimeMs, 10),
			}, tail...)
			if err := w.Write(line); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func recordTail(rec experiment.Record, values map[string]string, demographics []demographicColumn) []string {
	tail := make([]string, 0, len(recordColumns)+len(answerColumns)+len(demographics))
	for _, column := range recordColumns {
		tail = append(tail, fieldOf(rec, column))
	}
	tail = append(tail,
		fieldOf(rec, experiment.SelectionField),
		AnswerCorrect(rec),
		fieldOf(rec, experiment.QuestionStart),
		fieldOf(rec, experiment.QuestionEnd),
	)
	for _, column := range demographics {
		tail = append(tail, values[column.key])
	}
	return tail
}

func fieldOf(rec experiment.Record, name string) string {
	value, _ := rec.Get(name)
	return value
}

// orderedReadings sorts by sentence part, then chunk index, dropping repeats.
func orderedReadings(in []experiment.ChunkReading) []experiment.ChunkReading {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b experiment.ChunkReading) int {
		if c := strings.Compare(a.Sentence, b.Sentence); c != 0 {
			return c
		}
		return a.Index - b.Index
	})
	return slices.CompactFunc(out, func(a, b experiment.ChunkReading) bool {
		return a.Sentence == b.Sentence && a.Index == b.Index
	})
}

func partOneLength(readings []experiment.ChunkReading) int {
	n := 0
	for _, reading := range readings {
		if reading.Sentence == experiment.SentencePartOne {
			n = max(n, reading.Index+1)
		}
	}
	return n
}

func fullSentence(readings []experiment.ChunkReading) string {
	words := make([]string, 0, len(readings))
	for _, reading := range readings {
		words = append(words, strings.TrimSpace(reading.Chunk))
	}
	return strings.Join(words, " ")
}
