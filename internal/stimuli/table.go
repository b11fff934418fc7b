// Package stimuli reads, writes and prepares the practice and main item
// tables.
package stimuli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrEmptyTable    = errors.New("table has no header")
)

const (
	ColItemID         = "itemNummer"
	ColContext        = "kontext"
	ColCondition      = "bedingung"
	ColAnaphorType    = "anapherArt"
	ColSubcategory    = "unterkategorie"
	ColSpecification  = "spezifikation"
	ColAnchor         = "anker"
	ColAnaphor        = "anapher"
	ColAnaphorIndex   = "anapherIdx"
	ColStimulus       = "stimulussatz"
	ColQuestion       = "verstaendnisfrage"
	ColExpectedAnswer = "erwarteteAntwort"
	ColBlock          = "block"
	ColLabel          = "block_bedingung"
)

var requiredColumns = []string{
	ColItemID, ColContext, ColCondition, ColAnaphorType, ColSubcategory, ColSpecification,
	ColAnchor, ColAnaphor, ColAnaphorIndex, ColStimulus,
}

// Columns is the column order tables are written in.
func Columns(kind experiment.Kind) []string {
	cols := append([]string{}, requiredColumns...)
	cols = append(cols, ColQuestion, ColExpectedAnswer)
	if kind == experiment.KindMain {
		cols = append(cols, ColBlock, ColLabel)
	}
	return cols
}

// ReadRows parses a stimulus table. Required columns are checked once
// against the header; fully empty lines are skipped. Main tables also need a
// block column, and the trial label is derived from block and condition
// when the table has none.
func ReadRows(r io.Reader, kind experiment.Kind) ([]experiment.Row, error) {
	required := requiredColumns
	if kind == experiment.KindMain {
		required = append(append([]string{}, requiredColumns...), ColBlock)
	}
	return readRows(r, kind, required)
}

// ReadUnprepared reads a table that has not been through Prepare yet and so
// may lack the anaphor index.
func ReadUnprepared(r io.Reader) ([]experiment.Row, error) {
	var required []string
	for _, col := range requiredColumns {
		if col != ColAnaphorIndex {
			required = append(required, col)
		}
	}
	return readRows(r, experiment.KindPractice, required)
}

func readRows(r io.Reader, kind experiment.Kind, required []string) ([]experiment.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := map[string]int{}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var rows []experiment.Row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if blank(record) {
			continue
		}
		cell := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		optional := func(col string) *string {
			value := cell(col)
			if value == "" {
				return nil
			}
			return &value
		}
		row := experiment.Row{
			ItemID:         cell(ColItemID),
			Context:        cell(ColContext),
			Condition:      cell(ColCondition),
			AnaphorType:    cell(ColAnaphorType),
			Subcategory:    cell(ColSubcategory),
			Specification:  cell(ColSpecification),
			Anchor:         cell(ColAnchor),
			Anaphor:        cell(ColAnaphor),
			AnaphorIndex:   cell(ColAnaphorIndex),
			Stimulus:       cell(ColStimulus),
			Question:       optional(ColQuestion),
			ExpectedAnswer: optional(ColExpectedAnswer),
		}
		if kind == experiment.KindMain {
			row.Block = cell(ColBlock)
			row.Label = cell(ColLabel)
			if row.Label == "" {
				row.Label = row.Block + row.Condition
			}
		}
		if row.ItemID == "" {
			return nil, fmt.Errorf("line %d: empty %s", line, ColItemID)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadFile reads a stimulus table from disk.
func ReadFile(path string, kind experiment.Kind) ([]experiment.Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	rows, err := ReadRows(file, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return rows, nil
}

func WriteRows(w io.Writer, rows []experiment.Row, kind experiment.Kind) error {
	writer := csv.NewWriter(w)
	cols := Columns(kind)
	if err := writer.Write(cols); err != nil {
		return err
	}
	for _, row := range rows {
		values := map[string]string{
			ColItemID:         row.ItemID,
			ColContext:        row.Context,
			ColCondition:      row.Condition,
			ColAnaphorType:    row.AnaphorType,
			ColSubcategory:    row.Subcategory,
			ColSpecification:  row.Specification,
			ColAnchor:         row.Anchor,
			ColAnaphor:        row.Anaphor,
			ColAnaphorIndex:   row.AnaphorIndex,
			ColStimulus:       row.Stimulus,
			ColQuestion:       valueOrEmpty(row.Question),
			ColExpectedAnswer: valueOrEmpty(row.ExpectedAnswer),
			ColBlock:          row.Block,
			ColLabel:          row.Label,
		}
		record := make([]string, len(cols))
		for i, col := range cols {
			record[i] = values[col]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func blank(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
