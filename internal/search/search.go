package search

import (
	"regexp"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

// Result is a single stimulus item hit.
type Result struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ItemID      string `json:"itemId"`
	Label       string `json:"label"`
	Condition   string `json:"condition"`
	AnaphorType string `json:"anaphorType"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request. Empty filters match everything.
type Query struct {
	Text        string
	Kind        string
	Condition   string
	AnaphorType string
	Limit       int
	Offset      int
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return 20
	case q.Limit > 100:
		return 100
	default:
		return q.Limit
	}
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data indexed for one stimulus item.
type ItemRecord struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ItemID      string `json:"itemId"`
	Label       string `json:"label"`
	Condition   string `json:"condition"`
	AnaphorType string `json:"anaphorType"`
	Anchor      string `json:"anchor"`
	Anaphor     string `json:"anaphor"`
	Stimulus    string `json:"stimulus"`
	Question    string `json:"question"`
	Version     string `json:"version"`
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// RecordFromItem builds the index document for a stored item. The id is
// unique per kind, trial name and item number.
func RecordFromItem(item store.StimulusItem) ItemRecord {
	id := item.Kind + "-" + item.Label + "-" + item.ItemID
	return ItemRecord{
		ID:          unsafeIDChars.ReplaceAllString(id, "_"),
		Kind:        item.Kind,
		ItemID:      item.ItemID,
		Label:       item.Label,
		Condition:   item.Condition,
		AnaphorType: item.AnaphorType,
		Anchor:      item.Anchor,
		Anaphor:     item.Anaphor,
		Stimulus:    item.Stimulus,
		Question:    item.Question,
		Version:     item.Version,
	}
}

func RecordsFromItems(items []store.StimulusItem) []ItemRecord {
	records := make([]ItemRecord, len(items))
	for i, item := range items {
		records[i] = RecordFromItem(item)
	}
	return records
}
