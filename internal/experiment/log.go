package experiment

import "fmt"

// ChunkReading is the time a participant spent on one chunk of a dashed
// sentence, as reported by the sentence widget.
type ChunkReading struct {
	Sentence      string `json:"sentence"`
	Index         int    `json:"index"`
	Chunk         string `json:"chunk"`
	ReadingTimeMs int64  `json:"readingTimeMs"`
	NewLine       bool   `json:"newLine,omitempty"`
}

// Record is the sealed field set of one completed trial.
type Record struct {
	TrialID   string         `json:"trialId"`
	Label     string         `json:"label"`
	Fields    []Field        `json:"fields"`
	Readings  []ChunkReading `json:"readings,omitempty"`
	Countable bool           `json:"countable"`
	// CommittedAt is Unix milliseconds.
	CommittedAt int64 `json:"committedAt"`
}

func (r Record) Get(name string) (string, bool) {
	for _, field := range r.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, field := range r.Fields {
		out[field.Name] = field.Value
	}
	return out
}

func (r Record) clone() Record {
	r.Fields = append([]Field(nil), r.Fields...)
	r.Readings = append([]ChunkReading(nil), r.Readings...)
	return r
}

// Progress counts committed countable trials on top of a configured start
// value.
type Progress struct {
	Start int `json:"start"`
	Count int `json:"count"`
}

func (p Progress) Value() int {
	return p.Start + p.Count
}

// Accumulator collects field writes per open trial and seals them into
// records. Records are only ever appended.
type Accumulator struct {
	Open      []Record `json:"open,omitempty"`
	Committed []Record `json:"committed"`
	Progress  Progress `json:"progress"`
}

func NewAccumulator(counterStart int) *Accumulator {
	return &Accumulator{Committed: []Record{}, Progress: Progress{Start: counterStart}}
}

// Begin opens a record for trialID under label. Writing to a trial that was
// never begun opens it implicitly with an empty label.
func (a *Accumulator) Begin(trialID, label string) error {
	rec, err := a.open(trialID)
	if err != nil {
		return err
	}
	rec.Label = label
	return nil
}

// Write sets field for the open trial. Field order is first-write order; a
// later write to the same field replaces the value in place.
func (a *Accumulator) Write(trialID, field, value string) error {
	rec, err := a.open(trialID)
	if err != nil {
		return err
	}
	for i := range rec.Fields {
		if rec.Fields[i].Name == field {
			rec.Fields[i].Value = value
			return nil
		}
	}
	rec.Fields = append(rec.Fields, Field{Name: field, Value: value})
	return nil
}

func (a *Accumulator) AddReadings(trialID string, readings []ChunkReading) error {
	rec, err := a.open(trialID)
	if err != nil {
		return err
	}
	rec.Readings = append(rec.Readings, readings...)
	return nil
}

// Commit seals the trial's record and appends it to the output. The
// progress counter moves only for countable trials, and a trial can be
// committed once.
func (a *Accumulator) Commit(trialID string, countable bool, at int64) (Record, error) {
	if a.committed(trialID) {
		return Record{}, fmt.Errorf("commit %s: %w", trialID, ErrAlreadyCommitted)
	}
	rec := Record{TrialID: trialID}
	for i := range a.Open {
		if a.Open[i].TrialID == trialID {
			rec = a.Open[i]
			a.Open = append(a.Open[:i], a.Open[i+1:]...)
			break
		}
	}
	rec.Countable = countable
	rec.CommittedAt = at
	a.Committed = append(a.Committed, rec)
	if countable {
		a.Progress.Count++
	}
	return rec.clone(), nil
}

// Records returns copies of the committed records in commit order.
func (a *Accumulator) Records() []Record {
	out := make([]Record, len(a.Committed))
	for i, rec := range a.Committed {
		out[i] = rec.clone()
	}
	return out
}

func (a *Accumulator) committed(trialID string) bool {
	for _, rec := range a.Committed {
		if rec.TrialID == trialID {
			return true
		}
	}
	return false
}

func (a *Accumulator) open(trialID string) (*Record, error) {
	if a.committed(trialID) {
		return nil, fmt.Errorf("write %s: %w", trialID, ErrAlreadyCommitted)
	}
	for i := range a.Open {
		if a.Open[i].TrialID == trialID {
			return &a.Open[i], nil
		}
	}
	a.Open = append(a.Open, Record{TrialID: trialID})
	return &a.Open[len(a.Open)-1], nil
}
