package experiment

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/predicate"
)

// Experiment is the immutable definition every session of a study shares.
type Experiment struct {
	Sequencer    *Sequencer
	Gates        map[string]predicate.Expr
	CounterStart int
}

// New checks that every gate a screen refers to is defined.
func New(sequencer *Sequencer, gates map[string]predicate.Expr, counterStart int) (*Experiment, error) {
	for _, name := range slices.Sorted(maps.Keys(sequencer.catalog.screens)) {
		for _, step := range sequencer.catalog.screens[name].Steps {
			if step.Gate == "" {
				continue
			}
			if _, ok := gates[step.Gate]; !ok {
				return nil, configErrorf("screen %q uses undefined gate %q", name, step.Gate)
			}
		}
	}
	return &Experiment{Sequencer: sequencer, Gates: gates, CounterStart: counterStart}, nil
}

type Timestamp struct {
	TrialID string `json:"trialId"`
	Label   string `json:"label"`
	Field   string `json:"field"`
	Value   int64  `json:"value"`
}

// State is everything that changes while one participant runs through the
// plan. It round-trips through JSON between requests.
type State struct {
	SessionID string `json:"sessionId"`
	Started   bool   `json:"started"`
	Finished  bool   `json:"finished"`
	// ResultsReady is set once the plan's sendResults entry has been passed.
	ResultsReady bool `json:"resultsReady"`

	Entry     int     `json:"entry"`
	Entered   bool    `json:"entered"`
	Trials    []Trial `json:"trials,omitempty"`
	Trial     int     `json:"trial"`
	Step      int     `json:"step"`
	TrialOpen bool    `json:"trialOpen"`
	Waiting   bool    `json:"waiting,omitempty"`
	WaitSince int64   `json:"waitSince,omitempty"`

	Log          *Accumulator      `json:"log"`
	Total        int               `json:"total"`
	Demographics map[string]string `json:"demographics,omitempty"`
	Timestamps   []Timestamp       `json:"timestamps,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	RNG          []byte            `json:"rng"`

	StartedAt  int64 `json:"startedAt,omitempty"`
	FinishedAt int64 `json:"finishedAt,omitempty"`
}

func (e *Experiment) NewState(sessionID string, src *rand.PCG) (*State, error) {
	rng, err := src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal rng: %w", err)
	}
	return &State{
		SessionID: sessionID,
		Log:       NewAccumulator(e.CounterStart),
		RNG:       rng,
	}, nil
}

type EventKind string

const (
	EventClick     EventKind = "click"
	EventSelection EventKind = "selection"
	EventTimer     EventKind = "timer"
)

// Event is one participant action sent by the client.
type Event struct {
	Kind   EventKind         `json:"kind"`
	Target string            `json:"target,omitempty"`
	Value  string            `json:"value,omitempty"`
	Values map[string]string `json:"values,omitempty"`
	// Complete reports that the document the wait requires is filled in.
	Complete bool `json:"complete,omitempty"`
	// Resource and ResourceError report a document that failed to load.
	Resource      string         `json:"resource,omitempty"`
	ResourceError string         `json:"resourceError,omitempty"`
	Readings      []ChunkReading `json:"readings,omitempty"`
}

// View is what the client needs to render the current suspension point.
type View struct {
	SessionID    string   `json:"sessionId"`
	TrialID      string   `json:"trialId,omitempty"`
	Label        string   `json:"label,omitempty"`
	Kind         Kind     `json:"kind,omitempty"`
	Variant      Variant  `json:"variant,omitempty"`
	Steps        []Step   `json:"steps,omitempty"`
	Wait         *Step    `json:"wait,omitempty"`
	Progress     int      `json:"progress"`
	Total        int      `json:"total"`
	ResultsReady bool     `json:"resultsReady"`
	Finished     bool     `json:"finished"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Runner drives one session's State. It is not safe for concurrent use;
// callers serialize access per session.
type Runner struct {
	exp   *Experiment
	state *State
	src   *rand.PCG
	rng   *rand.Rand
	now   func() time.Time
}

func (e *Experiment) Runner(state *State, now func() time.Time) (*Runner, error) {
	if state.Log == nil {
		state.Log = NewAccumulator(e.CounterStart)
	}
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(state.RNG); err != nil {
		return nil, fmt.Errorf("restore rng: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{exp: e, state: state, src: src, rng: rand.New(src), now: now}, nil
}

func (r *Runner) State() *State {
	return r.state
}

// Start enters the plan and runs to the first wait.
func (r *Runner) Start() (View, error) {
	if r.state.Started {
		return r.View(), nil
	}
	r.state.Started = true
	r.state.StartedAt = r.millis()
	r.state.Total = r.exp.Sequencer.CountableTotal()
	if err := r.settle(); err != nil {
		return View{}, err
	}
	return r.View(), nil
}

// Advance consumes one event for the current wait. An event that is rejected
// leaves the session on the same step.
func (r *Runner) Advance(ev Event) (View, error) {
	st := r.state
	if !st.Started {
		return View{}, ErrNotStarted
	}
	if st.Finished {
		return r.View(), ErrFinished
	}
	trial, step, ok := r.current()
	if !ok {
		return r.View(), fmt.Errorf("%w: no wait pending", ErrUnexpectedEvent)
	}

	if ev.ResourceError != "" {
		return r.View(), r.resourceFailure(trial, ev)
	}
	if !qualifies(step.Wait, ev.Kind) {
		return r.View(), fmt.Errorf("%w: got %s while waiting for %s", ErrUnexpectedEvent, ev.Kind, step.Wait)
	}
	if ev.Target != "" && step.ID != "" && ev.Target != step.ID {
		return r.View(), fmt.Errorf("%w: got %s while waiting on %s", ErrUnexpectedEvent, ev.Target, step.ID)
	}

	switch step.Wait {
	case WaitTimer:
		if r.millis()-st.WaitSince < step.DurationMs {
			return r.View(), ErrTimerPending
		}
	case WaitSelectorChoice:
		if !slices.Contains(step.Options, ev.Value) {
			return r.View(), fmt.Errorf("%w: %q is not an option", ErrUnexpectedEvent, ev.Value)
		}
	}

	if step.Require != "" && !ev.Complete {
		return r.View(), &ValidationError{TrialID: trial.ID, Message: step.FailureMessage}
	}
	if step.Gate != "" {
		var failure error
		predicate.Gate(r.exp.Gates[step.Gate], predicate.Values(ev.Values), func() {
			failure = &ValidationError{TrialID: trial.ID, Message: step.FailureMessage}
		})
		if failure != nil {
			return r.View(), failure
		}
	}

	readings, err := r.readings(trial, step, ev.Readings)
	if err != nil {
		return r.View(), err
	}

	if trial.Kind == KindDemographics {
		st.Demographics = formValues(trial, ev.Values)
	}
	if len(readings) > 0 && trial.Logged() {
		if err := st.Log.AddReadings(trial.ID, readings); err != nil {
			return r.View(), err
		}
	}
	if step.Wait == WaitSelectorChoice && trial.Logged() {
		if err := st.Log.Write(trial.ID, step.Field, ev.Value); err != nil {
			return r.View(), err
		}
	}

	st.Step++
	st.Waiting = false
	st.WaitSince = 0
	if err := r.settle(); err != nil {
		return r.View(), err
	}
	return r.View(), nil
}

func (r *Runner) View() View {
	st := r.state
	view := View{
		SessionID:    st.SessionID,
		Progress:     st.Log.Progress.Value(),
		Total:        st.Total,
		ResultsReady: st.ResultsReady,
		Finished:     st.Finished,
		Warnings:     slices.Clone(st.Warnings),
	}
	trial, step, ok := r.current()
	if !ok {
		return view
	}
	view.TrialID = trial.ID
	view.Label = trial.Label
	view.Kind = trial.Kind
	if trial.Logged() {
		view.Variant = trial.Variant()
	}
	view.Steps = slices.Clone(trial.Steps[:st.Step+1])
	view.Wait = &step
	return view
}

// Records returns the session's committed log records.
func (r *Runner) Records() []Record {
	return r.state.Log.Records()
}

func (r *Runner) current() (Trial, Step, bool) {
	st := r.state
	if !st.Entered || st.Trial >= len(st.Trials) {
		return Trial{}, Step{}, false
	}
	trial := st.Trials[st.Trial]
	if st.Step >= len(trial.Steps) || !trial.Steps[st.Step].Suspends() {
		return Trial{}, Step{}, false
	}
	return trial, trial.Steps[st.Step], true
}

// settle executes steps until the session is suspended on a wait or the plan
// is exhausted.
func (r *Runner) settle() error {
	st := r.state
	seq := r.exp.Sequencer
	for {
		if st.Entry >= seq.Len() {
			r.finish()
			return nil
		}
		if !st.Entered {
			entry := seq.Entry(st.Entry)
			if entry.Kind == EntrySendResults {
				st.ResultsReady = true
				st.Entry++
				continue
			}
			trials, dropped := seq.Materialize(st.Entry, seq.Order(st.Entry, r.rng))
			for _, d := range dropped {
				st.Warnings = append(st.Warnings, d.Err.Error())
			}
			rng, err := r.src.MarshalBinary()
			if err != nil {
				return fmt.Errorf("marshal rng: %w", err)
			}
			st.RNG = rng
			st.Trials = trials
			st.Trial, st.Step, st.TrialOpen, st.Entered = 0, 0, false, true
		}
		if st.Trial >= len(st.Trials) {
			st.Entry++
			st.Entered = false
			st.Trials = nil
			continue
		}

		trial := st.Trials[st.Trial]
		if !st.TrialOpen {
			if err := r.open(trial); err != nil {
				return err
			}
			st.TrialOpen = true
		}
		if st.Step >= len(trial.Steps) {
			if trial.Logged() {
				if _, err := st.Log.Commit(trial.ID, trial.Countable, r.millis()); err != nil {
					return err
				}
			}
			st.Trial++
			st.Step = 0
			st.TrialOpen = false
			continue
		}

		step := trial.Steps[st.Step]
		switch step.Kind {
		case StepWait:
			if !st.Waiting {
				st.Waiting = true
				st.WaitSince = r.millis()
			}
			if trial.Terminal {
				r.finish()
			}
			return nil
		case StepRecordTimestamp:
			if err := r.stamp(trial, step.Field); err != nil {
				return err
			}
		}
		st.Step++
	}
}

func (r *Runner) open(trial Trial) error {
	if !trial.Logged() {
		return nil
	}
	log := r.state.Log
	if err := log.Begin(trial.ID, trial.Label); err != nil {
		return err
	}
	for _, field := range trial.Fields {
		if err := log.Write(trial.ID, field.Name, field.Value); err != nil {
			return err
		}
	}
	return nil
}

// stamp logs the current time into the trial's record, or into the session's
// screen timestamps for trials without one.
func (r *Runner) stamp(trial Trial, field string) error {
	ms := r.millis()
	if trial.Logged() {
		return r.state.Log.Write(trial.ID, field, strconv.FormatInt(ms, 10))
	}
	r.state.Timestamps = append(r.state.Timestamps, Timestamp{TrialID: trial.ID, Label: trial.Label, Field: field, Value: ms})
	return nil
}

func (r *Runner) readings(trial Trial, wait Step, in []ChunkReading) ([]ChunkReading, error) {
	if len(in) == 0 {
		return nil, nil
	}
	var sentence *Step
	for i := range trial.Steps {
		if trial.Steps[i].Kind == StepShowDashedSentence && trial.Steps[i].ID == wait.ID {
			sentence = &trial.Steps[i]
			break
		}
	}
	if sentence == nil {
		return nil, fmt.Errorf("%w: readings sent for %s", ErrUnexpectedEvent, wait.ID)
	}
	out := make([]ChunkReading, 0, len(in))
	for _, reading := range in {
		if reading.Index < 0 || reading.Index >= len(sentence.Chunks) {
			return nil, fmt.Errorf("%w: chunk %d out of range for %s", ErrUnexpectedEvent, reading.Index, sentence.ID)
		}
		reading.Sentence = sentence.ID
		reading.Chunk = sentence.Chunks[reading.Index]
		out = append(out, reading)
	}
	return out, nil
}

// formValues keeps the values of the inputs the trial's forms declare.
func formValues(trial Trial, values map[string]string) map[string]string {
	out := make(map[string]string)
	for _, step := range trial.Steps {
		if step.Kind != StepShowForm {
			continue
		}
		for _, input := range step.Inputs {
			if value, ok := values[input.Name]; ok {
				out[input.Name] = value
			}
		}
	}
	return out
}

func (r *Runner) resourceFailure(trial Trial, ev Event) error {
	for _, step := range trial.Steps[:r.state.Step] {
		if step.Kind != StepShowDocument || (ev.Resource != step.ID && ev.Resource != step.Resource) {
			continue
		}
		failure := &ResourceLoadError{TrialID: trial.ID, Resource: step.Resource, Reason: ev.ResourceError}
		r.state.Warnings = append(r.state.Warnings, failure.Error())
		return failure
	}
	return fmt.Errorf("%w: %q is not shown by %s", ErrUnexpectedEvent, ev.Resource, trial.ID)
}

func (r *Runner) finish() {
	if r.state.Finished {
		return
	}
	r.state.Finished = true
	r.state.FinishedAt = r.millis()
}

func (r *Runner) millis() int64 {
	return r.now().UnixMilli()
}

func qualifies(wait WaitKind, event EventKind) bool {
	switch wait {
	case WaitUserClick:
		return event == EventClick
	case WaitSelectorChoice:
		return event == EventSelection
	case WaitTimer:
		return event == EventTimer
	default:
		return false
	}
}
