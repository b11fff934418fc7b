package experiment

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
)

type EntryKind string

const (
	EntryTrial       EntryKind = "trial"
	EntryRandomize   EntryKind = "randomize"
	EntryShuffle     EntryKind = "shuffle"
	EntrySendResults EntryKind = "sendResults"
)

type Policy string

const (
	PolicyFixed             Policy = "fixed"
	PolicyRandomPermutation Policy = "randomPermutation"
)

// Entry is one top-level element of a sequence plan.
type Entry struct {
	Kind  EntryKind `json:"kind" yaml:"kind"`
	Names []string  `json:"names,omitempty" yaml:"names,omitempty"`
}

func Literal(name string) Entry {
	return Entry{Kind: EntryTrial, Names: []string{name}}
}

func Randomize(name string) Entry {
	return Entry{Kind: EntryRandomize, Names: []string{name}}
}

func Shuffle(names ...string) Entry {
	return Entry{Kind: EntryShuffle, Names: names}
}

func SendResults() Entry {
	return Entry{Kind: EntrySendResults}
}

func (e Entry) Policy() Policy {
	switch e.Kind {
	case EntryRandomize, EntryShuffle:
		return PolicyRandomPermutation
	default:
		return PolicyFixed
	}
}

func (e Entry) String() string {
	switch e.Kind {
	case EntrySendResults:
		return "SendResults()"
	case EntryTrial:
		return fmt.Sprintf("%q", e.Names[0])
	default:
		quoted := make([]string, len(e.Names))
		for i, name := range e.Names {
			quoted[i] = strconv.Quote(name)
		}
		return fmt.Sprintf("%s(%s)", e.Kind, strings.Join(quoted, ","))
	}
}

type Plan []Entry

var DefaultConditions = []string{"I", "M", "S", "V"}

// DefaultBreaks lists the block groups followed by a break screen.
var DefaultBreaks = []int{2, 4, 6, 7}

// BlockPlan builds the main section of a plan: one shuffled group per block,
// each holding the block's condition labels, with a break after the listed
// groups.
func BlockPlan(groups int, conditions []string, breakAfter []int) Plan {
	var plan Plan
	for block := 1; block <= groups; block++ {
		names := make([]string, 0, len(conditions))
		for _, condition := range conditions {
			names = append(names, strconv.Itoa(block)+condition)
		}
		plan = append(plan, Shuffle(names...))
		if slices.Contains(breakAfter, block) {
			plan = append(plan, Literal("break"))
		}
	}
	return plan
}

func DefaultPlan() Plan {
	plan := Plan{
		Literal("consent"),
		Literal("demographics"),
		Literal("instructions"),
		Randomize(PracticeTemplate),
		Literal("practice-end"),
	}
	plan = append(plan, BlockPlan(8, DefaultConditions, DefaultBreaks)...)
	return append(plan, SendResults(), Literal("end"))
}

// Validate checks the plan's shape. A name may appear in at most one
// permutation group and never in a group and as a literal; literal screens
// such as "break" may repeat.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return configErrorf("plan is empty")
	}
	grouped := map[string]int{}
	literal := map[string]int{}
	for i, entry := range p {
		switch entry.Kind {
		case EntryTrial, EntryRandomize:
			if len(entry.Names) != 1 {
				return configErrorf("entry %d (%s) needs exactly one name, got %d", i, entry.Kind, len(entry.Names))
			}
		case EntryShuffle:
			if len(entry.Names) == 0 {
				return configErrorf("entry %d: permutation group is empty", i)
			}
		case EntrySendResults:
			if len(entry.Names) != 0 {
				return configErrorf("entry %d: sendResults takes no names", i)
			}
		default:
			return configErrorf("entry %d: unknown kind %q", i, entry.Kind)
		}
		for _, name := range entry.Names {
			if name == "" {
				return configErrorf("entry %d: empty trial name", i)
			}
			if entry.Policy() == PolicyRandomPermutation {
				if prev, ok := grouped[name]; ok {
					return configErrorf("duplicate trial name %q in entries %d and %d", name, prev, i)
				}
				if prev, ok := literal[name]; ok {
					return configErrorf("duplicate trial name %q in entries %d and %d", name, prev, i)
				}
				grouped[name] = i
				continue
			}
			if prev, ok := grouped[name]; ok {
				return configErrorf("duplicate trial name %q in entries %d and %d", name, prev, i)
			}
			literal[name] = i
		}
	}
	return nil
}

// Permute returns a uniformly random permutation of items. The input is not
// modified.
func Permute[T any](items []T, rng *rand.Rand) []T {
	out := slices.Clone(items)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// NewSource returns a PCG source seeded from the operating system, so no two
// sessions share a stream.
func NewSource() *rand.PCG {
	var seed [16]byte
	_, _ = crand.Read(seed[:])
	return rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
}

// SeededSource is for tests and reproducible dry runs.
func SeededSource(seed uint64) *rand.PCG {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// Ref points at one trial instance before it is expanded: a screen, or one
// row of a template.
type Ref struct {
	Name string `json:"name"`
	Row  int    `json:"row"`
}

type template struct {
	kind Kind
	rows []Row
}

// Catalog resolves plan names to screens and stimulus templates.
type Catalog struct {
	screens   map[string]Trial
	templates map[string]template
}

// NewCatalog groups main rows by trial name and registers practice rows
// under the practice template. Names must be unique across screens and
// templates, and an item may appear once per template.
func NewCatalog(screens map[string]Trial, practice, main []Row) (*Catalog, error) {
	c := &Catalog{screens: map[string]Trial{}, templates: map[string]template{}}
	for name, screen := range screens {
		screen.Label = name
		c.screens[name] = screen
	}
	if len(practice) > 0 {
		if err := c.addRows(PracticeTemplate, KindPractice, practice); err != nil {
			return nil, err
		}
	}
	byName := map[string][]Row{}
	var order []string
	for _, row := range main {
		name := row.TrialName()
		if name == "" {
			return nil, configErrorf("main item %s has no block", row.ItemID)
		}
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], row)
	}
	for _, name := range order {
		if err := c.addRows(name, KindMain, byName[name]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) addRows(name string, kind Kind, rows []Row) error {
	if _, ok := c.screens[name]; ok {
		return configErrorf("duplicate trial name %q: used by a screen and a stimulus table", name)
	}
	if _, ok := c.templates[name]; ok {
		return configErrorf("duplicate trial name %q", name)
	}
	seen := map[string]bool{}
	for _, row := range rows {
		if seen[row.ItemID] {
			return configErrorf("item %s appears twice under %q", row.ItemID, name)
		}
		seen[row.ItemID] = true
	}
	c.templates[name] = template{kind: kind, rows: slices.Clone(rows)}
	return nil
}

func (c *Catalog) Has(name string) bool {
	if _, ok := c.screens[name]; ok {
		return true
	}
	_, ok := c.templates[name]
	return ok
}

func (c *Catalog) refs(name string) []Ref {
	if _, ok := c.screens[name]; ok {
		return []Ref{{Name: name, Row: -1}}
	}
	tpl := c.templates[name]
	refs := make([]Ref, len(tpl.rows))
	for i := range tpl.rows {
		refs[i] = Ref{Name: name, Row: i}
	}
	return refs
}

// Screen returns the screen registered under name.
func (c *Catalog) Screen(name string) (Trial, bool) {
	screen, ok := c.screens[name]
	return screen, ok
}

// Sequencer realizes a validated plan against a catalog.
type Sequencer struct {
	plan    Plan
	catalog *Catalog
}

func NewSequencer(plan Plan, catalog *Catalog) (*Sequencer, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	for i, entry := range plan {
		for _, name := range entry.Names {
			if !catalog.Has(name) {
				return nil, configErrorf("entry %d: no trial named %q", i, name)
			}
		}
	}
	return &Sequencer{plan: slices.Clone(plan), catalog: catalog}, nil
}

func (s *Sequencer) Plan() Plan {
	return slices.Clone(s.plan)
}

func (s *Sequencer) Len() int {
	return len(s.plan)
}

func (s *Sequencer) Entry(index int) Entry {
	return s.plan[index]
}

// Order realizes one plan entry. Fixed entries keep table order; permutation
// groups draw a fresh permutation of all trials their names cover.
func (s *Sequencer) Order(index int, rng *rand.Rand) []Ref {
	entry := s.plan[index]
	var refs []Ref
	for _, name := range entry.Names {
		refs = append(refs, s.catalog.refs(name)...)
	}
	if entry.Policy() == PolicyRandomPermutation {
		return Permute(refs, rng)
	}
	return refs
}

// Materialize expands the referenced trials and gives each a session-unique
// ID. Rows that cannot be expanded are dropped and reported.
func (s *Sequencer) Materialize(index int, refs []Ref) ([]Trial, []Dropped) {
	trials := make([]Trial, 0, len(refs))
	var dropped []Dropped
	for _, ref := range refs {
		if ref.Row < 0 {
			screen := s.catalog.screens[ref.Name]
			trials = append(trials, screen.withID(fmt.Sprintf("%d/%s", index, ref.Name)))
			continue
		}
		tpl := s.catalog.templates[ref.Name]
		row := tpl.rows[ref.Row]
		trial, err := Expand(row, tpl.kind)
		if err != nil {
			dropped = append(dropped, Dropped{ItemID: row.ItemID, Err: err})
			continue
		}
		trials = append(trials, trial.withID(fmt.Sprintf("%d/%s/%s", index, ref.Name, row.ItemID)))
	}
	return trials, dropped
}

// Realize orders and expands the whole plan at once. Sessions realize
// lazily; this is for dry runs.
func (s *Sequencer) Realize(rng *rand.Rand) ([][]Trial, []Dropped) {
	out := make([][]Trial, len(s.plan))
	var dropped []Dropped
	for i := range s.plan {
		trials, d := s.Materialize(i, s.Order(i, rng))
		out[i] = trials
		dropped = append(dropped, d...)
	}
	return out, dropped
}

// CountableTotal is the number of countable trials a session will run.
func (s *Sequencer) CountableTotal() int {
	total := 0
	for _, entry := range s.plan {
		for _, name := range entry.Names {
			tpl, ok := s.catalog.templates[name]
			if !ok || tpl.kind != KindMain {
				continue
			}
			for _, row := range tpl.rows {
				if _, err := Expand(row, tpl.kind); err == nil {
					total++
				}
			}
		}
	}
	return total
}
