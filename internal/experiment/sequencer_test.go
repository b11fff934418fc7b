package experiment

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermuteIsAPermutation(t *testing.T) {
	names := []string{"1I", "1M", "1S", "1V", "extra"}
	rng := rand.New(SeededSource(42))
	for i := 0; i < 500; i++ {
		got := Permute(names, rng)
		require.ElementsMatch(t, names, got)
		require.Len(t, got, len(names))
	}
	assert.Equal(t, []string{"1I", "1M", "1S", "1V", "extra"}, names, "input must not be reordered")
}

func TestPermuteReachesEveryOrder(t *testing.T) {
	rng := rand.New(SeededSource(7))
	seen := map[string]int{}
	for i := 0; i < 1200; i++ {
		seen[strings.Join(Permute([]string{"a", "b", "c"}, rng), "")]++
	}
	require.Len(t, seen, 6)
	for order, n := range seen {
		assert.Greater(t, n, 100, "order %s drawn too rarely", order)
	}
}

func TestPermuteDependsOnSeed(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	a := Permute(items, rand.New(SeededSource(1)))
	b := Permute(items, rand.New(SeededSource(1)))
	c := Permute(items, rand.New(SeededSource(2)))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDefaultPlanLayout(t *testing.T) {
	plan := DefaultPlan()
	require.NoError(t, plan.Validate())

	var layout []string
	for _, entry := range plan {
		switch entry.Kind {
		case EntryShuffle:
			layout = append(layout, "G"+entry.Names[0][:1])
		case EntrySendResults:
			layout = append(layout, "send")
		default:
			layout = append(layout, entry.Names[0])
		}
	}
	assert.Equal(t, []string{
		"consent", "demographics", "instructions", PracticeTemplate, "practice-end",
		"G1", "G2", "break", "G3", "G4", "break", "G5", "G6", "break", "G7", "break", "G8",
		"send", "end",
	}, layout)
	assert.Equal(t, Shuffle("3I", "3M", "3S", "3V"), plan[8])
	assert.Equal(t, `shuffle("3I","3M","3S","3V")`, plan[8].String())
}

func TestPlanValidate(t *testing.T) {
	cases := map[string]Plan{
		"empty plan":               {},
		"empty group":              {Shuffle()},
		"empty name":               {Literal("")},
		"duplicate across groups":  {Shuffle("1I", "1M"), Shuffle("1M", "2I")},
		"duplicate within group":   {Shuffle("1I", "1I")},
		"group and literal":        {Literal("1I"), Shuffle("1I")},
		"literal then group":       {Shuffle("1I"), Literal("1I")},
		"send with names":          {{Kind: EntrySendResults, Names: []string{"x"}}},
		"unknown kind":             {{Kind: "loop", Names: []string{"x"}}},
		"randomize with two names": {{Kind: EntryRandomize, Names: []string{"a", "b"}}},
	}
	for name, plan := range cases {
		t.Run(name, func(t *testing.T) {
			err := plan.Validate()
			require.Error(t, err)
			assert.True(t, IsConfiguration(err), "got %T", err)
		})
	}

	assert.NoError(t, Plan{Literal("break"), Shuffle("1I"), Literal("break")}.Validate())
}

func catalogFixture(t *testing.T) *Catalog {
	t.Helper()
	main := []Row{
		{ItemID: "1", Block: "1", Condition: "I", Stimulus: "A//B"},
		{ItemID: "2", Block: "1", Condition: "M", Stimulus: "A//B"},
		{ItemID: "3", Block: "1", Condition: "M", Stimulus: "A//B"},
		{ItemID: "4", Block: "1", Condition: "S", Stimulus: "broken"},
		{ItemID: "1", Block: "2", Condition: "I", Stimulus: "A//B"},
	}
	practice := []Row{{ItemID: "p1", Stimulus: "A//B"}, {ItemID: "p2", Stimulus: "C//D"}}
	catalog, err := NewCatalog(Screens(DefaultTexts(), DemographicsInputs(), time.Second), practice, main)
	require.NoError(t, err)
	return catalog
}

func TestNewSequencerRejectsUnknownNames(t *testing.T) {
	_, err := NewSequencer(Plan{Shuffle("1I", "9Z")}, catalogFixture(t))
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "9Z")
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	screens := Screens(DefaultTexts(), nil, time.Second)

	_, err := NewCatalog(screens, nil, []Row{{ItemID: "1", Label: "break", Stimulus: "A//B"}})
	assert.True(t, IsConfiguration(err), "screen/template collision: %v", err)

	_, err = NewCatalog(screens, nil, []Row{
		{ItemID: "1", Block: "1", Condition: "I"},
		{ItemID: "1", Block: "1", Condition: "I"},
	})
	assert.True(t, IsConfiguration(err), "repeated item: %v", err)

	_, err = NewCatalog(screens, nil, []Row{{ItemID: "1"}})
	assert.True(t, IsConfiguration(err), "missing block: %v", err)
}

func TestSequencerOrderKeepsFixedEntriesInTableOrder(t *testing.T) {
	seq, err := NewSequencer(Plan{Literal("consent"), Literal("1M"), Shuffle("1I")}, catalogFixture(t))
	require.NoError(t, err)

	rng := rand.New(SeededSource(3))
	assert.Equal(t, []Ref{{Name: "consent", Row: -1}}, seq.Order(0, rng))
	assert.Equal(t, []Ref{{Name: "1M", Row: 0}, {Name: "1M", Row: 1}}, seq.Order(1, rng))
	assert.Equal(t, []Ref{{Name: "1I", Row: 0}}, seq.Order(2, rng))
}

func TestSequencerShufflesWholeGroup(t *testing.T) {
	seq, err := NewSequencer(Plan{Shuffle("1I", "1M", "1S", "2I")}, catalogFixture(t))
	require.NoError(t, err)

	rng := rand.New(SeededSource(9))
	for i := 0; i < 50; i++ {
		refs := seq.Order(0, rng)
		require.ElementsMatch(t, []Ref{
			{Name: "1I", Row: 0}, {Name: "1M", Row: 0}, {Name: "1M", Row: 1}, {Name: "1S", Row: 0}, {Name: "2I", Row: 0},
		}, refs)
	}
}

func TestMaterializeDropsMalformedRows(t *testing.T) {
	seq, err := NewSequencer(Plan{Literal("break"), Shuffle("1I", "1S", "2I")}, catalogFixture(t))
	require.NoError(t, err)

	trials, dropped := seq.Materialize(1, seq.Order(1, rand.New(SeededSource(1))))
	require.Len(t, trials, 2)
	require.Len(t, dropped, 1)
	assert.Equal(t, "4", dropped[0].ItemID)

	ids := []string{trials[0].ID, trials[1].ID}
	assert.ElementsMatch(t, []string{"1/1I/1", "1/2I/1"}, ids)

	screens, _ := seq.Materialize(0, seq.Order(0, nil))
	require.Len(t, screens, 1)
	assert.Equal(t, "0/break", screens[0].ID)
	assert.Equal(t, KindBreak, screens[0].Kind)

	assert.Equal(t, 2, seq.CountableTotal())
}
