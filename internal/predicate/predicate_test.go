package predicate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validDemographics() Values {
	return Values{
		"alter":                   "34",
		"geschlecht":              "Weiblich",
		"sprachstoerung":          "Nein",
		"germanistik_hintergrund": "Nein",
		"muttersprache_deutsch":   "Ja",
		"mehrsprachig":            "Nein",
	}
}

func TestMatchesPatternAge(t *testing.T) {
	age := MatchesPattern("alter", `^\d+$`)
	cases := []struct {
		input string
		want  bool
	}{
		{input: "34", want: true},
		{input: "3a", want: false},
		{input: "", want: false},
		{input: "-5", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			if got := age.Eval(Values{"alter": tc.input}); got != tc.want {
				t.Fatalf("Eval(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestIsSelected(t *testing.T) {
	assert.False(t, IsSelected("geschlecht").Eval(Values{}))
	assert.False(t, IsSelected("geschlecht").Eval(Values{"geschlecht": ""}))
	assert.True(t, IsSelected("geschlecht").Eval(Values{"geschlecht": "Divers"}))
	assert.True(t, IsSelectedWith("mehrsprachig", "Nein").Eval(Values{"mehrsprachig": "Nein"}))
	assert.False(t, IsSelectedWith("mehrsprachig", "Nein").Eval(Values{"mehrsprachig": "Ja"}))
	assert.False(t, IsSelectedWith("mehrsprachig", "").Eval(Values{}))
}

func TestEmptyOperands(t *testing.T) {
	assert.True(t, And().Eval(nil))
	assert.False(t, Or().Eval(nil))
}

func TestDemographicsGateConditionalRequiredness(t *testing.T) {
	gate := DemographicsGate()

	values := validDemographics()
	assert.True(t, gate.Eval(values), "native speaker may leave andere_muttersprache empty")

	values["muttersprache_deutsch"] = "Nein"
	assert.False(t, gate.Eval(values), "non-native speaker must name a native language")

	values["andere_muttersprache"] = "Polnisch"
	assert.True(t, gate.Eval(values))

	values["mehrsprachig"] = "Ja"
	assert.False(t, gate.Eval(values))
	values["weitere_muttersprachen"] = "Englisch"
	assert.True(t, gate.Eval(values))

	delete(values, "sprachstoerung")
	assert.False(t, gate.Eval(values))
}

func TestDemographicsGateIsRepeatable(t *testing.T) {
	gate := DemographicsGate()
	values := validDemographics()
	values["alter"] = "3a"
	for i := 0; i < 3; i++ {
		require.False(t, gate.Eval(values))
	}
}

func TestGateFiresFailureOnlyWhenFalse(t *testing.T) {
	calls := 0
	onFailure := func() { calls++ }

	ok := Gate(IsNonEmpty("name"), Values{"name": "x"}, onFailure)
	require.True(t, ok)
	require.Equal(t, 0, calls)

	ok = Gate(IsNonEmpty("name"), Values{}, onFailure)
	require.False(t, ok)
	require.Equal(t, 1, calls)

	require.False(t, Gate(IsNonEmpty("name"), Values{}, nil))
}

func TestCompileFromYAML(t *testing.T) {
	src := `
and:
  - matches: {field: alter, pattern: '^\d+$'}
  - selected: geschlecht
  - or:
      - selectedWith: {field: muttersprache_deutsch, value: Ja}
      - nonEmpty: andere_muttersprache
`
	var node Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))

	expr, err := Compile(node)
	require.NoError(t, err)

	assert.True(t, expr.Eval(Values{"alter": "20", "geschlecht": "Männlich", "muttersprache_deutsch": "Ja"}))
	assert.False(t, expr.Eval(Values{"alter": "20", "geschlecht": "Männlich", "muttersprache_deutsch": "Nein"}))
	assert.Equal(t, `and(matches(alter, /^\d+$/), selected(geschlecht), or(selected(muttersprache_deutsch, Ja), nonEmpty(andere_muttersprache)))`, expr.String())
}

func TestCompileRejectsMalformedNodes(t *testing.T) {
	cases := map[string]Node{
		"empty":          {},
		"two operators":  {Selected: "a", NonEmpty: "b"},
		"empty and":      {And: []Node{}},
		"bad pattern":    {Matches: &FieldPattern{Field: "alter", Pattern: "("}},
		"missing field":  {SelectedWith: &FieldValue{Value: "Ja"}},
		"nested invalid": {Or: []Node{{Selected: "a"}, {}}},
	}
	for name, node := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(node)
			if !errors.Is(err, ErrInvalidNode) {
				t.Fatalf("Compile() error = %v, want ErrInvalidNode", err)
			}
		})
	}
}
