// Package predicate evaluates boolean validation expressions over form
// values collected from a participant.
package predicate

import (
	"regexp"
	"strings"
)

// Values holds the current response of each named input. A field that was
// never touched is simply absent.
type Values map[string]string

// Expr is a side-effect-free boolean expression over Values.
type Expr interface {
	Eval(Values) bool
	String() string
}

type matchesPattern struct {
	field   string
	pattern *regexp.Regexp
}

func (m matchesPattern) Eval(v Values) bool {
	return m.pattern.MatchString(v[m.field])
}

func (m matchesPattern) String() string {
	return "matches(" + m.field + ", /" + m.pattern.String() + "/)"
}

type isSelected struct {
	field string
}

func (s isSelected) Eval(v Values) bool {
	value, ok := v[s.field]
	return ok && value != ""
}

func (s isSelected) String() string {
	return "selected(" + s.field + ")"
}

type isSelectedWith struct {
	field string
	value string
}

func (s isSelectedWith) Eval(v Values) bool {
	value, ok := v[s.field]
	return ok && value == s.value
}

func (s isSelectedWith) String() string {
	return "selected(" + s.field + ", " + s.value + ")"
}

type isNonEmpty struct {
	field string
}

// Whitespace counts as content, matching the text input's own emptiness test.
func (n isNonEmpty) Eval(v Values) bool {
	return v[n.field] != ""
}

func (n isNonEmpty) String() string {
	return "nonEmpty(" + n.field + ")"
}

type and []Expr

func (a and) Eval(v Values) bool {
	for _, expr := range a {
		if !expr.Eval(v) {
			return false
		}
	}
	return true
}

func (a and) String() string {
	return join("and", a)
}

type or []Expr

func (o or) Eval(v Values) bool {
	for _, expr := range o {
		if expr.Eval(v) {
			return true
		}
	}
	return false
}

func (o or) String() string {
	return join("or", o)
}

func join(op string, exprs []Expr) string {
	parts := make([]string, 0, len(exprs))
	for _, expr := range exprs {
		parts = append(parts, expr.String())
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// MatchesPattern panics if pattern does not compile, like regexp.MustCompile.
// Use Compile for patterns that come from configuration.
func MatchesPattern(field, pattern string) Expr {
	return matchesPattern{field: field, pattern: regexp.MustCompile(pattern)}
}

func IsSelected(field string) Expr {
	return isSelected{field: field}
}

func IsSelectedWith(field, value string) Expr {
	return isSelectedWith{field: field, value: value}
}

func IsNonEmpty(field string) Expr {
	return isNonEmpty{field: field}
}

// And is true for an empty operand list.
func And(exprs ...Expr) Expr {
	return and(exprs)
}

// Or is false for an empty operand list.
func Or(exprs ...Expr) Expr {
	return or(exprs)
}

// Gate evaluates expr and calls onFailure when it does not hold. onFailure
// may be nil.
func Gate(expr Expr, values Values, onFailure func()) bool {
	if expr.Eval(values) {
		return true
	}
	if onFailure != nil {
		onFailure()
	}
	return false
}

// DemographicsGate is the validation rule of the demographics form: a
// numeric age, every dropdown answered, and the free-text language fields
// filled in whenever the paired dropdown calls for them.
func DemographicsGate() Expr {
	return And(
		MatchesPattern("alter", `^\d+$`),
		IsSelected("geschlecht"),
		IsSelected("sprachstoerung"),
		IsSelected("germanistik_hintergrund"),
		IsSelected("muttersprache_deutsch"),
		IsSelected("mehrsprachig"),
		Or(IsSelectedWith("muttersprache_deutsch", "Ja"), IsNonEmpty("andere_muttersprache")),
		Or(IsSelectedWith("mehrsprachig", "Nein"), IsNonEmpty("weitere_muttersprachen")),
	)
}
