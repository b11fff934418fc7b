package predicate

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidNode = errors.New("invalid predicate node")

// Node is the data form of an expression as it appears in experiment
// configuration files. Exactly one key must be set.
type Node struct {
	And          []Node        `json:"and,omitempty" yaml:"and,omitempty"`
	Or           []Node        `json:"or,omitempty" yaml:"or,omitempty"`
	Matches      *FieldPattern `json:"matches,omitempty" yaml:"matches,omitempty"`
	Selected     string        `json:"selected,omitempty" yaml:"selected,omitempty"`
	SelectedWith *FieldValue   `json:"selectedWith,omitempty" yaml:"selectedWith,omitempty"`
	NonEmpty     string        `json:"nonEmpty,omitempty" yaml:"nonEmpty,omitempty"`
}

type FieldPattern struct {
	Field   string `json:"field" yaml:"field"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

type FieldValue struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

func Compile(node Node) (Expr, error) {
	set := 0
	if node.And != nil {
		set++
	}
	if node.Or != nil {
		set++
	}
	if node.Matches != nil {
		set++
	}
	if node.Selected != "" {
		set++
	}
	if node.SelectedWith != nil {
		set++
	}
	if node.NonEmpty != "" {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: expected exactly one operator, got %d", ErrInvalidNode, set)
	}

	switch {
	case node.And != nil:
		children, err := compileAll(node.And)
		if err != nil {
			return nil, err
		}
		return And(children...), nil
	case node.Or != nil:
		children, err := compileAll(node.Or)
		if err != nil {
			return nil, err
		}
		return Or(children...), nil
	case node.Matches != nil:
		if node.Matches.Field == "" {
			return nil, fmt.Errorf("%w: matches requires a field", ErrInvalidNode)
		}
		pattern, err := regexp.Compile(node.Matches.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern for %s: %v", ErrInvalidNode, node.Matches.Field, err)
		}
		return matchesPattern{field: node.Matches.Field, pattern: pattern}, nil
	case node.Selected != "":
		return IsSelected(node.Selected), nil
	case node.SelectedWith != nil:
		if node.SelectedWith.Field == "" {
			return nil, fmt.Errorf("%w: selectedWith requires a field", ErrInvalidNode)
		}
		return IsSelectedWith(node.SelectedWith.Field, node.SelectedWith.Value), nil
	default:
		return IsNonEmpty(node.NonEmpty), nil
	}
}

func compileAll(nodes []Node) ([]Expr, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: empty operand list", ErrInvalidNode)
	}
	out := make([]Expr, 0, len(nodes))
	for i, child := range nodes {
		expr, err := Compile(child)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		out = append(out, expr)
	}
	return out, nil
}
