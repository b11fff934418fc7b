package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/predicate"
)

// BlockLayout generates the main section of the plan when no explicit plan
// is given.
type BlockLayout struct {
	Groups     int      `yaml:"groups"`
	Conditions []string `yaml:"conditions"`
	BreakAfter []int    `yaml:"breakAfter"`
}

// Experiment is the study definition read from the experiment YAML file.
type Experiment struct {
	Name          string                    `yaml:"name"`
	PracticeFile  string                    `yaml:"practiceFile"`
	MainFile      string                    `yaml:"mainFile"`
	CounterStart  int                       `yaml:"counterStart"`
	BreakDuration time.Duration             `yaml:"breakDuration"`
	MaxBlockSize  int                       `yaml:"maxBlockSize"`
	AnaphorTypes  []string                  `yaml:"anaphorTypes"`
	Texts         experiment.Texts          `yaml:"texts"`
	Blocks        BlockLayout               `yaml:"blocks"`
	Plan          experiment.Plan           `yaml:"plan"`
	Gates         map[string]predicate.Node `yaml:"gates"`
	Demographics  []experiment.FormInput    `yaml:"demographics"`
}

func DefaultExperiment() Experiment {
	return Experiment{
		Name:          "anaphern",
		PracticeFile:  "practice-stimuli.csv",
		MainFile:      "blocked_trials.csv",
		BreakDuration: 30 * time.Second,
		MaxBlockSize:  12,
		AnaphorTypes:  []string{"IA", "DA"},
		Texts:         experiment.DefaultTexts(),
		Blocks: BlockLayout{
			Groups:     8,
			Conditions: slices.Clone(experiment.DefaultConditions),
			BreakAfter: slices.Clone(experiment.DefaultBreaks),
		},
		Demographics: experiment.DemographicsInputs(),
	}
}

// LoadExperiment reads path on top of the defaults. An empty path returns
// the defaults. Unknown keys are rejected.
func LoadExperiment(path string) (Experiment, error) {
	if path == "" {
		return DefaultExperiment(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Experiment{}, fmt.Errorf("read experiment file: %w", err)
	}
	exp, err := ParseExperiment(raw)
	if err != nil {
		return Experiment{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return exp, nil
}

func ParseExperiment(raw []byte) (Experiment, error) {
	exp := DefaultExperiment()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&exp); err != nil && !errors.Is(err, io.EOF) {
		return Experiment{}, err
	}
	return exp, nil
}

// SequencePlan is the explicit plan if one is configured, otherwise the
// fixed opening screens, the generated block groups and the closing screen.
func (e Experiment) SequencePlan() experiment.Plan {
	if len(e.Plan) > 0 {
		return e.Plan
	}
	plan := experiment.Plan{
		experiment.Literal("consent"),
		experiment.Literal("demographics"),
		experiment.Literal("instructions"),
		experiment.Randomize(experiment.PracticeTemplate),
		experiment.Literal("practice-end"),
	}
	plan = append(plan, experiment.BlockPlan(e.Blocks.Groups, e.Blocks.Conditions, e.Blocks.BreakAfter)...)
	return append(plan, experiment.SendResults(), experiment.Literal("end"))
}

// Build compiles the definition against loaded stimulus rows.
func (e Experiment) Build(practice, main []experiment.Row) (*experiment.Experiment, error) {
	gates := map[string]predicate.Expr{
		experiment.DemographicsGateName: predicate.DemographicsGate(),
	}
	for name, node := range e.Gates {
		expr, err := predicate.Compile(node)
		if err != nil {
			return nil, &experiment.ConfigurationError{Message: fmt.Sprintf("gate %q: %v", name, err)}
		}
		gates[name] = expr
	}
	screens := experiment.Screens(e.Texts, e.Demographics, e.BreakDuration)
	catalog, err := experiment.NewCatalog(screens, practice, main)
	if err != nil {
		return nil, err
	}
	seq, err := experiment.NewSequencer(e.SequencePlan(), catalog)
	if err != nil {
		return nil, err
	}
	return experiment.New(seq, gates, e.CounterStart)
}
