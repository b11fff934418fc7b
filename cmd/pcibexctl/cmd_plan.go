package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

var (
	planSeed uint64
	planJSON bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print one realized trial sequence",
	Long: `Realizes the plan the way a session would and prints every plan entry with
the trials it expanded to. The same --seed always gives the same order.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().Uint64Var(&planSeed, "seed", 1, "random seed for permutation groups")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the realized trials as JSON")
	rootCmd.AddCommand(planCmd)
}

type plannedEntry struct {
	Entry  experiment.Entry   `json:"entry"`
	Trials []experiment.Trial `json:"trials,omitempty"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	def, practice, mainRows, err := loadDefinition("", "")
	if err != nil {
		return err
	}
	exp, err := def.Build(practice, mainRows)
	if err != nil {
		return err
	}
	realized, dropped := exp.Sequencer.Realize(rand.New(experiment.SeededSource(planSeed)))

	out := cmd.OutOrStdout()
	if planJSON {
		entries := make([]plannedEntry, len(realized))
		for i, trials := range realized {
			entries[i] = plannedEntry{Entry: exp.Sequencer.Entry(i), Trials: trials}
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	counted := 0
	for i, trials := range realized {
		entry := exp.Sequencer.Entry(i)
		fmt.Fprintf(out, "%3d %-12s %s\n", i, entry.Kind, strings.Join(entry.Names, ","))
		for _, trial := range trials {
			marker := " "
			if trial.Countable {
				counted++
				marker = "*"
			}
			fmt.Fprintf(out, "      %s %s\n", marker, trial.ID)
		}
	}
	fmt.Fprintf(out, "%d counted trials\n", counted)
	for _, d := range dropped {
		fmt.Fprintf(out, "dropped item %s: %v\n", d.ItemID, d.Err)
	}
	return nil
}
