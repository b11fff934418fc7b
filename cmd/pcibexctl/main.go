// Command pcibexctl prepares stimulus tables, dry-runs the experiment plan
// and administers the results database.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/config"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/logging"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/stimuli"
)

var (
	experimentFile string
	stimuliDir     string
	logLevel       string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pcibexctl",
	Short: "Tools for the PCIbex reading-time experiment",
	Long: `pcibexctl works on the stimulus tables and the results database.

Stimulus preparation:
  prepare       - chunk raw sentences and locate the anaphor
  assign-blocks - distribute main items over blocks
  validate      - compile the experiment against a pair of tables
  plan          - print one realized trial sequence
  tag           - name a version of the stimulus repository

Database:
  migrate         - apply pending migrations
  researcher add  - create a researcher account
  export          - write one session's results to a file`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	cfg := config.Load()
	rootCmd.PersistentFlags().StringVar(&experimentFile, "experiment", cfg.ExperimentFile, "experiment definition (YAML); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&stimuliDir, "stimuli-dir", cfg.StimuliDir, "directory holding the stimulus tables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadDefinition reads the experiment definition and the two stimulus
// tables. Empty paths fall back to the files named by the definition.
func loadDefinition(practicePath, mainPath string) (config.Experiment, []experiment.Row, []experiment.Row, error) {
	def, err := config.LoadExperiment(experimentFile)
	if err != nil {
		return config.Experiment{}, nil, nil, err
	}
	if practicePath == "" {
		practicePath = filepath.Join(stimuliDir, def.PracticeFile)
	}
	if mainPath == "" {
		mainPath = filepath.Join(stimuliDir, def.MainFile)
	}
	practice, err := stimuli.ReadFile(practicePath, experiment.KindPractice)
	if err != nil {
		return config.Experiment{}, nil, nil, err
	}
	mainRows, err := stimuli.ReadFile(mainPath, experiment.KindMain)
	if err != nil {
		return config.Experiment{}, nil, nil, err
	}
	return def, practice, mainRows, nil
}
