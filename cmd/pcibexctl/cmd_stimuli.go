package main

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/config"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/gitrepo"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/stimuli"
)

var (
	validateStrict bool
	blockMaxSize   int
	blockSeed      uint64
	tagRevision    string
	tagAuthor      string
)

var validateCmd = &cobra.Command{
	Use:   "validate [practice.csv] [main.csv]",
	Short: "Compile the experiment against stimulus tables",
	Long: `Reads both tables, compiles the experiment definition against them and
expands every trial once. Rows that would be dropped from their block and
blocks that miss an anaphor type are reported.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runValidate,
}

var prepareCmd = &cobra.Command{
	Use:   "prepare <in.csv> <out.csv>",
	Short: "Chunk raw stimulus sentences and compute anapherIdx",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrepare,
}

var assignBlocksCmd = &cobra.Command{
	Use:   "assign-blocks <in.csv> <out.csv>",
	Short: "Distribute main items over blocks",
	Long: `Assigns the two trials of every item to blocks of at most --max-size trials,
balancing conditions and keeping the two trials of an item apart. Writes
block and block_bedingung columns.`,
	Args: cobra.ExactArgs(2),
	RunE: runAssignBlocks,
}

var tagCmd = &cobra.Command{
	Use:   "tag <name>",
	Short: "Tag a version of the stimulus repository",
	Long: `Names a committed version of the stimulus tables, usually the one a data
collection wave ran with. Tagging an existing name is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runTag,
}

func init() {
	tagCmd.Flags().StringVar(&tagRevision, "rev", "", "revision to tag (defaults to HEAD)")
	tagCmd.Flags().StringVar(&tagAuthor, "author", "pcibexctl", "tagger name")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "fail when any row is dropped or a block is unbalanced")
	assignBlocksCmd.Flags().IntVar(&blockMaxSize, "max-size", stimuli.DefaultMaxBlockSize, "maximum trials per block")
	assignBlocksCmd.Flags().Uint64Var(&blockSeed, "seed", 0, "random seed (0 draws a fresh one)")
	rootCmd.AddCommand(validateCmd, prepareCmd, assignBlocksCmd, tagCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var practicePath, mainPath string
	if len(args) > 0 {
		practicePath = args[0]
	}
	if len(args) > 1 {
		mainPath = args[1]
	}
	def, practice, mainRows, err := loadDefinition(practicePath, mainPath)
	if err != nil {
		return err
	}
	exp, err := def.Build(practice, mainRows)
	if err != nil {
		return err
	}

	var problems []string
	for _, row := range practice {
		if _, err := experiment.Expand(row, experiment.KindPractice); err != nil {
			problems = append(problems, err.Error())
		}
	}
	for _, row := range mainRows {
		if _, err := experiment.Expand(row, experiment.KindMain); err != nil {
			problems = append(problems, err.Error())
		}
	}
	problems = append(problems, stimuli.CheckBlocks(mainRows, def.AnaphorTypes...)...)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d practice rows, %d main rows, %d counted trials per session\n",
		def.Name, len(practice), len(mainRows), exp.Sequencer.CountableTotal())
	for _, problem := range problems {
		fmt.Fprintf(out, "  - %s\n", problem)
	}
	if validateStrict && len(problems) > 0 {
		return fmt.Errorf("%d problems found", len(problems))
	}
	return nil
}

func runPrepare(cmd *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	rows, err := stimuli.ReadUnprepared(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	prepared, warnings := stimuli.PrepareRows(rows)
	for _, warning := range warnings {
		logger.Warn("anaphor not marked", zap.String("detail", warning))
	}
	if err := writeTable(args[1], prepared, experiment.KindPractice); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "prepared %d rows (%d warnings) -> %s\n", len(prepared), len(warnings), args[1])
	return nil
}

func runAssignBlocks(cmd *cobra.Command, args []string) error {
	def, err := config.LoadExperiment(experimentFile)
	if err != nil {
		return err
	}
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	rows, err := stimuli.ReadRows(in, experiment.KindPractice)
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	src := experiment.NewSource()
	if blockSeed != 0 {
		src = experiment.SeededSource(blockSeed)
	}
	blocked, err := stimuli.AssignBlocks(rows, blockMaxSize, rand.New(src))
	if err != nil {
		return err
	}
	for _, problem := range stimuli.CheckBlocks(blocked, def.AnaphorTypes...) {
		logger.Warn("block check", zap.String("detail", problem))
	}
	if err := writeTable(args[1], blocked, experiment.KindMain); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "assigned %d trials -> %s\n", len(blocked), args[1])
	return nil
}

func runTag(cmd *cobra.Command, args []string) error {
	repo := gitrepo.New(stimuliDir)
	revision := tagRevision
	if revision == "" {
		head, err := repo.Head()
		if err != nil {
			return err
		}
		revision = head.Hash
	}
	if err := repo.Tag(revision, args[0], tagAuthor); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tagged %s as %s\n", revision, args[0])
	return nil
}

func writeTable(path string, rows []experiment.Row, kind experiment.Kind) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := stimuli.WriteRows(out, rows, kind); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
