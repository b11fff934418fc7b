package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/gitrepo"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/stimuli"
)

const cliExperiment = `name: cli-test
plan:
  - kind: trial
    names: [1I]
  - kind: sendResults
  - kind: trial
    names: [end]
`

const cliPractice = `itemNummer,kontext,bedingung,anapherArt,unterkategorie,spezifikation,anker,anapher,anapherIdx,stimulussatz,verstaendnisfrage,erwarteteAntwort
p_1,neutral,I,IA,tier,def,Hund,Er,2,Der/Hund//Er/bellt.,Bellt der Hund?,Ja
`

const cliMain = `itemNummer,kontext,bedingung,anapherArt,unterkategorie,spezifikation,anker,anapher,anapherIdx,stimulussatz,verstaendnisfrage,erwarteteAntwort,block,block_bedingung
7,neutral,I,IA,person,def,Frau,Sie,2,Die/Frau//Sie/singt.,,,1,1I
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	validateStrict = false
	tagRevision = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestValidateReportsCountsAndUnbalancedBlocks(t *testing.T) {
	dir := t.TempDir()
	exp := writeFile(t, dir, "experiment.yaml", cliExperiment)
	practice := writeFile(t, dir, "practice.csv", cliPractice)
	mainTable := writeFile(t, dir, "main.csv", cliMain)

	out, err := execute(t, "validate", practice, mainTable, "--experiment", exp)
	require.NoError(t, err)
	assert.Contains(t, out, "cli-test: 1 practice rows, 1 main rows, 1 counted trials per session")
	assert.Contains(t, out, "block 1: no DA trial")

	_, err = execute(t, "validate", practice, mainTable, "--experiment", exp, "--strict")
	require.Error(t, err)
}

func TestValidateRejectsUnknownPlanName(t *testing.T) {
	dir := t.TempDir()
	exp := writeFile(t, dir, "experiment.yaml", strings.Replace(cliExperiment, "[1I]", "[9V]", 1))
	practice := writeFile(t, dir, "practice.csv", cliPractice)
	mainTable := writeFile(t, dir, "main.csv", cliMain)

	_, err := execute(t, "validate", practice, mainTable, "--experiment", exp)
	var configuration *experiment.ConfigurationError
	require.ErrorAs(t, err, &configuration)
}

func TestPlanPrintsRealizedSequence(t *testing.T) {
	dir := t.TempDir()
	exp := writeFile(t, dir, "experiment.yaml", cliExperiment)
	writeFile(t, dir, "practice-stimuli.csv", cliPractice)
	writeFile(t, dir, "blocked_trials.csv", cliMain)

	out, err := execute(t, "plan", "--experiment", exp, "--stimuli-dir", dir, "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "0/1I/7")
	assert.Contains(t, out, "1 counted trials")
	assert.Contains(t, out, "sendResults")
}

func TestPrepareWritesChunkedTable(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "raw.csv", `itemNummer,kontext,bedingung,anapherArt,unterkategorie,spezifikation,anker,anapher,stimulussatz
1,neutral,I,DA,person,def,Mann,der Mann,Ein Mann kam herein. Der Mann lachte laut.
`)
	out := filepath.Join(dir, "prepared.csv")

	stdout, err := execute(t, "prepare", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "prepared 1 rows")

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()
	rows, err := stimuli.ReadRows(file, experiment.KindPractice)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Stimulus, experiment.SentenceSeparator)
	assert.NotEmpty(t, rows[0].AnaphorIndex)
}

func TestTagNamesHeadOfStimulusRepository(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blocked_trials.csv", cliMain)
	repo := gitrepo.New(dir)
	require.NoError(t, repo.Ensure("tester"))
	head, err := repo.Head()
	require.NoError(t, err)

	out, err := execute(t, "tag", "wave-1", "--stimuli-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "tagged "+head.Hash+" as wave-1")

	_, err = execute(t, "tag", "wave-1", "--stimuli-dir", dir)
	require.NoError(t, err)
}
