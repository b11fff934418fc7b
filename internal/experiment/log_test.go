package experiment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorLastWriteWinsInPlace(t *testing.T) {
	acc := NewAccumulator(0)
	require.NoError(t, acc.Begin("t1", "1I"))
	require.NoError(t, acc.Write("t1", "uebung", "FALSE"))
	require.NoError(t, acc.Write("t1", "selection", "Nein"))
	require.NoError(t, acc.Write("t1", "itemNummer", "4"))
	require.NoError(t, acc.Write("t1", "selection", "Ja"))

	rec, err := acc.Commit("t1", true, 10)
	require.NoError(t, err)

	assert.Equal(t, []Field{
		{Name: "uebung", Value: "FALSE"},
		{Name: "selection", Value: "Ja"},
		{Name: "itemNummer", Value: "4"},
	}, rec.Fields)
	assert.Equal(t, "1I", rec.Label)
	assert.Equal(t, int64(10), rec.CommittedAt)
}

func TestAccumulatorRejectsSecondCommit(t *testing.T) {
	acc := NewAccumulator(0)
	require.NoError(t, acc.Write("t1", "a", "1"))

	_, err := acc.Commit("t1", true, 1)
	require.NoError(t, err)
	require.Equal(t, 1, acc.Progress.Value())

	_, err = acc.Commit("t1", true, 2)
	if !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("Commit() error = %v, want ErrAlreadyCommitted", err)
	}
	assert.Equal(t, 1, acc.Progress.Value(), "second commit must not count")
	assert.Len(t, acc.Records(), 1)

	assert.ErrorIs(t, acc.Write("t1", "a", "2"), ErrAlreadyCommitted)
	assert.ErrorIs(t, acc.AddReadings("t1", []ChunkReading{{Index: 0}}), ErrAlreadyCommitted)
}

func TestAccumulatorCountsOnlyCountableCommits(t *testing.T) {
	acc := NewAccumulator(5)
	_, err := acc.Commit("practice", false, 1)
	require.NoError(t, err)
	_, err = acc.Commit("main-1", true, 2)
	require.NoError(t, err)
	_, err = acc.Commit("main-2", true, 3)
	require.NoError(t, err)

	assert.Equal(t, Progress{Start: 5, Count: 2}, acc.Progress)
	assert.Equal(t, 7, acc.Progress.Value())

	ids := []string{}
	for _, rec := range acc.Records() {
		ids = append(ids, rec.TrialID)
	}
	assert.Equal(t, []string{"practice", "main-1", "main-2"}, ids)
}

func TestRecordsAreCopies(t *testing.T) {
	acc := NewAccumulator(0)
	require.NoError(t, acc.Write("t1", "a", "1"))
	_, err := acc.Commit("t1", false, 1)
	require.NoError(t, err)

	records := acc.Records()
	records[0].Fields[0].Value = "changed"

	value, ok := acc.Records()[0].Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", value)
}

func TestAccumulatorKeepsTrialsApart(t *testing.T) {
	acc := NewAccumulator(0)
	require.NoError(t, acc.Write("t1", "a", "1"))
	require.NoError(t, acc.Write("t2", "a", "2"))

	rec, err := acc.Commit("t2", false, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2"}, rec.Map())
	require.Len(t, acc.Open, 1)
	assert.Equal(t, "t1", acc.Open[0].TrialID)
}
