package search

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct {
	healthy bool
	results []Result
	err     error
	queries []Query

	mu      sync.Mutex
	indexed []ItemRecord
	deleted []string
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	return f.results, len(f.results), f.err
}

func (f *fakeEngine) IndexItems(items []ItemRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, items...)
	return nil
}

func (f *fakeEngine) DeleteItem(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeEngine{healthy: true, results: []Result{{ID: "main-1I-1"}}}
	fallback := &fakeEngine{healthy: true, results: []Result{{ID: "other"}}}
	svc := newService(primary, primary, fallback, zap.NewNop())

	resp := svc.Search(Query{Text: "Tür"})
	assert.Equal(t, "meilisearch", resp.Engine)
	assert.Equal(t, []Result{{ID: "main-1I-1"}}, resp.Results)
	assert.Empty(t, fallback.queries)
}

func TestSearchFallsBack(t *testing.T) {
	cases := []struct {
		name    string
		primary *fakeEngine
	}{
		{name: "unhealthy", primary: &fakeEngine{healthy: false}},
		{name: "error", primary: &fakeEngine{healthy: true, err: errors.New("boom")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fallback := &fakeEngine{healthy: true}
			svc := newService(tc.primary, tc.primary, fallback, zap.NewNop())

			resp := svc.Search(Query{Text: "Haus", Kind: "main"})
			assert.Equal(t, "postgres", resp.Engine)
			assert.NotNil(t, resp.Results)
			require.Len(t, fallback.queries, 1)
			assert.Equal(t, "main", fallback.queries[0].Kind)
		})
	}
}

func TestReplaceItemsDeletesStaleEntries(t *testing.T) {
	engine := &fakeEngine{healthy: true}
	svc := newService(engine, engine, nil, zap.NewNop())

	previous := []ItemRecord{{ID: "main-1I-1"}, {ID: "main-1M-2"}}
	current := []ItemRecord{{ID: "main-1I-1"}, {ID: "main-2M-2"}}
	svc.ReplaceItems(previous, current)
	svc.Wait()

	assert.Equal(t, []string{"main-1M-2"}, engine.deleted)
	assert.Equal(t, current, engine.indexed)
}

func TestReplaceItemsSkipsUnhealthyIndexer(t *testing.T) {
	engine := &fakeEngine{healthy: false}
	svc := newService(engine, engine, nil, zap.NewNop())
	svc.ReplaceItems(nil, []ItemRecord{{ID: "x"}})
	svc.Wait()
	assert.Empty(t, engine.indexed)
}

func TestRecordFromItem(t *testing.T) {
	record := RecordFromItem(store.StimulusItem{Kind: "practice", Label: "practice-trial", ItemID: "p 1", Anaphor: "die Tür"})
	assert.Equal(t, "practice-practice-trial-p_1", record.ID)
	assert.Equal(t, "die Tür", record.Anaphor)
}

func TestPgftsWhere(t *testing.T) {
	where, args := pgftsWhere(Query{Text: "Tür", Kind: "main", AnaphorType: "IA"})
	assert.Equal(t, "search_vector @@ plainto_tsquery('german', $1) AND kind = $2 AND anaphor_type = $3", where)
	assert.Equal(t, []any{"Tür", "main", "IA"}, args)
}

func TestQueryLimit(t *testing.T) {
	assert.Equal(t, 20, Query{}.limit())
	assert.Equal(t, 5, Query{Limit: 5}.limit())
	assert.Equal(t, 100, Query{Limit: 1000}.limit())
}
