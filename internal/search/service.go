package search

import (
	"sync"

	"go.uber.org/zap"
)

// Indexer pushes stimulus items into an external index.
type Indexer interface {
	Healthy() bool
	IndexItems(items []ItemRecord) error
	DeleteItem(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if meili == nil {
		return newService(nil, nil, pgfts, logger)
	}
	return newService(meili, meili, pgfts, logger)
}

func newService(primary Searcher, indexer Indexer, fallback Searcher, logger *zap.Logger) *Service {
	return &Service{primary: primary, indexer: indexer, fallback: fallback, logger: logger}
}

// Search tries the primary engine if healthy, otherwise falls back.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// ReplaceItems brings the index from previous to current in the background:
// items missing from current are deleted, the rest are upserted.
func (s *Service) ReplaceItems(previous, current []ItemRecord) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	keep := make(map[string]bool, len(current))
	for _, item := range current {
		keep[item.ID] = true
	}
	var stale []string
	for _, item := range previous {
		if !keep[item.ID] {
			stale = append(stale, item.ID)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, id := range stale {
			if err := s.indexer.DeleteItem(id); err != nil {
				s.logger.Warn("delete stimulus item from index", zap.String("id", id), zap.Error(err))
			}
		}
		if err := s.indexer.IndexItems(current); err != nil {
			s.logger.Warn("index stimulus items", zap.Int("items", len(current)), zap.Error(err))
		}
	}()
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
