package search

import (
	"context"
	"log"
)

// Service tries the index backend first and falls back to PG FTS.
type Service struct {
	index    Backend
	fallback Searcher
	loader   func(context.Context) ([]FormRecord, []ResponseRecord, error)
	spawn    func(func())
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{spawn: func(fn func()) { go fn() }}
	if meili != nil {
		s.index = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

// Search tries the index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// background runs fn off the request path when the index is reachable.
func (s *Service) background(what, id string, fn func() error) {
	if !s.indexReady() {
		return
	}
	s.spawn(func() {
		if err := fn(); err != nil {
			log.Printf("search: %s %s: %v", what, id, err)
		}
	})
}

func (s *Service) IndexForm(f FormRecord) {
	s.background("index form", f.ID, func() error { return s.index.IndexForm(f) })
}

func (s *Service) IndexResponse(r ResponseRecord) {
	s.background("index response", r.ID, func() error { return s.index.IndexResponse(r) })
}

func (s *Service) DeleteForm(id string) {
	s.background("delete form", id, func() error { return s.index.DeleteForm(id) })
}

func (s *Service) DeleteResponse(id string) {
	s.background("delete response", id, func() error { return s.index.DeleteResponse(id) })
}

// ReindexAll pushes the given records to the index.
func (s *Service) ReindexAll(forms []FormRecord, responses []ResponseRecord) {
	if !s.indexReady() {
		return
	}
	if len(forms) > 0 {
		if err := s.index.IndexForms(forms); err != nil {
			log.Printf("search: reindex forms: %v", err)
		}
	}
	if len(responses) > 0 {
		if err := s.index.IndexResponses(responses); err != nil {
			log.Printf("search: reindex responses: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes every searchable entity from PostgreSQL.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	forms, responses, err := s.loader(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(forms, responses)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
