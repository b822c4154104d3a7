package search

import (
	"context"
	"log"
)

// indexSearcher is what the primary backend must provide.
type indexSearcher interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  indexSearcher
	fallback Searcher
	meili    *Meili
	pgfts    *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{meili: meili, pgfts: pgfts, fallback: pgfts}
	if meili != nil {
		s.primary = meili
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: primary backend error, falling back to pgfts: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject indexes a project (fire-and-forget to the primary backend).
func (s *Service) IndexProject(p ProjectRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexProject(p); err != nil {
			log.Printf("search: index project %s: %v", p.ID, err)
		}
	}()
}

// IndexTask indexes a task (fire-and-forget to the primary backend).
func (s *Service) IndexTask(t TaskRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexTask(t); err != nil {
			log.Printf("search: index task %s: %v", t.ID, err)
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to the primary backend).
func (s *Service) IndexComment(c CommentRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexComment(c); err != nil {
			log.Printf("search: index comment %s: %v", c.ID, err)
		}
	}()
}

// DeleteProject removes a project from the search index (fire-and-forget).
func (s *Service) DeleteProject(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteProject(id); err != nil {
			log.Printf("search: delete project %s: %v", id, err)
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteTask(id); err != nil {
			log.Printf("search: delete task %s: %v", id, err)
		}
	}()
}

// DeleteComment removes a comment from the search index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteComment(id); err != nil {
			log.Printf("search: delete comment %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to the primary backend.
func (s *Service) ReindexAll(projects []ProjectRecord, tasks []TaskRecord, comments []CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(projects) > 0 {
		if err := s.meili.IndexProjects(projects); err != nil {
			log.Printf("search: reindex projects: %v", err)
		}
	}
	if len(tasks) > 0 {
		if err := s.meili.IndexTasks(tasks); err != nil {
			log.Printf("search: reindex tasks: %v", err)
		}
	}
	if len(comments) > 0 {
		if err := s.meili.IndexComments(comments); err != nil {
			log.Printf("search: reindex comments: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	projects, tasks, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(projects, tasks, comments)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
