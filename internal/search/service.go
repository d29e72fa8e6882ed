package search

import (
	"log"

	"inkwell/api/internal/item"
)

// Service is the facade that tries Meilisearch first and falls back to a
// file-tree scan. Results are filtered through the caller's visibility
// predicate so the index never leaks items the actor cannot read.
type Service struct {
	meili *Meili
	scan  *FileScan
	items *item.FileStore
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, items *item.FileStore) *Service {
	return &Service{meili: meili, scan: NewFileScan(items), items: items}
}

// Search runs the query and keeps only results the predicate allows. Total
// counts follow the filtered list so denied items are not even countable.
func (s *Service) Search(q Query, visible func(Result) bool) Response {
	results, _, err := s.backend(q)
	if err != nil {
		log.Printf("search: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if visible == nil || visible(result) {
			filtered = append(filtered, result)
		}
	}
	return Response{Results: filtered, Total: len(filtered), Query: q.Text}
}

func (s *Service) backend(q Query) ([]Result, int, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return results, total, nil
		}
		log.Printf("search: meilisearch error, falling back to file scan: %v", err)
	}
	return s.scan.Search(q)
}

// IndexItem indexes an item (fire-and-forget to Meilisearch).
func (s *Service) IndexItem(rec ItemRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexItem(rec); err != nil {
			log.Printf("search: index item %s: %v", rec.UUID, err)
		}
	}()
}

// DeleteItem removes an item from the search index (fire-and-forget).
func (s *Service) DeleteItem(uuid string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteItem(uuid); err != nil {
			log.Printf("search: delete item %s: %v", uuid, err)
		}
	}()
}

// ReindexAll walks the item tree and pushes every item into Meilisearch.
// Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll() {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	owners, err := s.items.Owners()
	if err != nil {
		log.Printf("search: reindex list owners: %v", err)
		return
	}
	var records []ItemRecord
	for _, owner := range owners {
		entries, err := s.items.List(owner)
		if err != nil {
			log.Printf("search: reindex list %s: %v", owner, err)
			continue
		}
		for _, entry := range entries {
			loc := entry.Location
			stored, err := s.items.Read(loc.Owner, loc.Category, loc.ID)
			if err != nil {
				continue
			}
			records = append(records, ItemRecord{
				UUID:     stored.UUID,
				ID:       loc.ID,
				Category: loc.Category,
				Owner:    loc.Owner,
				Type:     stored.Type,
				Title:    stored.Title,
				Text:     FlattenContent(stored.Content),
			})
		}
	}
	if err := s.meili.IndexItems(records); err != nil {
		log.Printf("search: reindex items: %v", err)
	}
}
