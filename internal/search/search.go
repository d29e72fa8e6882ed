package search

import "inkwell/api/internal/item"

// Result is a single search hit returned to the caller.
type Result struct {
	Type     item.Type `json:"type"`
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Owner    string    `json:"owner"`
	Title    string    `json:"title"`
	Snippet  string    `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType item.Type // empty = both types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push items into a search index.
type Indexer interface {
	IndexItem(rec ItemRecord) error
	DeleteItem(uuid string) error
}

// ItemRecord is the data we index for a note or checklist. UUID is the
// primary key so renames and moves re-index in place.
type ItemRecord struct {
	UUID     string    `json:"uuid"`
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Owner    string    `json:"owner"`
	Type     item.Type `json:"type"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
}
