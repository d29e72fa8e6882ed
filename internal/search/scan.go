package search

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"inkwell/api/internal/item"
)

// FileScan is the fallback Searcher used when Meilisearch is not configured
// or unreachable. It walks the item tree and does case-insensitive substring
// matching over titles and content.
type FileScan struct {
	items *item.FileStore
}

func NewFileScan(items *item.FileStore) *FileScan {
	return &FileScan{items: items}
}

// Healthy always reports true: the item tree is local.
func (f *FileScan) Healthy() bool {
	return true
}

func (f *FileScan) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return []Result{}, 0, nil
	}

	owners, err := f.items.Owners()
	if err != nil {
		return nil, 0, err
	}

	var matches []Result
	for _, owner := range owners {
		entries, err := f.items.List(owner)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if q.FilterType != "" && entry.Metadata.Type != q.FilterType {
				continue
			}
			loc := entry.Location
			titleHit := strings.Contains(strings.ToLower(entry.Metadata.Title), needle)
			text := ""
			if !titleHit {
				stored, err := f.items.Read(loc.Owner, loc.Category, loc.ID)
				if err != nil {
					continue
				}
				text = FlattenContent(stored.Content)
				if !strings.Contains(strings.ToLower(text), needle) {
					continue
				}
			}
			matches = append(matches, Result{
				Type:     entry.Metadata.Type,
				ID:       loc.ID,
				Category: loc.Category,
				Owner:    loc.Owner,
				Title:    entry.Metadata.Title,
				Snippet:  snippetAround(text, needle),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Owner != matches[j].Owner {
			return matches[i].Owner < matches[j].Owner
		}
		if matches[i].Category != matches[j].Category {
			return matches[i].Category < matches[j].Category
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

// FlattenContent reduces stored item content to plain text for matching and
// indexing. Strings come back verbatim; structured content (checklist entries,
// rich note bodies) contributes its string leaves in document order.
func FlattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	var parts []string
	collectStrings(value, &parts)
	return strings.Join(parts, " ")
}

func collectStrings(value interface{}, parts *[]string) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			*parts = append(*parts, v)
		}
	case []interface{}:
		for _, elem := range v {
			collectStrings(elem, parts)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(v[k], parts)
		}
	}
}

func snippetAround(text, needle string) string {
	const window = 80
	if text == "" {
		return ""
	}
	idx := strings.Index(strings.ToLower(text), needle)
	if idx < 0 {
		idx = 0
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(text) {
		end = len(text)
	}
	// Byte offsets can land inside a multi-byte rune; snap to boundaries so
	// the snippet stays valid UTF-8.
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	for end > start && end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	return strings.TrimSpace(text[start:end])
}
