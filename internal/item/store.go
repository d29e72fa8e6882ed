// Package item provides file-backed storage for notes and checklists.
// Each item lives at dataDir/items/<owner>/<category>/<id>.json and carries a
// stable UUID in its metadata. The UUID survives renames, moves between
// categories, and ownership transfer; the (owner, category, id) path does not.
package item

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"inkwell/api/internal/util"
)

type Type string

const (
	TypeNote      Type = "note"
	TypeChecklist Type = "checklist"
)

// DefaultCategory is the sentinel an empty or absent category normalizes to.
const DefaultCategory = "Uncategorized"

var (
	ErrNotFound    = errors.New("item not found")
	ErrInvalidPath = errors.New("invalid item path")
)

type Item struct {
	UUID      string          `json:"uuid"`
	Type      Type            `json:"type"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Metadata struct {
	UUID      string
	Type      Type
	Title     string
	UpdatedAt time.Time
}

// Location is the current address of an item: mutable, unlike the UUID.
type Location struct {
	Owner    string
	Category string
	ID       string
}

type Entry struct {
	Location Location
	Metadata Metadata
}

// FileStore reads and writes items under dataDir/items. Mutations take the
// write lock; lookups that walk the tree take the read lock so a concurrent
// move cannot tear a scan.
type FileStore struct {
	dataDir string
	mu      sync.RWMutex
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

// NormalizeCategory maps the empty category to the sentinel and trims
// surrounding slashes from slash-delimited paths.
func NormalizeCategory(category string) string {
	category = strings.Trim(strings.TrimSpace(category), "/")
	if category == "" {
		return DefaultCategory
	}
	return category
}

func validSegment(segment string) bool {
	if segment == "" || segment == "." || segment == ".." {
		return false
	}
	return !strings.ContainsAny(segment, `/\`)
}

func (s *FileStore) itemPath(owner, category, id string) (string, error) {
	category = NormalizeCategory(category)
	if !validSegment(owner) || !validSegment(id) {
		return "", ErrInvalidPath
	}
	segments := strings.Split(category, "/")
	for _, segment := range segments {
		if !validSegment(segment) {
			return "", ErrInvalidPath
		}
	}
	parts := append([]string{s.dataDir, "items", owner}, segments...)
	parts = append(parts, id+".json")
	return filepath.Join(parts...), nil
}

func (s *FileStore) Read(owner, category, id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(owner, category, id)
}

func (s *FileStore) readLocked(owner, category, id string) (Item, error) {
	path, err := s.itemPath(owner, category, id)
	if err != nil {
		return Item{}, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("read item: %w", err)
	}
	var parsed Item
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Item{}, fmt.Errorf("decode item %s: %w", path, err)
	}
	return parsed, nil
}

// ReadMetadata returns the stored metadata for an item, or ErrNotFound when
// the item has never been persisted.
func (s *FileStore) ReadMetadata(owner, category, id string) (Metadata, error) {
	parsed, err := s.Read(owner, category, id)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{UUID: parsed.UUID, Type: parsed.Type, Title: parsed.Title, UpdatedAt: parsed.UpdatedAt}, nil
}

// Write persists an item, assigning a fresh UUID on first save and preserving
// the stored UUID on every later save regardless of what the caller passes.
func (s *FileStore) Write(owner, category, id string, incoming Item) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.itemPath(owner, category, id)
	if err != nil {
		return Item{}, err
	}

	now := time.Now().UTC()
	existing, err := s.readLocked(owner, category, id)
	switch {
	case err == nil:
		incoming.UUID = existing.UUID
		incoming.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		incoming.UUID = util.NewUUID()
		incoming.CreatedAt = now
	default:
		return Item{}, err
	}
	incoming.UpdatedAt = now

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Item{}, fmt.Errorf("create item dir: %w", err)
	}
	payload, err := json.MarshalIndent(incoming, "", "  ")
	if err != nil {
		return Item{}, fmt.Errorf("encode item: %w", err)
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return Item{}, fmt.Errorf("write item: %w", err)
	}
	return incoming, nil
}

func (s *FileStore) Delete(owner, category, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.itemPath(owner, category, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Move relocates an item within the owner's storage area, keeping its UUID.
func (s *FileStore) Move(owner, oldCategory, oldID, newCategory, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldPath, err := s.itemPath(owner, oldCategory, oldID)
	if err != nil {
		return err
	}
	newPath, err := s.itemPath(owner, newCategory, newID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(oldPath); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("create item dir: %w", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("move item: %w", err)
	}
	return nil
}

// RenameOwner moves an owner's whole storage area to a new username. The
// caller follows up with the sharing consistency pass so grant records catch
// up with the new sharer name.
func (s *FileStore) RenameOwner(oldOwner, newOwner string) error {
	if !validSegment(oldOwner) || !validSegment(newOwner) {
		return ErrInvalidPath
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	oldRoot := filepath.Join(s.dataDir, "items", oldOwner)
	newRoot := filepath.Join(s.dataDir, "items", newOwner)
	if _, err := os.Stat(oldRoot); errors.Is(err, fs.ErrNotExist) {
		// Nothing stored yet; the rename is trivially done.
		return nil
	}
	if _, err := os.Stat(newRoot); err == nil {
		return fmt.Errorf("rename owner: %s already has items", newOwner)
	}
	if err := os.Rename(oldRoot, newRoot); err != nil {
		return fmt.Errorf("rename owner: %w", err)
	}
	return nil
}

func (s *FileStore) Exists(owner, category, id string) bool {
	path, err := s.itemPath(owner, category, id)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(path)
	return err == nil
}

// FindByUUID locates an item by its stable identity. The owner hint, when
// given, is scanned first as a fast path; the full tree is searched otherwise.
func (s *FileStore) FindByUUID(uuid, ownerHint string) (Location, error) {
	if uuid == "" {
		return Location{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ownerHint != "" && validSegment(ownerHint) {
		if loc, ok := s.scanOwner(ownerHint, func(entry Entry) bool {
			return entry.Metadata.UUID == uuid
		}); ok {
			return loc, nil
		}
	}
	return s.scanAll(func(entry Entry) bool {
		return entry.Metadata.UUID == uuid
	})
}

// FindByLocation resolves (id, category) to an owner without a UUID. This is
// the fallback index: a UUID match always wins over it, and when several
// owners hold an item at the same (id, category) the lexicographically first
// owner is returned so the tie-break is deterministic.
func (s *FileStore) FindByLocation(id, category string) (Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category = NormalizeCategory(category)
	return s.scanAll(func(entry Entry) bool {
		return entry.Location.ID == id && entry.Location.Category == category
	})
}

func (s *FileStore) List(owner string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !validSegment(owner) {
		return nil, ErrInvalidPath
	}
	entries := make([]Entry, 0)
	err := s.walkOwner(owner, func(entry Entry) bool {
		entries = append(entries, entry)
		return false
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Owners lists every username with an item directory, sorted.
func (s *FileStore) Owners() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirs, err := os.ReadDir(filepath.Join(s.dataDir, "items"))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	owners := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir.IsDir() {
			owners = append(owners, dir.Name())
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *FileStore) scanOwner(owner string, match func(Entry) bool) (Location, bool) {
	var found Location
	hit := false
	_ = s.walkOwner(owner, func(entry Entry) bool {
		if match(entry) {
			found = entry.Location
			hit = true
			return true
		}
		return false
	})
	return found, hit
}

func (s *FileStore) scanAll(match func(Entry) bool) (Location, error) {
	root := filepath.Join(s.dataDir, "items")
	owners, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("scan items: %w", err)
	}
	for _, ownerDir := range owners {
		if !ownerDir.IsDir() {
			continue
		}
		if loc, ok := s.scanOwner(ownerDir.Name(), match); ok {
			return loc, nil
		}
	}
	return Location{}, ErrNotFound
}

// walkOwner visits every item under one owner; stop the walk by returning
// true from the callback.
func (s *FileStore) walkOwner(owner string, visit func(Entry) bool) error {
	root := filepath.Join(s.dataDir, "items", owner)
	errStop := errors.New("stop")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		category := filepath.ToSlash(filepath.Dir(rel))
		if category == "." {
			category = DefaultCategory
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var parsed Item
		if err := json.Unmarshal(raw, &parsed); err != nil {
			// Skip corrupt files rather than failing the whole scan.
			return nil
		}
		entry := Entry{
			Location: Location{Owner: owner, Category: category, ID: strings.TrimSuffix(d.Name(), ".json")},
			Metadata: Metadata{UUID: parsed.UUID, Type: parsed.Type, Title: parsed.Title, UpdatedAt: parsed.UpdatedAt},
		}
		if visit(entry) {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	return nil
}
