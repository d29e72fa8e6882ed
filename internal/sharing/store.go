package sharing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"inkwell/api/internal/item"
)

// Store persists grant sets, one document per item type. It is the sole
// source of truth for grants; no in-memory copy is authoritative across
// requests. Implementations only need plain load/save; the Engine serializes
// read-modify-write cycles per item type.
type Store interface {
	Load(itemType item.Type) (GrantSet, error)
	Save(itemType item.Type, grants GrantSet) error
	LoadAll() (notes GrantSet, checklists GrantSet, err error)
}

// FileStore keeps one JSON document per item type under dataDir/shares.
type FileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

func (s *FileStore) path(itemType item.Type) string {
	return filepath.Join(s.dataDir, "shares", string(itemType)+"s.json")
}

// Load returns an empty set, not an error, when no grant file exists yet.
// Decoding is strict: unknown keys in grant records are rejected rather than
// silently dropped.
func (s *FileStore) Load(itemType item.Type) (GrantSet, error) {
	raw, err := os.ReadFile(s.path(itemType))
	if errors.Is(err, fs.ErrNotExist) {
		return GrantSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s grants: %w", itemType, err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	grants := GrantSet{}
	if err := decoder.Decode(&grants); err != nil {
		return nil, fmt.Errorf("decode %s grants: %w", itemType, err)
	}
	return grants, nil
}

// Save writes the whole set atomically: temp file in the same directory, then
// rename over the target.
func (s *FileStore) Save(itemType item.Type, grants GrantSet) error {
	path := s.path(itemType)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shares dir: %w", err)
	}
	payload, err := json.MarshalIndent(grants, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s grants: %w", itemType, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+string(itemType)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp grant file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write grant file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close grant file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace grant file: %w", err)
	}
	return nil
}

func (s *FileStore) LoadAll() (GrantSet, GrantSet, error) {
	notes, err := s.Load(item.TypeNote)
	if err != nil {
		return nil, nil, err
	}
	checklists, err := s.Load(item.TypeChecklist)
	if err != nil {
		return nil, nil, err
	}
	return notes, checklists, nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	sets map[item.Type]GrantSet

	// LoadErr and SaveErr, when set, are returned by every call. Tests use
	// them to exercise fail-closed behavior.
	LoadErr error
	SaveErr error

	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: map[item.Type]GrantSet{}}
}

func (s *MemoryStore) Load(itemType item.Type) (GrantSet, error) {
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	grants := GrantSet{}
	for receiver, list := range s.sets[itemType] {
		grants[receiver] = append([]Grant(nil), list...)
	}
	return grants, nil
}

func (s *MemoryStore) Save(itemType item.Type, grants GrantSet) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	copied := GrantSet{}
	for receiver, list := range grants {
		copied[receiver] = append([]Grant(nil), list...)
	}
	s.sets[itemType] = copied
	s.saves++
	return nil
}

func (s *MemoryStore) LoadAll() (GrantSet, GrantSet, error) {
	notes, err := s.Load(item.TypeNote)
	if err != nil {
		return nil, nil, err
	}
	checklists, err := s.Load(item.TypeChecklist)
	if err != nil {
		return nil, nil, err
	}
	return notes, checklists, nil
}

// SaveCount reports how many saves happened; no-op passes must not save.
func (s *MemoryStore) SaveCount() int {
	return s.saves
}
