// Package users implements the file-backed account store. Accounts are keyed
// by username, which is also the identity grants and item ownership hang off,
// so renames here must be followed by a sharing consistency pass.
package users

import (
	"bytes"
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
)

var (
	ErrNotFound        = errors.New("user not found")
	ErrAlreadyExists   = errors.New("username already taken")
	ErrInvalidUsername = errors.New("invalid username")
)

type User struct {
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store keeps all accounts in one JSON document under dataDir.
type Store struct {
	mu      sync.Mutex
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) path() string {
	return filepath.Join(s.dataDir, "users.json")
}

// ValidUsername reports whether name can serve as a username. Usernames
// become filesystem path segments and grant map keys, so the alphabet is
// deliberately narrow and the public sentinel is reserved.
func ValidUsername(name string) bool {
	if name == "" || len(name) > 64 || name == "public" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return !strings.HasPrefix(name, ".")
}

func (s *Store) load() (map[string]User, error) {
	raw, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	users := map[string]User{}
	if err := decoder.Decode(&users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *Store) save(users map[string]User) error {
	path := s.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	payload, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".users-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp user file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write user file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close user file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace user file: %w", err)
	}
	return nil
}

func (s *Store) Get(username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return User{}, err
	}
	user, ok := users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *Store) Create(user User) error {
	if !ValidUsername(user.Username) {
		return ErrInvalidUsername
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := users[user.Username]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	// First account on a fresh install gets admin.
	if len(users) == 0 {
		user.Admin = true
	}
	users[user.Username] = user
	return s.save(users)
}

// Update replaces the stored record for user.Username, preserving CreatedAt.
func (s *Store) Update(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return err
	}
	existing, ok := users[user.Username]
	if !ok {
		return ErrNotFound
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	users[user.Username] = user
	return s.save(users)
}

// Rename moves an account to a new username. The caller owns the follow-up
// work: moving the user's item tree and running the sharing consistency pass
// for both the sharer and receiver sides.
func (s *Store) Rename(oldUsername, newUsername string) (User, error) {
	if !ValidUsername(newUsername) {
		return User{}, ErrInvalidUsername
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return User{}, err
	}
	user, ok := users[oldUsername]
	if !ok {
		return User{}, ErrNotFound
	}
	if _, taken := users[newUsername]; taken {
		return User{}, ErrAlreadyExists
	}
	delete(users, oldUsername)
	user.Username = newUsername
	user.UpdatedAt = time.Now().UTC()
	users[newUsername] = user
	if err := s.save(users); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := users[username]; !ok {
		return ErrNotFound
	}
	delete(users, username)
	return s.save(users)
}

// List returns every account sorted by username, password hashes included.
// Callers rendering responses must strip the hash.
func (s *Store) List() ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(users))
	for _, user := range users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
