// Package storage persists the application's entities. The default backend is
// a single JSON file guarded by a RWMutex and written atomically; a
// Postgres-backed repository offers the same interface for multi-replica
// deployments.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"litecast/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

type dataset struct {
	Users        map[string]models.User         `json:"users"`
	Plans        map[string]models.Plan         `json:"plans"`
	Folders      map[string]models.Folder       `json:"folders"`
	MediaItems   map[string]models.MediaItem    `json:"mediaItems"`
	Destinations map[string]models.Destination `json:"destinations"`
}

// Storage is the JSON-file datastore. All reads and writes go through the
// RWMutex; mutations clone the dataset, persist the clone, and only then swap
// it in, so a failed write never leaves partial state in memory.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	clock    func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Users:        make(map[string]models.User),
		Plans:        make(map[string]models.Plan),
		Folders:      make(map[string]models.Folder),
		MediaItems:   make(map[string]models.MediaItem),
		Destinations: make(map[string]models.Destination),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Plans == nil {
		s.data.Plans = make(map[string]models.Plan)
	}
	if s.data.Folders == nil {
		s.data.Folders = make(map[string]models.Folder)
	}
	if s.data.MediaItems == nil {
		s.data.MediaItems = make(map[string]models.MediaItem)
	}
	if s.data.Destinations == nil {
		s.data.Destinations = make(map[string]models.Destination)
	}
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
)

// NewStorage opens (or initialises) the JSON datastore at path and seeds the
// default subscription plans when none exist yet.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	if err := store.seedPlans(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()

	for id, user := range src.Users {
		clone.Users[id] = user
	}
	for id, plan := range src.Plans {
		cloned := plan
		if plan.AllowedKinds != nil {
			cloned.AllowedKinds = append([]models.MediaKind(nil), plan.AllowedKinds...)
		}
		clone.Plans[id] = cloned
	}
	for id, folder := range src.Folders {
		cloned := folder
		if folder.ParentID != nil {
			parent := *folder.ParentID
			cloned.ParentID = &parent
		}
		clone.Folders[id] = cloned
	}
	for id, item := range src.MediaItems {
		cloned := item
		if item.FolderID != nil {
			folder := *item.FolderID
			cloned.FolderID = &folder
		}
		clone.MediaItems[id] = cloned
	}
	for id, dest := range src.Destinations {
		clone.Destinations[id] = dest
	}
	return clone
}

func (s *Storage) now() time.Time {
	return s.clock().UTC()
}

// today returns the calendar date used for daily usage accounting.
func (s *Storage) today() string {
	return s.now().Format("2006-01-02")
}
