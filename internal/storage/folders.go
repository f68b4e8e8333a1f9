package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"litecast/internal/models"
)

// ErrFolderNotEmpty guards against deleting a folder that still holds media
// or child folders.
var ErrFolderNotEmpty = errors.New("folder is not empty")

// CreateFolder adds a folder for the owner, optionally nested under a parent.
func (s *Storage) CreateFolder(ownerID, name string, parentID *string) (models.Folder, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return models.Folder{}, errors.New("folder name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[ownerID]; !ok {
		return models.Folder{}, fmt.Errorf("user %s not found", ownerID)
	}
	if parentID != nil {
		parent, ok := s.data.Folders[*parentID]
		if !ok || parent.OwnerID != ownerID {
			return models.Folder{}, fmt.Errorf("folder %s not found", *parentID)
		}
	}
	for _, folder := range s.data.Folders {
		if folder.OwnerID == ownerID && folder.Name == name && sameParent(folder.ParentID, parentID) {
			return models.Folder{}, fmt.Errorf("folder %s already exists", name)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Folder{}, err
	}

	folder := models.Folder{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		ParentID:  parentID,
		CreatedAt: s.now(),
	}

	s.data.Folders[id] = folder
	if err := s.persist(); err != nil {
		delete(s.data.Folders, id)
		return models.Folder{}, err
	}

	return folder, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Storage) ListFolders(ownerID string) []models.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folders := make([]models.Folder, 0)
	for _, folder := range s.data.Folders {
		if folder.OwnerID == ownerID {
			folders = append(folders, folder)
		}
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].Name < folders[j].Name
	})
	return folders
}

func (s *Storage) GetFolder(id string) (models.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folder, ok := s.data.Folders[id]
	return folder, ok
}

// RenameFolder changes a folder's display name.
func (s *Storage) RenameFolder(id, name string) (models.Folder, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return models.Folder{}, errors.New("folder name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	folder, ok := updatedData.Folders[id]
	if !ok {
		return models.Folder{}, fmt.Errorf("folder %s not found", id)
	}

	folder.Name = name
	updatedData.Folders[id] = folder
	if err := s.persistDataset(updatedData); err != nil {
		return models.Folder{}, err
	}

	s.data = updatedData

	return folder, nil
}

// DeleteFolder removes an empty folder. Folders still holding media or child
// folders are rejected with ErrFolderNotEmpty.
func (s *Storage) DeleteFolder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	if _, ok := updatedData.Folders[id]; !ok {
		return fmt.Errorf("folder %s not found", id)
	}
	for _, item := range updatedData.MediaItems {
		if item.FolderID != nil && *item.FolderID == id {
			return ErrFolderNotEmpty
		}
	}
	for _, folder := range updatedData.Folders {
		if folder.ParentID != nil && *folder.ParentID == id {
			return ErrFolderNotEmpty
		}
	}

	delete(updatedData.Folders, id)
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}

	s.data = updatedData

	return nil
}
