package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"litecast/internal/models"
)

// ErrStorageQuotaExceeded rejects an upload that would push the owner past
// the plan's storage allowance.
var ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

// ErrKindNotAllowed rejects an upload of a media kind the owner's plan does
// not include.
var ErrKindNotAllowed = errors.New("media kind not allowed by plan")

// CreateMediaItemParams registers an uploaded file. Path points at the stored
// file on disk; SizeBytes is its final size.
type CreateMediaItemParams struct {
	OwnerID   string
	Filename  string
	Path      string
	SizeBytes int64
	FolderID  *string
}

// CreateMediaItem records an upload after enforcing the owner's plan: the
// file's kind must be allowed and the owner's total storage must stay within
// the plan allowance. Administrators bypass both checks.
func (s *Storage) CreateMediaItem(params CreateMediaItemParams) (models.MediaItem, error) {
	filename := strings.TrimSpace(norm.NFC.String(params.Filename))
	if filename == "" {
		return models.MediaItem{}, errors.New("filename is required")
	}
	kind, ok := models.ParseMediaKind(filepath.Ext(filename))
	if !ok {
		return models.MediaItem{}, fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
	if params.SizeBytes < 0 {
		return models.MediaItem{}, errors.New("size cannot be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[params.OwnerID]
	if !ok {
		return models.MediaItem{}, fmt.Errorf("user %s not found", params.OwnerID)
	}

	if !user.IsAdmin() {
		plan, ok := s.data.Plans[user.PlanID]
		if !ok {
			return models.MediaItem{}, fmt.Errorf("plan %s not found", user.PlanID)
		}
		if !plan.AllowsKind(kind) {
			return models.MediaItem{}, ErrKindNotAllowed
		}
		if plan.MaxStorageMB > 0 && user.StorageUsed+params.SizeBytes > plan.MaxStorageMB*1024*1024 {
			return models.MediaItem{}, ErrStorageQuotaExceeded
		}
	}

	if params.FolderID != nil {
		folder, ok := s.data.Folders[*params.FolderID]
		if !ok || folder.OwnerID != params.OwnerID {
			return models.MediaItem{}, fmt.Errorf("folder %s not found", *params.FolderID)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.MediaItem{}, err
	}

	item := models.MediaItem{
		ID:        id,
		OwnerID:   params.OwnerID,
		Filename:  filename,
		Path:      params.Path,
		SizeBytes: params.SizeBytes,
		Kind:      kind,
		FolderID:  params.FolderID,
		CreatedAt: s.now(),
	}

	updatedData := cloneDataset(s.data)
	updatedData.MediaItems[id] = item
	user.StorageUsed += params.SizeBytes
	updatedData.Users[user.ID] = user

	if err := s.persistDataset(updatedData); err != nil {
		return models.MediaItem{}, err
	}

	s.data = updatedData

	return item, nil
}

// ListMediaItems returns the owner's media, optionally scoped to one folder
// (folderID nil lists everything; a pointer to "" lists the root).
func (s *Storage) ListMediaItems(ownerID string, folderID *string) []models.MediaItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.MediaItem, 0)
	for _, item := range s.data.MediaItems {
		if item.OwnerID != ownerID {
			continue
		}
		if folderID != nil && !folderMatches(item.FolderID, *folderID) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func folderMatches(itemFolder *string, want string) bool {
	if want == "" {
		return itemFolder == nil
	}
	return itemFolder != nil && *itemFolder == want
}

func (s *Storage) GetMediaItem(id string) (models.MediaItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.data.MediaItems[id]
	return item, ok
}

// MoveMediaItem relocates an item into a folder (or the root when folderID is
// nil).
func (s *Storage) MoveMediaItem(id string, folderID *string) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	item, ok := updatedData.MediaItems[id]
	if !ok {
		return models.MediaItem{}, fmt.Errorf("media item %s not found", id)
	}
	if folderID != nil {
		folder, ok := updatedData.Folders[*folderID]
		if !ok || folder.OwnerID != item.OwnerID {
			return models.MediaItem{}, fmt.Errorf("folder %s not found", *folderID)
		}
	}

	item.FolderID = folderID
	updatedData.MediaItems[id] = item
	if err := s.persistDataset(updatedData); err != nil {
		return models.MediaItem{}, err
	}

	s.data = updatedData

	return item, nil
}

// DeleteMediaItem removes the record and releases its bytes from the owner's
// storage counter. The caller deletes the file on disk.
func (s *Storage) DeleteMediaItem(id string) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	item, ok := updatedData.MediaItems[id]
	if !ok {
		return models.MediaItem{}, fmt.Errorf("media item %s not found", id)
	}

	delete(updatedData.MediaItems, id)
	if user, ok := updatedData.Users[item.OwnerID]; ok {
		user.StorageUsed -= item.SizeBytes
		if user.StorageUsed < 0 {
			user.StorageUsed = 0
		}
		updatedData.Users[user.ID] = user
	}

	if err := s.persistDataset(updatedData); err != nil {
		return models.MediaItem{}, err
	}

	s.data = updatedData

	return item, nil
}
