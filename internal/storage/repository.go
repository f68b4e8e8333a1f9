package storage

import (
	"context"

	"litecast/internal/models"
)

// Repository exposes the datastore operations required by API handlers and
// the broadcast engine. Both the JSON file store and the Postgres store
// satisfy it.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(username, password string) (models.User, error)
	ListUsers() []models.User
	GetUser(id string) (models.User, bool)
	FindUserByUsername(username string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)
	DeleteUser(id string) error

	ListPlans() []models.Plan
	GetPlan(id string) (models.Plan, bool)
	PlanForUser(userID string) (models.Plan, error)
	UpdatePlan(id string, update PlanUpdate) (models.Plan, error)

	CreateMediaItem(params CreateMediaItemParams) (models.MediaItem, error)
	ListMediaItems(ownerID string, folderID *string) []models.MediaItem
	GetMediaItem(id string) (models.MediaItem, bool)
	MoveMediaItem(id string, folderID *string) (models.MediaItem, error)
	DeleteMediaItem(id string) (models.MediaItem, error)

	CreateFolder(ownerID, name string, parentID *string) (models.Folder, error)
	ListFolders(ownerID string) []models.Folder
	GetFolder(id string) (models.Folder, bool)
	RenameFolder(id, name string) (models.Folder, error)
	DeleteFolder(id string) error

	CreateDestination(params CreateDestinationParams) (models.Destination, error)
	ListDestinations(ownerID string) []models.Destination
	GetDestination(id string) (models.Destination, bool)
	UpdateDestination(id string, update DestinationUpdate) (models.Destination, error)
	DeleteDestination(id string) error

	SyncUsage(userID string) (models.UsageCounter, error)
	AddUsage(ctx context.Context, userID string, seconds int64) (int64, error)
}

var _ Repository = (*Storage)(nil)

// NewJSONRepository opens the JSON file store as a Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

// Ping reports whether the JSON store is usable; the file store has no
// external dependency to probe.
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Close flushes nothing; the JSON store persists synchronously on every
// mutation.
func (s *Storage) Close(_ context.Context) error {
	return nil
}
