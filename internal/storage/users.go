package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"litecast/internal/models"
)

// CreateUserParams captures the attributes that can be set when creating a
// user.
type CreateUserParams struct {
	Username string
	Password string
	Role     string
	PlanID   string
}

// normalizeUsername folds a username to its canonical form: NFC-normalised,
// trimmed, lowercase. Two usernames that render identically compare equal
// after this.
func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(username)))
}

// CreateUser registers a new account. Usernames are unique after
// normalisation; a missing plan defaults to the free tier, a missing role to
// "user".
func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	username := normalizeUsername(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if len(username) < 3 {
		return models.User{}, errors.New("username must be at least 3 characters")
	}
	if len(params.Password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.data.Users {
		if user.Username == username {
			return models.User{}, fmt.Errorf("username %s already in use", username)
		}
	}

	role := strings.ToLower(strings.TrimSpace(params.Role))
	if role == "" {
		role = "user"
	}

	planID := strings.TrimSpace(params.PlanID)
	if planID == "" {
		planID = DefaultPlanID
	}
	if _, ok := s.data.Plans[planID]; !ok {
		return models.User{}, fmt.Errorf("plan %s not found", planID)
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}

	now := s.now()
	user := models.User{
		ID:             id,
		Username:       username,
		PasswordHash:   hashed,
		Role:           role,
		PlanID:         planID,
		LastUsageReset: s.today(),
		CreatedAt:      now,
	}

	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, id)
		return models.User{}, err
	}

	return user, nil
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByUsername looks up a user by their normalised username.
func (s *Storage) FindUserByUsername(username string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	normalized := normalizeUsername(username)
	for _, user := range s.data.Users {
		if user.Username == normalized {
			return user, true
		}
	}
	return models.User{}, false
}

// UserUpdate represents the fields an administrator can modify on an account.
type UserUpdate struct {
	Role   *string
	PlanID *string
}

// UpdateUser mutates account metadata.
func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s not found", id)
	}

	if update.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*update.Role))
		if role == "" {
			return models.User{}, errors.New("role cannot be empty")
		}
		user.Role = role
	}

	if update.PlanID != nil {
		planID := strings.TrimSpace(*update.PlanID)
		if _, ok := updatedData.Plans[planID]; !ok {
			return models.User{}, fmt.Errorf("plan %s not found", planID)
		}
		user.PlanID = planID
	}

	updatedData.Users[id] = user
	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}

	s.data = updatedData

	return user, nil
}

// DeleteUser removes the account along with its media records, folders, and
// destinations. Callers are responsible for stopping the user's broadcasts
// and removing uploaded files on disk first.
func (s *Storage) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	if _, ok := updatedData.Users[id]; !ok {
		return fmt.Errorf("user %s not found", id)
	}

	delete(updatedData.Users, id)
	for itemID, item := range updatedData.MediaItems {
		if item.OwnerID == id {
			delete(updatedData.MediaItems, itemID)
		}
	}
	for folderID, folder := range updatedData.Folders {
		if folder.OwnerID == id {
			delete(updatedData.Folders, folderID)
		}
	}
	for destID, dest := range updatedData.Destinations {
		if dest.OwnerID == id {
			delete(updatedData.Destinations, destID)
		}
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}

	s.data = updatedData

	return nil
}
