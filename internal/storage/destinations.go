package storage

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"litecast/internal/models"
)

// ErrDestinationLimit rejects creating more destinations than the owner's
// plan allows.
var ErrDestinationLimit = errors.New("destination limit reached for plan")

// CreateDestinationParams configures a new broadcast target.
type CreateDestinationParams struct {
	OwnerID   string
	Name      string
	Platform  string
	IngestURL string
	StreamKey string
}

func validateIngestURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("ingest URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", errors.New("ingest URL is malformed")
	}
	switch strings.ToLower(parsed.Scheme) {
	case "rtmp", "rtmps":
	default:
		return "", errors.New("ingest URL must use rtmp or rtmps")
	}
	if parsed.Host == "" {
		return "", errors.New("ingest URL must include a host")
	}
	return trimmed, nil
}

// CreateDestination adds a broadcast target after validating the ingest URL
// and enforcing the owner's plan destination count. Administrators bypass the
// count limit.
func (s *Storage) CreateDestination(params CreateDestinationParams) (models.Destination, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Destination{}, errors.New("destination name is required")
	}
	ingestURL, err := validateIngestURL(params.IngestURL)
	if err != nil {
		return models.Destination{}, err
	}
	key := strings.TrimSpace(params.StreamKey)
	if key == "" {
		return models.Destination{}, errors.New("stream key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[params.OwnerID]
	if !ok {
		return models.Destination{}, fmt.Errorf("user %s not found", params.OwnerID)
	}

	if !user.IsAdmin() {
		plan, ok := s.data.Plans[user.PlanID]
		if !ok {
			return models.Destination{}, fmt.Errorf("plan %s not found", user.PlanID)
		}
		if plan.MaxDestinations > 0 {
			owned := 0
			for _, dest := range s.data.Destinations {
				if dest.OwnerID == params.OwnerID {
					owned++
				}
			}
			if owned >= plan.MaxDestinations {
				return models.Destination{}, ErrDestinationLimit
			}
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Destination{}, err
	}

	dest := models.Destination{
		ID:        id,
		OwnerID:   params.OwnerID,
		Name:      name,
		Platform:  strings.ToLower(strings.TrimSpace(params.Platform)),
		IngestURL: ingestURL,
		StreamKey: key,
		Active:    true,
		CreatedAt: s.now(),
	}

	s.data.Destinations[id] = dest
	if err := s.persist(); err != nil {
		delete(s.data.Destinations, id)
		return models.Destination{}, err
	}

	return dest, nil
}

// ListDestinations returns the owner's destinations ordered by creation time.
func (s *Storage) ListDestinations(ownerID string) []models.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dests := make([]models.Destination, 0)
	for _, dest := range s.data.Destinations {
		if dest.OwnerID == ownerID {
			dests = append(dests, dest)
		}
	}
	sort.Slice(dests, func(i, j int) bool {
		return dests[i].CreatedAt.Before(dests[j].CreatedAt)
	})
	return dests
}

func (s *Storage) GetDestination(id string) (models.Destination, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dest, ok := s.data.Destinations[id]
	return dest, ok
}

// DestinationUpdate represents the mutable destination fields. A nil field is
// left unchanged; StreamKey updates replace the secret wholesale.
type DestinationUpdate struct {
	Name      *string
	Platform  *string
	IngestURL *string
	StreamKey *string
	Active    *bool
}

// UpdateDestination mutates a destination, revalidating the ingest URL when
// it changes.
func (s *Storage) UpdateDestination(id string, update DestinationUpdate) (models.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	dest, ok := updatedData.Destinations[id]
	if !ok {
		return models.Destination{}, fmt.Errorf("destination %s not found", id)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Destination{}, errors.New("destination name cannot be empty")
		}
		dest.Name = name
	}
	if update.Platform != nil {
		dest.Platform = strings.ToLower(strings.TrimSpace(*update.Platform))
	}
	if update.IngestURL != nil {
		ingestURL, err := validateIngestURL(*update.IngestURL)
		if err != nil {
			return models.Destination{}, err
		}
		dest.IngestURL = ingestURL
	}
	if update.StreamKey != nil {
		key := strings.TrimSpace(*update.StreamKey)
		if key == "" {
			return models.Destination{}, errors.New("stream key cannot be empty")
		}
		dest.StreamKey = key
	}
	if update.Active != nil {
		dest.Active = *update.Active
	}

	updatedData.Destinations[id] = dest
	if err := s.persistDataset(updatedData); err != nil {
		return models.Destination{}, err
	}

	s.data = updatedData

	return dest, nil
}

// DeleteDestination removes a broadcast target.
func (s *Storage) DeleteDestination(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	if _, ok := updatedData.Destinations[id]; !ok {
		return fmt.Errorf("destination %s not found", id)
	}

	delete(updatedData.Destinations, id)
	if err := s.persistDataset(updatedData); err != nil {
		return err
	}

	s.data = updatedData

	return nil
}
