package storage

import (
	"fmt"
	"sort"
	"strings"

	"litecast/internal/models"
)

// DefaultPlanID is the tier assigned to self-service signups.
const DefaultPlanID = "free"

// defaultPlans seeds the catalogue on first start. Plans are editable
// afterwards; reseeding never overwrites operator changes.
func defaultPlans() []models.Plan {
	return []models.Plan{
		{
			ID:              "free",
			Name:            "Free",
			MaxStorageMB:    500,
			AllowedKinds:    []models.MediaKind{models.MediaAudio, models.MediaImage},
			DailyLimitHours: 2,
			MaxActiveStreams: 1,
			MaxDestinations:  1,
			PriceText:        "0",
			FeaturesText:     "Audio broadcasts, 1 destination, 2 hours per day",
		},
		{
			ID:              "creator",
			Name:            "Creator",
			MaxStorageMB:    5000,
			AllowedKinds:    []models.MediaKind{models.MediaAudio, models.MediaImage},
			DailyLimitHours: 8,
			MaxActiveStreams: 1,
			MaxDestinations:  3,
			PriceText:        "9",
			FeaturesText:     "Audio broadcasts, 3 destinations, 8 hours per day",
		},
		{
			ID:              "pro",
			Name:            "Pro",
			MaxStorageMB:    20000,
			AllowedKinds:    []models.MediaKind{models.MediaAudio, models.MediaVideo, models.MediaImage},
			DailyLimitHours: 24,
			MaxActiveStreams: 3,
			MaxDestinations:  10,
			PriceText:        "29",
			FeaturesText:     "Audio and video broadcasts, 10 destinations, unlimited hours",
		},
	}
}

func (s *Storage) seedPlans() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data.Plans) > 0 {
		return nil
	}
	for _, plan := range defaultPlans() {
		s.data.Plans[plan.ID] = plan
	}
	return s.persist()
}

func (s *Storage) ListPlans() []models.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]models.Plan, 0, len(s.data.Plans))
	for _, plan := range s.data.Plans {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].MaxStorageMB < plans[j].MaxStorageMB
	})
	return plans
}

func (s *Storage) GetPlan(id string) (models.Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.data.Plans[id]
	return plan, ok
}

// PlanForUser resolves the plan governing a user's limits. Administrators are
// exempt from plan limits; they receive an unlimited synthetic plan.
func (s *Storage) PlanForUser(userID string) (models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return models.Plan{}, fmt.Errorf("user %s not found", userID)
	}
	if user.IsAdmin() {
		return models.Plan{ID: "admin", Name: "Administrator"}, nil
	}
	plan, ok := s.data.Plans[user.PlanID]
	if !ok {
		return models.Plan{}, fmt.Errorf("plan %s not found", user.PlanID)
	}
	return plan, nil
}

// PlanUpdate represents the limits an administrator can adjust on a tier.
type PlanUpdate struct {
	Name             *string
	MaxStorageMB     *int64
	AllowedKinds     *[]models.MediaKind
	DailyLimitHours  *int
	MaxActiveStreams *int
	MaxDestinations  *int
	PriceText        *string
	FeaturesText     *string
}

// UpdatePlan adjusts a tier's limits. Existing subscribers see the new limits
// immediately.
func (s *Storage) UpdatePlan(id string, update PlanUpdate) (models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	plan, ok := updatedData.Plans[id]
	if !ok {
		return models.Plan{}, fmt.Errorf("plan %s not found", id)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Plan{}, fmt.Errorf("plan name cannot be empty")
		}
		plan.Name = name
	}
	if update.MaxStorageMB != nil && *update.MaxStorageMB >= 0 {
		plan.MaxStorageMB = *update.MaxStorageMB
	}
	if update.AllowedKinds != nil {
		plan.AllowedKinds = append([]models.MediaKind(nil), (*update.AllowedKinds)...)
	}
	if update.DailyLimitHours != nil && *update.DailyLimitHours >= 0 {
		plan.DailyLimitHours = *update.DailyLimitHours
	}
	if update.MaxActiveStreams != nil && *update.MaxActiveStreams >= 0 {
		plan.MaxActiveStreams = *update.MaxActiveStreams
	}
	if update.MaxDestinations != nil && *update.MaxDestinations >= 0 {
		plan.MaxDestinations = *update.MaxDestinations
	}
	if update.PriceText != nil {
		plan.PriceText = strings.TrimSpace(*update.PriceText)
	}
	if update.FeaturesText != nil {
		plan.FeaturesText = strings.TrimSpace(*update.FeaturesText)
	}

	updatedData.Plans[id] = plan
	if err := s.persistDataset(updatedData); err != nil {
		return models.Plan{}, err
	}

	s.data = updatedData

	return plan, nil
}
