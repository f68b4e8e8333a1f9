package storage

import (
	"testing"

	"litecast/internal/models"
)

func TestDefaultPlansSeeded(t *testing.T) {
	store := newTestStore(t)

	plans := store.ListPlans()
	if len(plans) != 3 {
		t.Fatalf("expected 3 seeded plans, got %d", len(plans))
	}
	for i, want := range []string{"free", "creator", "pro"} {
		if plans[i].ID != want {
			t.Fatalf("expected plan %d to be %s, got %s", i, want, plans[i].ID)
		}
	}

	free, ok := store.GetPlan("free")
	if !ok {
		t.Fatalf("expected free plan")
	}
	if free.AllowsKind(models.MediaVideo) {
		t.Fatalf("free plan should not allow video")
	}
	if !free.AllowsKind(models.MediaAudio) {
		t.Fatalf("free plan should allow audio")
	}
	if free.DailyLimitSeconds() != 2*3600 {
		t.Fatalf("expected free daily limit of 2h, got %d", free.DailyLimitSeconds())
	}

	pro, ok := store.GetPlan("pro")
	if !ok {
		t.Fatalf("expected pro plan")
	}
	if !pro.AllowsKind(models.MediaVideo) {
		t.Fatalf("pro plan should allow video")
	}
}

func TestSeedPlansPreservesOperatorTuning(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/store.json"

	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	hours := 6
	if _, err := store.UpdatePlan("free", PlanUpdate{DailyLimitHours: &hours}); err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	free, _ := reloaded.GetPlan("free")
	if free.DailyLimitHours != 6 {
		t.Fatalf("expected tuned limit to survive reload, got %d", free.DailyLimitHours)
	}
}

func TestPlanForUser(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "member")

	plan, err := store.PlanForUser(user.ID)
	if err != nil {
		t.Fatalf("PlanForUser: %v", err)
	}
	if plan.ID != DefaultPlanID {
		t.Fatalf("expected default plan, got %s", plan.ID)
	}

	role := "admin"
	if _, err := store.UpdateUser(user.ID, UserUpdate{Role: &role}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	plan, err = store.PlanForUser(user.ID)
	if err != nil {
		t.Fatalf("PlanForUser admin: %v", err)
	}
	if plan.ID != "admin" {
		t.Fatalf("expected synthetic admin plan, got %s", plan.ID)
	}
	if plan.MaxStorageMB != 0 || plan.DailyLimitHours != 0 || plan.MaxActiveStreams != 0 {
		t.Fatalf("expected unlimited admin plan, got %+v", plan)
	}

	if _, err := store.PlanForUser("missing"); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
}

func TestUpdatePlanValidation(t *testing.T) {
	store := newTestStore(t)

	blank := "   "
	if _, err := store.UpdatePlan("free", PlanUpdate{Name: &blank}); err == nil {
		t.Fatalf("expected blank name to be rejected")
	}
	if _, err := store.UpdatePlan("missing", PlanUpdate{}); err == nil {
		t.Fatalf("expected unknown plan to be rejected")
	}

	kinds := []models.MediaKind{models.MediaAudio, models.MediaVideo}
	streams := 5
	updated, err := store.UpdatePlan("creator", PlanUpdate{AllowedKinds: &kinds, MaxActiveStreams: &streams})
	if err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if !updated.AllowsKind(models.MediaVideo) || updated.MaxActiveStreams != 5 {
		t.Fatalf("unexpected update result: %+v", updated)
	}
}
