package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/multaszero/recurso/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleItem(id string) *models.FineHistoryItem {
	return &models.FineHistoryItem{
		ID:        id,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Analysis: models.FineAnalysis{
			Probability:      models.ProbabilityHigh,
			ProbabilityScore: 80,
			FineAmount:       "60.00€",
			DeadlineDate:     "15 dias úteis",
			DaysRemaining:    15,
			ErrorsFound:      []string{"notificação fora de prazo"},
			Summary:          "Estacionamento indevido.",
			InfractionType:   "Estacionamento",
			LegislationRef:   "Art. 49º CE",
		},
		Status: models.StatusAwaitingAppeal,
	}
}

func TestUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := sampleItem("case-1")
	if err := store.UpsertHistory(ctx, item); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetHistoryItem(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected item, got nil")
	}
	if got.Analysis.ProbabilityScore != 80 {
		t.Errorf("probabilityScore = %d, want 80", got.Analysis.ProbabilityScore)
	}
	if got.Status != models.StatusAwaitingAppeal {
		t.Errorf("status = %q, want %q", got.Status, models.StatusAwaitingAppeal)
	}
	if got.UserDetails != nil {
		t.Error("expected nil user details")
	}
}

func TestGetMissingItem(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetHistoryItem(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.UpsertHistory(ctx, sampleItem("first"))
	store.UpsertHistory(ctx, sampleItem("second"))

	// Updating an existing item must neither grow the list nor move the item.
	updated := sampleItem("first")
	updated.AppealText = "Exmo. Sr. Presidente..."
	updated.UserDetails = &models.UserDetails{
		FullName: "Maria Silva", NIF: "123456789", Address: "Rua A",
		PostalCode: "1000-001", City: "Lisboa", LicenseNumber: "L-1",
	}
	updated.Status = models.StatusAppealGenerated
	if err := store.UpsertHistory(ctx, updated); err != nil {
		t.Fatalf("upsert update: %v", err)
	}

	items, err := store.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("count = %d, want 2", len(items))
	}
	// Newer inserts prepend, so "second" leads and "first" keeps its slot.
	if items[0].ID != "second" || items[1].ID != "first" {
		t.Errorf("order = [%s %s], want [second first]", items[0].ID, items[1].ID)
	}
	if items[1].Status != models.StatusAppealGenerated {
		t.Errorf("status = %q, want %q", items[1].Status, models.StatusAppealGenerated)
	}
	if items[1].AppealText == "" || items[1].UserDetails == nil {
		t.Error("updated fields not persisted")
	}
}

func TestUpsertPrependsNewItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.UpsertHistory(ctx, sampleItem(id)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	items, err := store.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("count = %d, want 3", len(items))
	}
	if items[0].ID != "c" || items[1].ID != "b" || items[2].ID != "a" {
		t.Errorf("order = [%s %s %s], want [c b a]", items[0].ID, items[1].ID, items[2].ID)
	}
}

func TestLoadHistorySkipsCorruptRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.UpsertHistory(ctx, sampleItem("good"))

	_, err := store.db.Exec(`
		INSERT INTO history (id, position, created_at, analysis, status)
		VALUES ('bad', -99, ?, 'not json at all', 'Aguardando Recurso')`, time.Now())
	if err != nil {
		t.Fatalf("failed to plant corrupt row: %v", err)
	}

	items, err := store.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("load must not fail on corrupt rows: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("count = %d, want 1", len(items))
	}
	if items[0].ID != "good" {
		t.Errorf("id = %q, want good", items[0].ID)
	}
}

func TestUnlockIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.IsUnlocked(ctx, "case-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected locked before any payment")
	}

	if err := store.MarkUnlocked(ctx, "case-1", "cs_test_first"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := store.MarkUnlocked(ctx, "case-1", "cs_test_second"); err != nil {
		t.Fatalf("repeated mark: %v", err)
	}

	ok, err = store.IsUnlocked(ctx, "case-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected unlocked")
	}

	unlocks, err := store.AllUnlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unlocks) != 1 {
		t.Fatalf("records = %d, want 1", len(unlocks))
	}
	if unlocks["case-1"].SessionID != "cs_test_first" {
		t.Errorf("session id = %q, the first record wins", unlocks["case-1"].SessionID)
	}
}
