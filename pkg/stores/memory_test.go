package stores

import (
	"testing"
	"time"

	"github.com/terrane-io/terrane/pkg/engine"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()

	rec := &engine.AppliedResource{
		ID:          "vpc.main",
		Type:        "vpc",
		ProviderID:  "vpc-0001",
		Inputs:      map[string]any{"cidr_block": "10.0.0.0/16"},
		Hash:        "h1",
		Outputs:     map[string]any{"id": "vpc-0001"},
		LastApplied: time.Now(),
	}
	if err := store.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}

	got, ok, err := store.Get("vpc.main")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ProviderID != "vpc-0001" {
		t.Errorf("ProviderID = %s", got.ProviderID)
	}

	if err := store.Delete("vpc.main"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get("vpc.main"); ok {
		t.Error("record survived delete")
	}
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	store := NewMemoryStore()

	rec := &engine.AppliedResource{ID: "vpc.main", Hash: "h1"}
	if err := store.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Mutating the caller's struct after upsert must not leak into the store.
	rec.Hash = "mutated"
	got, _, _ := store.Get("vpc.main")
	if got.Hash != "h1" {
		t.Errorf("Hash = %s, caller mutation leaked into store", got.Hash)
	}

	// Mutating a returned record must not leak either.
	got.Hash = "mutated again"
	again, _, _ := store.Get("vpc.main")
	if again.Hash != "h1" {
		t.Errorf("Hash = %s, returned record aliases stored one", again.Hash)
	}
}
