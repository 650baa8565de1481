package engine

import (
	"context"
	"testing"

	"github.com/terrane-io/terrane/pkg/resource"
)

func TestDetectDrift(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	ctx := context.Background()

	// In sync: live state matches the record.
	inSync, err := prov.Create(ctx, resource.TypeVPC, map[string]any{"cidr_block": "10.0.0.0/16"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedRecord(t, store, "vpc.main", resource.TypeVPC, inSync.ProviderID, inSync.Attributes)

	// Drifted: someone changed the backend out of band.
	drifted, err := prov.Create(ctx, resource.TypeSecurityGroup, map[string]any{"description": "web tier"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedRecord(t, store, "security_group.web", resource.TypeSecurityGroup, drifted.ProviderID, drifted.Attributes)
	if _, err := prov.Update(ctx, resource.TypeSecurityGroup, drifted.ProviderID, map[string]any{"description": "edited by hand"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Missing: tracked but deleted from the backend.
	missing, err := prov.Create(ctx, resource.TypeSubnet, map[string]any{"cidr_block": "10.0.1.0/24"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedRecord(t, store, "subnet.gone", resource.TypeSubnet, missing.ProviderID, missing.Attributes)
	if err := prov.Delete(ctx, resource.TypeSubnet, missing.ProviderID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	detector := NewDriftDetector(store, testRegistry(prov), nil, nil, nil)
	report, err := detector.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(report.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(report.Entries))
	}
	if !report.Drifted() {
		t.Error("Drifted = false, want true")
	}

	byID := make(map[resource.ID]DriftEntry, len(report.Entries))
	for _, e := range report.Entries {
		byID[e.ResourceID] = e
	}

	if got := byID["vpc.main"]; got.Status != DriftStatusInSync {
		t.Errorf("vpc.main status = %s, want in_sync", got.Status)
	}
	sg := byID["security_group.web"]
	if sg.Status != DriftStatusDrifted {
		t.Errorf("security_group.web status = %s, want drifted", sg.Status)
	}
	if len(sg.Fields) != 1 || sg.Fields[0] != "description" {
		t.Errorf("security_group.web fields = %v, want [description]", sg.Fields)
	}
	if got := byID["subnet.gone"]; got.Status != DriftStatusMissing {
		t.Errorf("subnet.gone status = %s, want missing", got.Status)
	}
}

func TestDetectIgnoresFieldsOnlyPresentLive(t *testing.T) {
	store := newTestStore()
	prov := newFakeProvider()
	ctx := context.Background()

	created, err := prov.Create(ctx, resource.TypeVPC, map[string]any{"cidr_block": "10.0.0.0/16"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Record fewer fields than the backend reports.
	seedRecord(t, store, "vpc.main", resource.TypeVPC, created.ProviderID, map[string]any{
		"cidr_block": "10.0.0.0/16",
	})

	detector := NewDriftDetector(store, testRegistry(prov), nil, nil, nil)
	report, err := detector.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if report.Drifted() {
		t.Errorf("extra live fields reported as drift: %+v", report.Entries)
	}
}

func seedRecord(t *testing.T, store StateStore, id resource.ID, typ resource.Type, providerID string, outputs map[string]any) {
	t.Helper()
	err := store.Upsert(&AppliedResource{
		ID:         id,
		Type:       typ,
		ProviderID: providerID,
		Outputs:    outputs,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}
