package engine

import (
	"strings"
	"testing"

	"github.com/terrane-io/terrane/pkg/resource"
)

func TestHashAttributesKeyOrderIndependent(t *testing.T) {
	a := map[string]any{
		"cidr_block": "10.0.0.0/16",
		"tags":       map[string]any{"env": "prod", "team": "platform"},
	}
	b := map[string]any{
		"tags":       map[string]any{"team": "platform", "env": "prod"},
		"cidr_block": "10.0.0.0/16",
	}

	ha, err := HashAttributes(a)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	hb, err := HashAttributes(b)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	if ha != hb {
		t.Errorf("hashes differ: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(ha))
	}
}

func TestHashAttributesDetectsChange(t *testing.T) {
	base := map[string]any{"cidr_block": "10.0.0.0/16"}
	changed := map[string]any{"cidr_block": "10.1.0.0/16"}

	hBase, err := HashAttributes(base)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	hChanged, err := HashAttributes(changed)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	if hBase == hChanged {
		t.Error("expected different hashes for different attributes")
	}
}

func TestHashAttributesRefsStayUnresolved(t *testing.T) {
	d := desc(resource.TypeSubnet, "app", map[string]resource.Value{
		"vpc_id":     resource.Ref("vpc.main", "id"),
		"cidr_block": resource.Literal("10.0.1.0/24"),
	})

	canon := d.CanonicalAttributes()
	s, ok := canon["vpc_id"].(string)
	if !ok || !strings.HasPrefix(s, "ref://") {
		t.Fatalf("canonical vpc_id = %v, want ref:// string", canon["vpc_id"])
	}

	h1, err := HashAttributes(canon)
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	h2, err := HashAttributes(d.CanonicalAttributes())
	if err != nil {
		t.Fatalf("HashAttributes: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash over canonical attributes is not stable: %s vs %s", h1, h2)
	}
}
