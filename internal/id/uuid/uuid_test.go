package uuid

import "testing"

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if !Valid(id1) || !Valid(id2) {
		t.Fatalf("expected valid UUIDs, got %s and %s", id1, id2)
	}
	if id2 < id1 {
		t.Fatalf("expected time-ordered ids, got %s before %s", id1, id2)
	}
	if Valid("not-a-uuid") {
		t.Fatal("expected invalid id to be rejected")
	}
}
