package id

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewReturnsDistinctV4UUIDs(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}

	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("parse id %q: %v", a, err)
	}
	if parsed.Version() != 4 {
		t.Fatalf("expected version 4, got %d", parsed.Version())
	}
}
