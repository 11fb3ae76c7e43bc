package core

import (
	"errors"
	"testing"
)

func TestRegistryInternIsIdempotent(t *testing.T) {
	r := NewRegistry(8)
	id1, err := r.Intern("http://example.org/Person", KindClass)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := r.Intern("http://example.org/Person", KindClass)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id across repeated Intern, got %d and %d", id1, id2)
	}
}

func TestRegistryOutOfIds(t *testing.T) {
	r := NewRegistry(2)
	if _, err := r.Intern("a", KindClass); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Intern("b", KindClass); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Intern("c", KindClass)
	if err == nil {
		t.Fatalf("expected OutOfIds error when exceeding cap")
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Code != OutOfIds {
		t.Fatalf("expected OutOfIds error code, got %v", err)
	}
}

func TestRegistrySealRejectsNewNames(t *testing.T) {
	r := NewRegistry(8)
	if _, err := r.Intern("a", KindClass); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Seal()
	if _, err := r.Intern("a", KindClass); err != nil {
		t.Fatalf("expected already-interned name to still resolve after seal: %v", err)
	}
	if _, err := r.Intern("b", KindClass); err == nil {
		t.Fatalf("expected sealed registry to reject a new name")
	}
}

func TestRegistryResolveAndNamesOrder(t *testing.T) {
	r := NewRegistry(8)
	_, _ = r.Intern("first", KindClass)
	_, _ = r.Intern("second", KindProperty)
	names := r.Names()
	if len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Fatalf("expected insertion-ordered names, got %v", names)
	}
	entry, ok := r.Resolve(0)
	if !ok || entry.Name != "first" {
		t.Fatalf("expected Resolve(0) to return 'first', got %+v ok=%v", entry, ok)
	}
}
