package core

import "testing"

func newTestReasoner(t *testing.T) (*Reasoner, *Registry) {
	t.Helper()
	reg := NewRegistry(16)
	tel := NewTelemetry(nil, nil)
	return NewReasoner(reg, tel, 16, ModeFull), reg
}

// TestReasonerSubclassReflexivity covers P4: is_subclass_of(x,x) is true
// for every registered class after materialization.
func TestReasonerSubclassReflexivity(t *testing.T) {
	r, _ := newTestReasoner(t)
	r.Materialize(nil)
	if !r.IsSubclassOf(3, 3) {
		t.Fatalf("expected reflexive subclass relation to hold after materialization")
	}
}

// TestReasonerSubclassClosure covers scenario S1: Dog subClassOf Mammal,
// Mammal subClassOf Animal => is_subclass_of(Dog, Animal) after Warshall closure.
func TestReasonerSubclassClosure(t *testing.T) {
	r, _ := newTestReasoner(t)
	dog, mammal, animal := EntityID(0), EntityID(1), EntityID(2)
	if err := r.InsertAxiom(Axiom{Subject: dog, Object: mammal, Kind: SubClassOf}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.InsertAxiom(Axiom{Subject: mammal, Object: animal, Kind: SubClassOf}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Materialize(nil)
	if !r.IsSubclassOf(dog, animal) {
		t.Fatalf("expected Dog to be a transitive subclass of Animal")
	}
}

// TestReasonerTransitiveClosure covers P2/S2: a transitive property's
// closure holds (a,p,c) whenever (a,p,b) and (b,p,c) are asserted.
func TestReasonerTransitiveClosure(t *testing.T) {
	r, _ := newTestReasoner(t)
	ancestorOf := EntityID(10)
	if err := r.InsertAxiom(Axiom{Subject: ancestorOf, Kind: Transitive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := NewTripleStore(16)
	a, b, c := EntityID(1), EntityID(2), EntityID(3)
	if err := store.AddTriple(Triple{S: a, P: ancestorOf, O: b}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.AddTriple(Triple{S: b, P: ancestorOf, O: c}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Materialize(map[EntityID]*BitMatrix{ancestorOf: store.Assertions(ancestorOf)})
	if !r.TransitiveQuery(a, ancestorOf, c, store.Assertions(ancestorOf)) {
		t.Fatalf("expected transitive_query(a,p,c) to hold after materialization")
	}
}

// TestReasonerEightyTwentyOnlineBFS covers the 80/20 materialization mode:
// a transitive property not marked frequently-queried falls back to
// online BFS instead of a precomputed closure.
func TestReasonerEightyTwentyOnlineBFS(t *testing.T) {
	reg := NewRegistry(16)
	tel := NewTelemetry(nil, nil)
	r := NewReasoner(reg, tel, 16, ModeEightyTwenty)
	ancestorOf := EntityID(10)
	if err := r.InsertAxiom(Axiom{Subject: ancestorOf, Kind: Transitive}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := NewTripleStore(16)
	a, b, c := EntityID(1), EntityID(2), EntityID(3)
	_ = store.AddTriple(Triple{S: a, P: ancestorOf, O: b})
	_ = store.AddTriple(Triple{S: b, P: ancestorOf, O: c})
	r.Materialize(map[EntityID]*BitMatrix{ancestorOf: store.Assertions(ancestorOf)})
	if !r.TransitiveQuery(a, ancestorOf, c, store.Assertions(ancestorOf)) {
		t.Fatalf("expected online BFS fallback to find the transitive path")
	}
}

// TestReasonerDisjointEquivalentConflict covers the "first axiom wins"
// tie-break rule from spec.md §4.3.
func TestReasonerDisjointEquivalentConflict(t *testing.T) {
	r, _ := newTestReasoner(t)
	a, b := EntityID(1), EntityID(2)
	if err := r.InsertAxiom(Axiom{Subject: a, Object: b, Kind: EquivalentClass}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.InsertAxiom(Axiom{Subject: a, Object: b, Kind: DisjointWith}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.EquivDisjointConflicts() != 1 {
		t.Fatalf("expected one recorded conflict, got %d", r.EquivDisjointConflicts())
	}
	r.Materialize(nil)
	if !r.IsSubclassOf(a, b) {
		t.Fatalf("expected the first-inserted equivalentClass axiom to win")
	}
	if r.IsDisjointWith(a, b) {
		t.Fatalf("expected the conflicting disjointWith axiom to be rejected")
	}
}
