package core

import "testing"

// TestShaclMinCountViolationThenConformance covers scenario S3: a shape
// with MinCount(hasEmail)=1 reports one violation for a node with no
// hasEmail triple, then conforms once the triple is added.
func TestShaclMinCountViolationThenConformance(t *testing.T) {
	reg := NewRegistry(16)
	store := NewTripleStore(16)
	tel := NewTelemetry(nil, nil)
	v, err := NewValidator(store, reg, nil, tel, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	personClass := EntityID(0)
	hasEmail := EntityID(1)
	p1 := EntityID(2)

	shapeID := EntityID(3)
	sh, err := v.CompileShape(shapeID, personClass)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sh.WithMinCount(hasEmail, 1)

	result, err := v.ValidateNode(shapeID, p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Conforms {
		t.Fatalf("expected non-conformance with no hasEmail triple")
	}
	if len(result.Violations) != 1 || result.Violations[0].Constraint != ConstraintMinCount {
		t.Fatalf("expected one MinCount violation, got %+v", result.Violations)
	}

	if err := store.AddTriple(Triple{S: p1, P: hasEmail, O: EntityID(9)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err = v.ValidateNode(shapeID, p1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Conforms {
		t.Fatalf("expected conformance after adding the required triple")
	}
}

func TestShaclMaxCountViolation(t *testing.T) {
	reg := NewRegistry(16)
	store := NewTripleStore(16)
	tel := NewTelemetry(nil, nil)
	v, err := NewValidator(store, reg, nil, tel, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hasNickname := EntityID(1)
	node := EntityID(2)
	shapeID := EntityID(3)
	sh, err := v.CompileShape(shapeID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sh.WithMaxCount(hasNickname, 1)
	_ = store.AddTriple(Triple{S: node, P: hasNickname, O: 10})
	_ = store.AddTriple(Triple{S: node, P: hasNickname, O: 11})

	result, err := v.ValidateNode(shapeID, node)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Conforms {
		t.Fatalf("expected non-conformance with 2 values against MaxCount=1")
	}
}

func TestShaclClassConstraint(t *testing.T) {
	reg := NewRegistry(16)
	store := NewTripleStore(16)
	tel := NewTelemetry(nil, nil)
	reasoner := NewReasoner(reg, tel, 16, ModeFull)
	v, err := NewValidator(store, reg, reasoner, tel, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	personClass := EntityID(0)
	knows := EntityID(2)
	alice := EntityID(3)
	bob := EntityID(4) // a Person
	rex := EntityID(5) // an Animal, not a Person

	if err := reasoner.InsertAxiom(Axiom{Subject: bob, Object: personClass, Kind: SubClassOf}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reasoner.Materialize(nil)

	shapeID := EntityID(6)
	sh, err := v.CompileShape(shapeID, personClass)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sh.WithClass(knows, personClass)

	_ = store.AddTriple(Triple{S: alice, P: knows, O: bob})
	result, err := v.ValidateNode(shapeID, alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Conforms {
		t.Fatalf("expected conformance when 'knows' only points to Person members, got %+v", result.Violations)
	}

	_ = store.AddTriple(Triple{S: alice, P: knows, O: rex})
	result, err = v.ValidateNode(shapeID, alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Conforms {
		t.Fatalf("expected non-conformance once 'knows' points to a non-Person")
	}
}

func TestShaclEffectivenessClassification(t *testing.T) {
	sh := newShape(0, 0)
	sh.validationCount = 100
	sh.violationCount = 90
	if got := sh.Effectiveness(0.05, 0.2); got != EffectivenessCandidateForTightening {
		t.Fatalf("expected CandidateForTightening at 90%% violation rate, got %v", got)
	}
	sh.violationCount = 1
	if got := sh.Effectiveness(0.05, 0.2); got != EffectivenessCandidateForLoosening {
		t.Fatalf("expected CandidateForLoosening at 1%% violation rate, got %v", got)
	}
}
