package core

import (
	"errors"
	"path/filepath"
	"testing"
)

const personShapeTTL = `
@prefix ex: <http://example.org/>
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#>
@prefix sh: <http://www.w3.org/ns/shacl#>

ex:PersonShape rdf:type sh:NodeShape .
ex:PersonShape sh:targetClass ex:Person .
ex:PersonShape sh:property ex:hasEmail .
ex:hasEmail sh:minCount "1" .
ex:alice rdf:type ex:Person .
`

func compileFixture(t *testing.T, openWorld bool) *CompileOutput {
	t.Helper()
	tel := NewTelemetry(nil, nil)
	c, err := NewCompiler(CompileOptions{OpenWorld: openWorld, EntityCap: 64, Mode: ModeFull}, tel)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	out, err := c.Compile(personShapeTTL)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return out
}

// TestCompilerLowersShapeAndProgram covers spec.md §4.1's two-pass lowering:
// a declared sh:NodeShape produces both a compiled Shape (validator side)
// and a bytecode Program (executor side) under the same resolved name.
func TestCompilerLowersShapeAndProgram(t *testing.T) {
	out := compileFixture(t, true)

	const shapeName = "http://example.org/PersonShape"
	prog, ok := out.Programs[shapeName]
	if !ok {
		t.Fatalf("expected a compiled program for %q", shapeName)
	}
	if err := prog.Validate(); err != nil {
		t.Fatalf("compiled program failed validation: %v", err)
	}
	if len(prog.Code) == 0 || prog.Code[len(prog.Code)-1].Op != COLLAPSE {
		t.Fatalf("expected the program to end with COLLAPSE, got %+v", prog.Code)
	}

	shapeEntry, ok := out.Registry.Lookup(shapeName)
	if !ok {
		t.Fatalf("expected %q to be interned", shapeName)
	}
	aliceEntry, ok := out.Registry.Lookup("http://example.org/alice")
	if !ok {
		t.Fatalf("expected alice to be interned")
	}

	result, err := out.Validator.ValidateNode(shapeEntry.ID, aliceEntry.ID)
	if err != nil {
		t.Fatalf("ValidateNode: %v", err)
	}
	if result.Conforms {
		t.Fatalf("expected non-conformance before alice has a hasEmail triple")
	}

	hasEmail, ok := out.Registry.Lookup("http://example.org/hasEmail")
	if !ok {
		t.Fatalf("expected hasEmail to be interned")
	}
	// Compile seals the registry, so the object of the new triple has to be
	// an entity that is already registered; MinCount only counts values.
	addr, ok := out.Registry.Lookup("http://example.org/Person")
	if !ok {
		t.Fatalf("expected Person to be interned")
	}
	if err := out.Store.AddTriple(Triple{S: aliceEntry.ID, P: hasEmail.ID, O: addr.ID}); err != nil {
		t.Fatalf("AddTriple: %v", err)
	}

	result, err = out.Validator.ValidateNode(shapeEntry.ID, aliceEntry.ID)
	if err != nil {
		t.Fatalf("ValidateNode: %v", err)
	}
	if !result.Conforms {
		t.Fatalf("expected conformance after adding the required hasEmail triple, got %+v", result.Violations)
	}
}

// TestCompilerClosedWorldRejectsUnresolvedRef covers spec.md §4.1's failure
// semantics: an undeclared IRI referenced under closed-world mode is a
// compile error, not a silently-created entity.
func TestCompilerClosedWorldRejectsUnresolvedRef(t *testing.T) {
	tel := NewTelemetry(nil, nil)
	c, err := NewCompiler(CompileOptions{OpenWorld: false, EntityCap: 64, Mode: ModeFull}, tel)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	src := `
@prefix ex: <http://example.org/>
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#>

ex:Dog rdfs:subClassOf ex:Animal .
`
	if _, err := c.Compile(src); err == nil {
		t.Fatalf("expected an UnresolvedRef error under closed-world mode")
	} else {
		var ce *Error
		if !errors.As(err, &ce) || ce.Code != UnresolvedRef {
			t.Fatalf("expected an UnresolvedRef error, got %v", err)
		}
	}
}

// TestCompilerPackageRoundTrip exercises Compile -> Package -> read back
// through C7, confirming the side table carries the declared shape.
func TestCompilerPackageRoundTrip(t *testing.T) {
	tel := NewTelemetry(nil, nil)
	c, err := NewCompiler(CompileOptions{OpenWorld: true, EntityCap: 64, Mode: ModeFull}, tel)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	out, err := c.Compile(personShapeTTL)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	path := filepath.Join(t.TempDir(), "packaged.cnsb")
	if err := c.Package(out, path, BuildCompressVarints, 42); err != nil {
		t.Fatalf("Package: %v", err)
	}

	g, err := ReadGraphFile(path)
	if err != nil {
		t.Fatalf("ReadGraphFile: %v", err)
	}
	if len(g.Nodes) != out.Registry.Len() {
		t.Fatalf("expected %d graph nodes (one per registry symbol), got %d", out.Registry.Len(), len(g.Nodes))
	}

	entries, err := ReadSideTableFromFile(path)
	if err != nil {
		t.Fatalf("ReadSideTableFromFile: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "http://example.org/PersonShape" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the side table to contain the PersonShape entry, got %+v", entries)
	}
}
