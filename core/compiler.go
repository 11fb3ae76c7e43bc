package core

// Recognized vocabulary IRIs the compiler's lowering rules key off of
// (spec.md §4.1, "Lowering rules"). Namespaces match the standard
// RDFS/OWL/SHACL IRIs; ParseTTL resolves `prefix:local` tokens into these
// via whatever @prefix directives the source declares.
const (
	rdfType            = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	rdfsSubClassOf     = "http://www.w3.org/2000/01/rdf-schema#subClassOf"
	owlEquivalentClass = "http://www.w3.org/2002/07/owl#equivalentClass"
	owlDisjointWith    = "http://www.w3.org/2002/07/owl#disjointWith"
	owlTransitive      = "http://www.w3.org/2002/07/owl#TransitiveProperty"
	owlSymmetric       = "http://www.w3.org/2002/07/owl#SymmetricProperty"
	owlFunctional      = "http://www.w3.org/2002/07/owl#FunctionalProperty"
	owlInverseFunc     = "http://www.w3.org/2002/07/owl#InverseFunctionalProperty"
	owlSameAs          = "http://www.w3.org/2002/07/owl#sameAs"
	owlDifferentFrom   = "http://www.w3.org/2002/07/owl#differentFrom"
	shNodeShape        = "http://www.w3.org/ns/shacl#NodeShape"
	shTargetClass      = "http://www.w3.org/ns/shacl#targetClass"
	shProperty         = "http://www.w3.org/ns/shacl#property"
	shMinCount         = "http://www.w3.org/ns/shacl#minCount"
	shMaxCount         = "http://www.w3.org/ns/shacl#maxCount"
	shClass            = "http://www.w3.org/ns/shacl#class"
)

// CompileOptions configures a Compile run (spec.md §4.1, "Failure
// semantics": "unresolved IRI... permitted only in open-world mode").
type CompileOptions struct {
	OpenWorld bool
	EntityCap int
	Mode      MaterializationMode
}

// CompileOutput bundles the artifacts a compile run produces (spec.md
// §4.1, "Output artifacts"): the sealed registry, the triple store, the
// reasoner (bit-matrices H/D/P plus any closures), the validator (compiled
// shapes), and one Program per declared shape, keyed by shape name.
type CompileOutput struct {
	Registry  *Registry
	Store     *TripleStore
	Reasoner  *Reasoner
	Validator *Validator
	Programs  map[string]*Program
}

// Compiler performs the two-pass AOT lowering described in spec.md §4.1:
// (P1) register every IRI and literal, recording axioms and shape
// declarations; (P2) lower shapes/rules into bytecode and matrix writes.
//
// Grounded on core/opcode_dispatcher.go's overall shape (a component that
// turns a declarative program into an executable dispatch table), adapted
// here from "register one handler per opcode" to "lower one shape into one
// bytecode routine".
type Compiler struct {
	opts CompileOptions
	tel  *Telemetry

	reg       *Registry
	store     *TripleStore
	reasoner  *Reasoner
	validator *Validator

	shapeTarget   map[string]EntityID // shape name -> target class
	shapeProps    map[string][]string // shape name -> property names it constrains
	propMinCount  map[string]int
	propMaxCount  map[string]int
	propClass     map[string]string
	declaredShape map[string]bool
}

// NewCompiler creates a Compiler with a fresh registry (C8), triple store
// (C6), reasoner (C4) and validator (C5) sized per opts; tel (C9) is
// supplied by the caller and shared with them.
func NewCompiler(opts CompileOptions, tel *Telemetry) (*Compiler, error) {
	reg := NewRegistry(opts.EntityCap)
	store := NewTripleStore(opts.EntityCap)
	reasoner := NewReasoner(reg, tel, opts.EntityCap, opts.Mode)
	validator, err := NewValidator(store, reg, reasoner, tel, 1024)
	if err != nil {
		return nil, err
	}
	return &Compiler{
		opts: opts, tel: tel,
		reg: reg, store: store, reasoner: reasoner, validator: validator,
		shapeTarget:   make(map[string]EntityID),
		shapeProps:    make(map[string][]string),
		propMinCount:  make(map[string]int),
		propMaxCount:  make(map[string]int),
		propClass:     make(map[string]string),
		declaredShape: make(map[string]bool),
	}, nil
}

// Compile runs both passes over ttl and returns the compiled artifacts.
func (c *Compiler) Compile(ttl string) (*CompileOutput, error) {
	triples, err := ParseTTL(ttl)
	if err != nil {
		return nil, err
	}
	if err := c.pass1(triples); err != nil {
		return nil, err
	}
	programs, err := c.pass2()
	if err != nil {
		return nil, err
	}
	c.reasoner.Materialize(c.assertionsByProp())
	c.reg.Seal()
	return &CompileOutput{
		Registry: c.reg, Store: c.store, Reasoner: c.reasoner,
		Validator: c.validator, Programs: programs,
	}, nil
}

func (c *Compiler) assertionsByProp() map[EntityID]*BitMatrix {
	out := make(map[EntityID]*BitMatrix, len(c.store.Predicates()))
	for _, p := range c.store.Predicates() {
		out[p] = c.store.Assertions(p)
	}
	return out
}

// internIRI registers name if not already known, respecting open/closed
// world mode for references to undeclared terms.
func (c *Compiler) internIRI(name string, kind SymbolKind, declared bool) (EntityID, error) {
	if e, ok := c.reg.Lookup(name); ok {
		return e.ID, nil
	}
	if !declared && !c.opts.OpenWorld {
		return 0, newErr(UnresolvedRef, name, nil)
	}
	return c.reg.Intern(name, kind)
}

// pass1 registers every IRI, assigns IDs, and records axioms and shape
// declarations (spec.md §4.1, P1).
func (c *Compiler) pass1(triples []TTLTriple) error {
	// First sub-pass: declare every subject and predicate, and note every
	// sh:NodeShape, so later references to them resolve even under
	// closed-world mode. Objects (sh:targetClass classes included) are not
	// declared here.
	for _, t := range triples {
		if _, err := c.reg.Intern(t.Subject, KindUnknown); err != nil {
			return err
		}
		if _, err := c.reg.Intern(t.Predicate, KindProperty); err != nil {
			return err
		}
		if t.Predicate == rdfType && t.Object == shNodeShape {
			c.declaredShape[t.Subject] = true
		}
	}

	for _, t := range triples {
		subjID, err := c.internIRI(t.Subject, KindUnknown, true)
		if err != nil {
			return err
		}
		predID, err := c.internIRI(t.Predicate, KindProperty, true)
		if err != nil {
			return err
		}

		switch t.Predicate {
		case rdfsSubClassOf:
			objID, err := c.internIRI(t.Object, KindClass, false)
			if err != nil {
				return err
			}
			if err := c.reasoner.InsertAxiom(Axiom{Subject: subjID, Object: objID, Kind: SubClassOf}); err != nil {
				return err
			}
			continue
		case owlEquivalentClass:
			objID, err := c.internIRI(t.Object, KindClass, false)
			if err != nil {
				return err
			}
			if err := c.reasoner.InsertAxiom(Axiom{Subject: subjID, Object: objID, Kind: EquivalentClass}); err != nil {
				return err
			}
			continue
		case owlDisjointWith:
			objID, err := c.internIRI(t.Object, KindClass, false)
			if err != nil {
				return err
			}
			if err := c.reasoner.InsertAxiom(Axiom{Subject: subjID, Object: objID, Kind: DisjointWith}); err != nil {
				return err
			}
			continue
		case owlSameAs:
			objID, err := c.internIRI(t.Object, KindIndividual, false)
			if err != nil {
				return err
			}
			if err := c.reasoner.InsertAxiom(Axiom{Subject: subjID, Object: objID, Kind: SameAs}); err != nil {
				return err
			}
			continue
		case owlDifferentFrom:
			continue // recorded as a fact only; no closure table (see reasoner.go)
		case rdfType:
			switch t.Object {
			case owlTransitive:
				c.reasoner.InsertAxiom(Axiom{Subject: subjID, Kind: Transitive})
			case owlSymmetric:
				c.reasoner.InsertAxiom(Axiom{Subject: subjID, Kind: Symmetric})
			case owlFunctional:
				c.reasoner.InsertAxiom(Axiom{Subject: subjID, Kind: Functional})
			case owlInverseFunc:
				c.reasoner.InsertAxiom(Axiom{Subject: subjID, Kind: InverseFunctional})
			case shNodeShape:
				c.declaredShape[t.Subject] = true
			}
			continue
		case shTargetClass:
			classID, err := c.internIRI(t.Object, KindClass, false)
			if err != nil {
				return err
			}
			c.shapeTarget[t.Subject] = classID
			continue
		case shProperty:
			c.shapeProps[t.Subject] = append(c.shapeProps[t.Subject], t.Object)
			if _, err := c.reg.Intern(t.Object, KindProperty); err != nil {
				return err
			}
			continue
		case shMinCount:
			c.propMinCount[t.Subject] = atoiLiteral(t.Object)
			continue
		case shMaxCount:
			c.propMaxCount[t.Subject] = atoiLiteral(t.Object)
			continue
		case shClass:
			c.propClass[t.Subject] = t.Object
			continue
		}

		// Plain assertion: intern the object (literal or IRI) and add the
		// triple (spec.md §4.1, "Triple assertions -> add_triple").
		var objID EntityID
		if t.ObjectIsLiteral {
			objID, err = c.reg.Intern(t.Object, KindIndividual)
		} else {
			objID, err = c.internIRI(t.Object, KindIndividual, false)
		}
		if err != nil {
			return err
		}
		if err := c.store.AddTriple(Triple{S: subjID, P: predID, O: objID}); err != nil {
			return err
		}
	}
	return nil
}

// Package serializes out's registry symbols as graph nodes and the side
// table (per-shape target classes, per-transitive-property names) via C7,
// writing a single CNSB file at path (spec.md §4.7, "All artifacts are
// serialized via C7 into the binary graph file").
func (c *Compiler) Package(out *CompileOutput, path string, flags BuildFlags, timestamp uint64) error {
	g := NewGraph(FlagDirected)
	for _, name := range out.Registry.Names() {
		entry, _ := out.Registry.Lookup(name)
		g.AddNode(Node{ID: uint64(entry.ID), Type: uint32(entry.Kind), Data: []byte(name)})
	}
	for _, p := range out.Store.Predicates() {
		for _, t := range out.Store.ScanPredicate(p) {
			g.AddEdge(Edge{Src: uint64(t.S), Dst: uint64(t.O), Type: uint32(p)})
		}
	}

	var entries []SideTableEntry
	for _, sh := range out.Validator.Shapes() {
		name := ""
		if e, ok := out.Registry.Resolve(sh.ID); ok {
			name = e.Name
		}
		entries = append(entries, SideTableEntry{Name: name, TargetClass: uint32(sh.TargetClass)})
	}
	for _, name := range out.Registry.Names() {
		if e, ok := out.Registry.Lookup(name); ok && out.Reasoner.transitiveProps[e.ID] {
			entries = append(entries, SideTableEntry{Name: name, IsTransitiveProp: true})
		}
	}
	sideTable, err := EncodeSideTable(entries)
	if err != nil {
		return err
	}
	return WriteGraphFile(path, g, flags, timestamp, sideTable)
}

func atoiLiteral(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// pass2 lowers every declared shape into a compiled Shape (for the
// validator) and a bytecode Program whose macro ops reference registered
// IDs (spec.md §4.1, P2; "sh:NodeShape with constraints -> a per-shape
// bytecode routine... an entry in the shape table").
func (c *Compiler) pass2() (map[string]*Program, error) {
	programs := make(map[string]*Program, len(c.declaredShape))
	for name := range c.declaredShape {
		shapeEntry, ok := c.reg.Lookup(name)
		if !ok {
			return nil, newErr(UnresolvedRef, name, nil)
		}
		target := c.shapeTarget[name]
		sh, err := c.validator.CompileShape(shapeEntry.ID, target)
		if err != nil {
			return nil, err
		}

		prog := NewProgram()
		prog.Label(name)
		for _, propName := range c.shapeProps[name] {
			propEntry, ok := c.reg.Lookup(propName)
			if !ok {
				return nil, newErr(UnresolvedRef, propName, nil)
			}
			if n, ok := c.propMinCount[propName]; ok {
				sh.WithMinCount(propEntry.ID, n)
				idx := prog.InternConst(propEntry.ID)
				prog.Emit(Instruction{Op: LOAD_ID, Dst: 1, Imm: uint64(idx)})
				prog.Emit(Instruction{Op: BIT_TEST, Dst: 2, Src1: 0, Src2: 1})
			}
			if n, ok := c.propMaxCount[propName]; ok {
				sh.WithMaxCount(propEntry.ID, n)
			}
			if className, ok := c.propClass[propName]; ok {
				classEntry, ok := c.reg.Lookup(className)
				if !ok {
					return nil, newErr(UnresolvedRef, className, nil)
				}
				sh.WithClass(propEntry.ID, classEntry.ID)
			}
		}
		prog.Emit(Instruction{Op: COLLAPSE})
		if err := prog.Validate(); err != nil {
			return nil, err
		}
		programs[name] = prog
	}
	return programs, nil
}
