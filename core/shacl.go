package core

import (
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ConstraintBit enumerates the fixed set of essential SHACL constraints a
// compiled shape may activate (spec.md §4.5).
type ConstraintBit uint

const (
	ConstraintMinCount ConstraintBit = iota
	ConstraintMaxCount
	ConstraintDatatype
	ConstraintMinLength
	ConstraintMaxLength
	ConstraintPattern
	ConstraintIn
	ConstraintClass
	constraintBitCount
)

// Violation reports one failed constraint for a node (spec.md §4.5).
type Violation struct {
	Constraint ConstraintBit
	Property   EntityID
	Offending  any // offending value, or an int count for MinCount/MaxCount
}

// ValidationResult is the return value of validate_node (spec.md §4.5).
type ValidationResult struct {
	Conforms   bool
	Violations []Violation
}

// Shape is a compiled SHACL shape record (spec.md §4.5): a target
// selector, the bitmask of active essential constraints, and per-shape
// checker parameters (min/max counts, datatype, length bounds, pattern,
// enumeration, class).
type Shape struct {
	ID             EntityID
	TargetClass    EntityID
	ActiveMask     uint16 // bit i set iff ConstraintBit(i) is active
	MinCount       map[EntityID]int
	MaxCount       map[EntityID]int
	MinLength      map[EntityID]int
	MaxLength      map[EntityID]int
	Datatype       map[EntityID]string
	Pattern        map[EntityID]*regexp.Regexp
	In             map[EntityID][]string
	RequiredClass  map[EntityID]EntityID

	// evolution counters (spec.md §4.5 "Evolution")
	validationCount int64
	violationCount  int64
	falsePositive   int64
}

func newShape(id, target EntityID) *Shape {
	return &Shape{
		ID: id, TargetClass: target,
		MinCount: map[EntityID]int{}, MaxCount: map[EntityID]int{},
		MinLength: map[EntityID]int{}, MaxLength: map[EntityID]int{},
		Datatype: map[EntityID]string{}, Pattern: map[EntityID]*regexp.Regexp{},
		In:            map[EntityID][]string{},
		RequiredClass: map[EntityID]EntityID{},
	}
}

func (sh *Shape) activate(bit ConstraintBit) { sh.ActiveMask |= 1 << uint(bit) }
func (sh *Shape) isActive(bit ConstraintBit) bool { return sh.ActiveMask&(1<<uint(bit)) != 0 }

// countCacheKey packs (node_id, property_id) the way spec.md §4.5
// specifies: "(node_id & mask) << k | property_id & lomask". k is chosen
// as 20 bits, wide enough for EntityCap's default of 4096 and the typical
// property universe while fitting comfortably in an int64 cache key.
const countCacheShift = 20
const countCacheLoMask = (1 << countCacheShift) - 1

func countCacheKey(node, prop EntityID) int64 {
	return (int64(node) << countCacheShift) | int64(uint32(prop)&countCacheLoMask)
}

// Validator compiles and evaluates SHACL shapes (spec.md §4.5).
//
// Grounded on core/opcode_dispatcher.go's "charge a declared cost, then
// run the handler" sequencing, reused here as "read property counts from
// the count cache, build the satisfied-mask, then AND it against the
// active mask" — the SHACL
// hot path spec.md §4.5 describes as "a single AND... <=7 ticks."
type Validator struct {
	store    *TripleStore
	reg      *Registry
	reasoner *Reasoner
	tel      *Telemetry

	shapes map[EntityID]*Shape
	// countCache maps (node,property) -> observed property count, backing
	// the property-count cache described in spec.md §4.5.
	countCache *lru.Cache[int64, int]
	// cacheGen is store.Count() when countCache was last known current; any
	// insertion since then purges the cache before the next lookup.
	cacheGen int
}

// NewValidator creates a Validator backed by store, with a count cache of
// the given capacity. reasoner is consulted for the Class constraint
// (class membership of a property's values); it may be nil if no shape
// compiled against this validator uses WithClass.
func NewValidator(store *TripleStore, reg *Registry, reasoner *Reasoner, tel *Telemetry, cacheSize int) (*Validator, error) {
	cache, err := lru.New[int64, int](cacheSize)
	if err != nil {
		return nil, newErr(InvalidArgument, "count cache size", err)
	}
	return &Validator{store: store, reg: reg, reasoner: reasoner, tel: tel, shapes: make(map[EntityID]*Shape), countCache: cache}, nil
}

// CompileShape registers shape under id with the given target class. It is
// rejected at compile time (spec.md §4.5, "Malformed shapes are rejected
// at compile time") if id is already registered.
func (v *Validator) CompileShape(id, targetClass EntityID) (*Shape, error) {
	if _, exists := v.shapes[id]; exists {
		return nil, newErr(InvalidArgument, "duplicate shape id", nil)
	}
	sh := newShape(id, targetClass)
	v.shapes[id] = sh
	return sh, nil
}

// WithMinCount activates MinCount>=n for property p.
func (sh *Shape) WithMinCount(p EntityID, n int) *Shape {
	sh.MinCount[p] = n
	sh.activate(ConstraintMinCount)
	return sh
}

// WithMaxCount activates MaxCount<=n for property p.
func (sh *Shape) WithMaxCount(p EntityID, n int) *Shape {
	sh.MaxCount[p] = n
	sh.activate(ConstraintMaxCount)
	return sh
}

// WithMinLength activates MinLength for property p (applies to string
// object values resolved via the registry).
func (sh *Shape) WithMinLength(p EntityID, n int) *Shape {
	sh.MinLength[p] = n
	sh.activate(ConstraintMinLength)
	return sh
}

// WithMaxLength activates MaxLength for property p.
func (sh *Shape) WithMaxLength(p EntityID, n int) *Shape {
	sh.MaxLength[p] = n
	sh.activate(ConstraintMaxLength)
	return sh
}

// WithClass activates the Class constraint: every value of property p
// must be a member of class required.
func (sh *Shape) WithClass(p, required EntityID) *Shape {
	sh.RequiredClass[p] = required
	sh.activate(ConstraintClass)
	return sh
}

// WithDatatype activates the Datatype constraint: every literal value of
// property p must match the inferred datatype dt (one of "int", "float",
// "bool", "string").
func (sh *Shape) WithDatatype(p EntityID, dt string) *Shape {
	sh.Datatype[p] = dt
	sh.activate(ConstraintDatatype)
	return sh
}

// WithPattern activates the Pattern constraint: every literal value of
// property p must match the given regular expression. A malformed pattern
// is rejected at compile time (spec.md §4.5, "Malformed shapes are
// rejected at compile time") rather than silently ignored.
func (sh *Shape) WithPattern(p EntityID, pattern string) (*Shape, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, newErr(InvalidArgument, "invalid sh:pattern", err)
	}
	sh.Pattern[p] = re
	sh.activate(ConstraintPattern)
	return sh, nil
}

// WithIn activates the In constraint: every literal value of property p
// must appear in allowed.
func (sh *Shape) WithIn(p EntityID, allowed []string) *Shape {
	sh.In[p] = allowed
	sh.activate(ConstraintIn)
	return sh
}

// propertyCount returns the number of asserted (node,p,_) triples, served
// from the count cache with a bounded fallback scan on miss (spec.md
// §4.5: "cache miss falls back to a bounded search over the predicate's
// subject row").
func (v *Validator) propertyCount(node, p EntityID) int {
	if gen := v.store.Count(); gen != v.cacheGen {
		v.countCache.Purge()
		v.cacheGen = gen
	}
	key := countCacheKey(node, p)
	if n, ok := v.countCache.Get(key); ok {
		return n
	}
	m := v.store.Assertions(p)
	n := 0
	if m != nil {
		n = m.PopCountRow(int(node))
	}
	v.countCache.Add(key, n)
	return n
}

// literalValue resolves an object EntityID back to the string it was
// interned from, for the value-level constraints (MinLength, MaxLength,
// Datatype, Pattern, In) spec.md §4.5 describes as operating on "the
// literal object value."
func (v *Validator) literalValue(o EntityID) (string, bool) {
	e, ok := v.reg.Resolve(o)
	if !ok {
		return "", false
	}
	return e.Name, true
}

// detectDatatype infers the XSD-ish datatype tag of a literal string,
// matching the narrow set WithDatatype accepts.
func detectDatatype(s string) string {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return "int"
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return "float"
	}
	if s == "true" || s == "false" {
		return "bool"
	}
	return "string"
}

// ValidateNode runs every active constraint for shapeID against node and
// returns the conformance result (spec.md §4.5, validate_node). Malformed
// data never aborts validation; every failure is reported as a Violation.
func (v *Validator) ValidateNode(shapeID, node EntityID) (ValidationResult, error) {
	sh, ok := v.shapes[shapeID]
	if !ok {
		return ValidationResult{}, newErr(NotFound, "unknown shape", nil)
	}
	atomic.AddInt64(&sh.validationCount, 1)

	satisfied := bitset.New(uint(constraintBitCount))
	var violations []Violation

	if sh.isActive(ConstraintMinCount) {
		ok := true
		for p, min := range sh.MinCount {
			n := v.propertyCount(node, p)
			if n < min {
				ok = false
				violations = append(violations, Violation{Constraint: ConstraintMinCount, Property: p, Offending: n})
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintMinCount))
		}
	}
	if sh.isActive(ConstraintMaxCount) {
		ok := true
		for p, max := range sh.MaxCount {
			n := v.propertyCount(node, p)
			if n > max {
				ok = false
				violations = append(violations, Violation{Constraint: ConstraintMaxCount, Property: p, Offending: n})
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintMaxCount))
		}
	}
	if sh.isActive(ConstraintClass) {
		ok := true
		for p, required := range sh.RequiredClass {
			for _, t := range v.store.ScanPredicate(p) {
				if t.S != node {
					continue
				}
				if v.reasoner != nil && !v.reasoner.IsSubclassOf(t.O, required) {
					ok = false
					violations = append(violations, Violation{Constraint: ConstraintClass, Property: p, Offending: t.O})
				}
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintClass))
		}
	}
	if sh.isActive(ConstraintMinLength) {
		ok := true
		for p, min := range sh.MinLength {
			for _, t := range v.store.ScanPredicate(p) {
				if t.S != node {
					continue
				}
				val, found := v.literalValue(t.O)
				if !found || len(val) < min {
					ok = false
					violations = append(violations, Violation{Constraint: ConstraintMinLength, Property: p, Offending: val})
				}
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintMinLength))
		}
	}
	if sh.isActive(ConstraintMaxLength) {
		ok := true
		for p, max := range sh.MaxLength {
			for _, t := range v.store.ScanPredicate(p) {
				if t.S != node {
					continue
				}
				val, found := v.literalValue(t.O)
				if !found || len(val) > max {
					ok = false
					violations = append(violations, Violation{Constraint: ConstraintMaxLength, Property: p, Offending: val})
				}
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintMaxLength))
		}
	}
	if sh.isActive(ConstraintDatatype) {
		ok := true
		for p, dt := range sh.Datatype {
			for _, t := range v.store.ScanPredicate(p) {
				if t.S != node {
					continue
				}
				val, found := v.literalValue(t.O)
				if !found || detectDatatype(val) != dt {
					ok = false
					violations = append(violations, Violation{Constraint: ConstraintDatatype, Property: p, Offending: val})
				}
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintDatatype))
		}
	}
	if sh.isActive(ConstraintPattern) {
		ok := true
		for p, re := range sh.Pattern {
			for _, t := range v.store.ScanPredicate(p) {
				if t.S != node {
					continue
				}
				val, found := v.literalValue(t.O)
				if !found || !re.MatchString(val) {
					ok = false
					violations = append(violations, Violation{Constraint: ConstraintPattern, Property: p, Offending: val})
				}
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintPattern))
		}
	}
	if sh.isActive(ConstraintIn) {
		ok := true
		for p, allowed := range sh.In {
			for _, t := range v.store.ScanPredicate(p) {
				if t.S != node {
					continue
				}
				val, found := v.literalValue(t.O)
				member := false
				for _, a := range allowed {
					if val == a {
						member = true
						break
					}
				}
				if !found || !member {
					ok = false
					violations = append(violations, Violation{Constraint: ConstraintIn, Property: p, Offending: val})
				}
			}
		}
		if ok {
			satisfied.Set(uint(ConstraintIn))
		}
	}

	activeMask := bitset.New(uint(constraintBitCount))
	for b := ConstraintBit(0); b < constraintBitCount; b++ {
		if sh.isActive(b) {
			activeMask.Set(uint(b))
		}
	}

	// The hot path spec.md §4.5 describes ("a single AND of the
	// satisfied-mask against the active-mask, <=7 ticks") is the actual
	// conformance decision, not a side computation: a shape conforms iff
	// every active constraint's bit made it into satisfied.
	conforms := satisfied.Intersection(activeMask).Equal(activeMask)
	if !conforms {
		atomic.AddInt64(&sh.violationCount, 1)
	}

	return ValidationResult{Conforms: conforms, Violations: violations}, nil
}

// EffectivenessState is the advisory classification from spec.md §4.5's
// "Evolution" subsection.
type EffectivenessState int

const (
	EffectivenessNormal EffectivenessState = iota
	EffectivenessCandidateForLoosening
	EffectivenessCandidateForTightening
)

// Effectiveness classifies a shape's violation rate against floor/ceiling
// thresholds. The classification is advisory only — spec.md §4.5 states
// actual constraint changes are applied by a later compilation pass, never
// at run time.
func (sh *Shape) Effectiveness(floor, ceiling float64) EffectivenessState {
	if sh.validationCount == 0 {
		return EffectivenessNormal
	}
	rate := float64(sh.violationCount) / float64(sh.validationCount)
	switch {
	case rate < floor:
		return EffectivenessCandidateForLoosening
	case rate > ceiling:
		return EffectivenessCandidateForTightening
	default:
		return EffectivenessNormal
	}
}

// MarkFalsePositive records an externally-flagged false positive for a
// shape's effectiveness accounting.
func (sh *Shape) MarkFalsePositive() { atomic.AddInt64(&sh.falsePositive, 1) }

// Shapes returns every compiled shape, for C7's side-table packaging.
func (v *Validator) Shapes() []*Shape {
	out := make([]*Shape, 0, len(v.shapes))
	for _, sh := range v.shapes {
		out = append(out, sh)
	}
	return out
}
