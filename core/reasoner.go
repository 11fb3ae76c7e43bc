package core

import (
	"github.com/sirupsen/logrus"
)

// PropertyCharacteristic indexes columns of the property-characteristic
// matrix P (spec.md §4.3).
type PropertyCharacteristic int

const (
	CharTransitive PropertyCharacteristic = iota
	CharSymmetric
	CharFunctional
	CharInverseFunctional
	charCount
)

// MaterializationMode selects how the reasoner computes closures (spec.md
// §4.3): Full runs Warshall over H and every T_p; EightyTwenty only
// precomputes closures for properties flagged FrequentlyQueried and falls
// back to an online bounded search for the rest.
type MaterializationMode int

const (
	ModeFull MaterializationMode = iota
	ModeEightyTwenty
)

// Reasoner maintains the read-mostly closure tables C4 is responsible for:
// the class-hierarchy matrix H, the disjointness matrix D, the
// property-characteristic matrix P, and one transitive-closure matrix T_p
// per transitive property.
//
// Grounded on core/consensus.go's style of fixed, named parameter tables
// (MaxSubBlocksPerBlock, RetargetWindow, ...) for the axiom-kind catalogue;
// the bit-matrix algebra itself is new (see bitmatrix.go).
type Reasoner struct {
	reg *Registry
	tel *Telemetry
	log *logrus.Logger

	cap   int
	arena *Arena    // backs H, D, P and every materialized T_p (spec.md §4.1)
	H     *BitMatrix // class hierarchy: row=class, bit=superclass
	D     *BitMatrix // disjointness: row=class, bit=disjoint-with
	P     *BitMatrix // property characteristics: row=property, bit=characteristic

	transitiveProps   map[EntityID]bool // declared Transitive
	frequentlyQueried map[EntityID]bool // eligible for eager closure under 80/20
	closures          map[EntityID]*BitMatrix // T_p, keyed by property id

	mode MaterializationMode

	equivConflicts int64 // disjoint/equivalent conflicts, first-inserted wins
}

// maxReasonerClosures bounds the headroom reserved in the reasoner's arena
// for eagerly materialized transitive-property closures; most ontologies
// declare far fewer transitive properties than this, and reasonerArenaBytes
// degrades gracefully (falls back to heap allocation) if it's exceeded.
const maxReasonerClosures = 16

// reasonerArenaBytes sizes the arena backing H, D, P and up to
// maxReasonerClosures closure matrices for an entity universe of the given
// capacity.
func reasonerArenaBytes(cap int) int {
	hdWords := wordsPerRow64(cap) * cap
	pWords := wordsPerRow64(int(charCount)) * cap
	closureWords := wordsPerRow64(cap) * cap * maxReasonerClosures
	return (2*hdWords + pWords + closureWords) * 8
}

// NewReasoner creates a Reasoner over a fixed entity universe of size cap.
func NewReasoner(reg *Registry, tel *Telemetry, cap int, mode MaterializationMode) *Reasoner {
	arena := NewArena(reasonerArenaBytes(cap))
	return &Reasoner{
		reg: reg, tel: tel, log: tel.Logger(),
		cap:   cap,
		arena: arena,
		H:     NewBitMatrixInArena(arena, cap, cap),
		D:     NewBitMatrixInArena(arena, cap, cap),
		P:     NewBitMatrixInArena(arena, cap, int(charCount)),
		transitiveProps:   make(map[EntityID]bool),
		frequentlyQueried: make(map[EntityID]bool),
		closures:          make(map[EntityID]*BitMatrix),
		mode:              mode,
	}
}

// MarkFrequentlyQueried flags a transitive property for eager closure
// under 80/20 mode (spec.md §4.3).
func (r *Reasoner) MarkFrequentlyQueried(prop EntityID) {
	r.frequentlyQueried[prop] = true
}

// InsertAxiom updates H/D/P for one ingested axiom (spec.md §4.3). Equivalence
// inserts both directions; same-as unions the two subjects' rows across H.
// Disjointness/equivalence conflicts are resolved "first-inserted wins" with
// a warning counter, matching spec.md §4.3's tie-break rule exactly.
func (r *Reasoner) InsertAxiom(ax Axiom) error {
	if int(ax.Subject) >= r.cap || int(ax.Object) >= r.cap {
		return newErr(OutOfIds, "axiom subject/object exceeds entity cap", nil)
	}
	switch ax.Kind {
	case SubClassOf:
		r.H.Set(int(ax.Subject), int(ax.Object))
	case EquivalentClass:
		if r.D.Test(int(ax.Subject), int(ax.Object)) {
			r.equivConflicts++
			r.tel.IncrCounter("equivalence_disjointness_conflict", 1)
			r.log.WithFields(logrus.Fields{"a": ax.Subject, "b": ax.Object}).
				Warn("equivalentClass conflicts with prior disjointWith; first axiom wins")
			return nil
		}
		r.H.Set(int(ax.Subject), int(ax.Object))
		r.H.Set(int(ax.Object), int(ax.Subject))
	case DisjointWith:
		if r.H.Test(int(ax.Subject), int(ax.Object)) || r.H.Test(int(ax.Object), int(ax.Subject)) {
			r.equivConflicts++
			r.tel.IncrCounter("equivalence_disjointness_conflict", 1)
			r.log.WithFields(logrus.Fields{"a": ax.Subject, "b": ax.Object}).
				Warn("disjointWith conflicts with prior equivalentClass; first axiom wins")
			return nil
		}
		r.D.Set(int(ax.Subject), int(ax.Object))
		r.D.Set(int(ax.Object), int(ax.Subject))
	case Transitive:
		r.P.Set(int(ax.Subject), int(CharTransitive))
		r.transitiveProps[ax.Subject] = true
	case Symmetric:
		r.P.Set(int(ax.Subject), int(CharSymmetric))
	case Functional:
		r.P.Set(int(ax.Subject), int(CharFunctional))
	case InverseFunctional:
		r.P.Set(int(ax.Subject), int(CharInverseFunctional))
	case SameAs:
		OrRowInto(r.H, int(ax.Subject), r.H, int(ax.Object))
		OrRowInto(r.H, int(ax.Object), r.H, int(ax.Subject))
	case DifferentFrom, Domain, Range, InverseOf:
		// Carried as facts for the compiler's shape/type checks (C1/C5);
		// the reasoner itself has no closure table for these kinds.
	}
	return nil
}

// reflexiveClose sets the diagonal of H (spec.md §4.3: "SubClassOf is
// reflexive; the diagonal of H is set after any insertion").
func (r *Reasoner) reflexiveClose() {
	for i := 0; i < r.cap; i++ {
		r.H.Set(i, i)
	}
}

// Materialize computes closures per the configured mode (spec.md §4.3).
// Full mode runs Warshall over H and over every declared transitive
// property's assertion matrix; 80/20 mode only does so for properties
// marked frequently-queried, leaving the rest for online BFS at query
// time.
func (r *Reasoner) Materialize(assertions map[EntityID]*BitMatrix) {
	r.reflexiveClose()
	r.H.Warshall()

	for prop := range r.transitiveProps {
		asserted, ok := assertions[prop]
		if !ok {
			continue
		}
		if r.mode == ModeFull || r.frequentlyQueried[prop] {
			closure := NewBitMatrixInArena(r.arena, r.cap, r.cap)
			for i := 0; i < r.cap; i++ {
				OrRowInto(closure, i, asserted, i)
			}
			closure.Warshall()
			r.closures[prop] = closure
		}
	}
}

// IsSubclassOf is a single bit test in H (spec.md §4.3, <=7 ticks).
func (r *Reasoner) IsSubclassOf(child, parent EntityID) bool {
	return r.H.Test(int(child), int(parent))
}

// IsEquivalentClass is mutual subclassing (spec.md §4.3).
func (r *Reasoner) IsEquivalentClass(a, b EntityID) bool {
	return r.IsSubclassOf(a, b) && r.IsSubclassOf(b, a)
}

// IsDisjointWith is a single bit test in D.
func (r *Reasoner) IsDisjointWith(a, b EntityID) bool {
	return r.D.Test(int(a), int(b))
}

// HasPropertyCharacteristic is a single bit test in P.
func (r *Reasoner) HasPropertyCharacteristic(p EntityID, kind PropertyCharacteristic) bool {
	return r.P.Test(int(p), int(kind))
}

// TransitiveQuery answers transitive_query(s,p,o) per spec.md §4.3: one
// bit test if T_p is materialized, otherwise an online BFS bounded by the
// entity universe (P3: completes within O(N) bit tests).
func (r *Reasoner) TransitiveQuery(s, p, o EntityID, assertions *BitMatrix) bool {
	if closure, ok := r.closures[p]; ok {
		return closure.Test(int(s), int(o))
	}
	if assertions == nil {
		return false
	}
	return r.onlineBFS(s, o, assertions)
}

// onlineBFS performs a bounded breadth-first search over the asserted
// (s,p,_) edges, used when a transitive property's closure was not
// eagerly materialized under 80/20 mode.
func (r *Reasoner) onlineBFS(start, target EntityID, assertions *BitMatrix) bool {
	visited := make([]bool, r.cap)
	queue := make([]int, 0, r.cap)
	queue = append(queue, int(start))
	visited[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if EntityID(cur) == target {
			return true
		}
		assertions.ScanRow(cur, func(next int) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		})
	}
	return false
}

// EquivDisjointConflicts returns the count of equivalence/disjointness
// conflicts observed (spec.md §4.3 tie-break rule).
func (r *Reasoner) EquivDisjointConflicts() int64 { return r.equivConflicts }
