package core

import "hash/fnv"

// EntityID is a dense 0..N-1 identifier used directly as a bit-matrix
// row/column index (spec.md §3, "entity IDs"). Capped by EntityCap.
type EntityID uint32

// HashID is a 32-bit fingerprint of an IRI used as a registry probe key and
// for query dispatch (spec.md §3, "hash IDs"). hash/fnv's FNV-1a is the
// reference 32-bit non-cryptographic hash on every platform Go targets; no
// third-party library in the corpus improves on the stdlib implementation
// for this use (see DESIGN.md), and the spec explicitly only requires an
// "FNV-like" fingerprint, not a specific construction.
type HashID uint32

// FNV1a32 computes the 32-bit FNV-1a fingerprint of s.
func FNV1a32(s string) HashID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return HashID(h.Sum32())
}

// Triple is the canonical RDF fact tuple (spec.md §3). Kind carries an
// optional packed type tag used by type-indexed scans; it is 0 for plain
// assertions.
type Triple struct {
	S, P, O EntityID
	Kind    uint32
}

// AxiomKind enumerates the OWL axiom kinds ingested by the reasoner
// (spec.md §3).
type AxiomKind uint8

const (
	SubClassOf AxiomKind = iota
	EquivalentClass
	DisjointWith
	Transitive
	Symmetric
	Functional
	InverseFunctional
	Domain
	Range
	InverseOf
	SameAs
	DifferentFrom
)

// Axiom is one ingested OWL fact (spec.md §3).
type Axiom struct {
	Subject, Predicate, Object EntityID
	Kind                       AxiomKind
	Materialized               bool
	ObservedTickCost           uint64
}
