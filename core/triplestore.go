package core

import "sync"

// TripleStore holds, for every registered predicate, a bit-matrix whose
// row is the subject and whose column bit o encodes "triple (s,p,o)
// exists" (spec.md §4.4). Predicates are allocated lazily on first insert.
//
// Grounded in shape on core/opcode_dispatcher.go's Register/Dispatch pair
// (a map keyed by a small dense identifier, guarded by one mutex); here
// the map holds one BitMatrix per predicate instead of one handler per
// opcode.
type TripleStore struct {
	mu     sync.RWMutex
	cap    int
	arena  *Arena // backs every per-predicate matrix (spec.md §4.1)
	byPred map[EntityID]*BitMatrix
	count  int
}

// maxStorePredicates bounds the headroom reserved in the store's arena for
// distinct predicates; exceeding it just falls back to heap allocation for
// the overflow predicates (see Arena.AllocUint64s).
const maxStorePredicates = 32

// NewTripleStore creates an empty store over an entity universe of size cap.
func NewTripleStore(cap int) *TripleStore {
	bytesPerMatrix := wordsPerRow64(cap) * cap * 8
	arena := NewArena(bytesPerMatrix * maxStorePredicates)
	return &TripleStore{cap: cap, arena: arena, byPred: make(map[EntityID]*BitMatrix, 16)}
}

func (s *TripleStore) rowsFor(p EntityID) *BitMatrix {
	m, ok := s.byPred[p]
	if !ok {
		m = NewBitMatrixInArena(s.arena, s.cap, s.cap)
		s.byPred[p] = m
	}
	return m
}

// AddTriple sets the (s,p,o) bit, allocating the predicate's matrix on
// first use (spec.md §4.4, "may trigger expansion of the predicate row
// set" — here expansion is simply lazy allocation since the universe is
// fixed-cap by construction).
func (s *TripleStore) AddTriple(t Triple) error {
	if int(t.S) >= s.cap || int(t.O) >= s.cap {
		return newErr(OutOfMemory, "subject/object exceeds entity cap", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowsFor(t.P).Set(int(t.S), int(t.O))
	s.count++
	return nil
}

// Ask is a constant-time bit test (spec.md §4.4, P1). It never mutates
// state, so repeated calls are pure.
func (s *TripleStore) Ask(t Triple) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byPred[t.P]
	if !ok {
		return false
	}
	return m.Test(int(t.S), int(t.O))
}

// BatchAsk evaluates Ask over every pattern, fusing groups of 8 when the
// wide kernel capability is available (spec.md §4.4, "eight 64-bit ASK
// tests are fused per iteration").
func (s *TripleStore) BatchAsk(patterns []Triple) []bool {
	out := make([]bool, len(patterns))
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := 0
	if hasWideKernel {
		for ; i+8 <= len(patterns); i += 8 {
			for j := 0; j < 8; j++ {
				t := patterns[i+j]
				if m, ok := s.byPred[t.P]; ok {
					out[i+j] = m.Test(int(t.S), int(t.O))
				}
			}
		}
	}
	for ; i < len(patterns); i++ {
		t := patterns[i]
		if m, ok := s.byPred[t.P]; ok {
			out[i] = m.Test(int(t.S), int(t.O))
		}
	}
	return out
}

// ScanType iterates the rdf:type predicate row for typeID and emits every
// subject with that type, in natural scan order (spec.md §4.4,
// scan_type).
func (s *TripleStore) ScanType(rdfType, typeID EntityID) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byPred[rdfType]
	if !ok {
		return nil
	}
	var out []EntityID
	for subj := 0; subj < s.cap; subj++ {
		if m.Test(subj, int(typeID)) {
			out = append(out, EntityID(subj))
		}
	}
	return out
}

// ScanPredicate emits every (s,o) pair asserted under predicate p, in
// natural scan order (spec.md §4.4, scan_predicate).
func (s *TripleStore) ScanPredicate(p EntityID) []Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byPred[p]
	if !ok {
		return nil
	}
	var out []Triple
	for subj := 0; subj < s.cap; subj++ {
		m.ScanRow(subj, func(obj int) {
			out = append(out, Triple{S: EntityID(subj), P: p, O: EntityID(obj)})
		})
	}
	return out
}

// HashJoinRow is one (key,value) tuple for the hash-join kernel.
type HashJoinRow struct {
	Key   EntityID
	Value EntityID
}

// HashJoin builds a table from build (sized to the next power of two >=
// 1.5x|build|, spec.md §4.4) and streams probe against it, returning every
// (buildValue, probeValue) pair whose keys match.
func HashJoin(build, probe []HashJoinRow) []([2]EntityID) {
	size := nextPow2(int(float64(len(build))*1.5) + 1)
	if size < 1 {
		size = 1
	}
	table := make(map[EntityID][]EntityID, size)
	for _, r := range build {
		table[r.Key] = append(table[r.Key], r.Value)
	}
	var out [][2]EntityID
	for _, r := range probe {
		if vals, ok := table[r.Key]; ok {
			for _, v := range vals {
				out = append(out, [2]EntityID{v, r.Value})
			}
		}
	}
	return out
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// FilterGT scans a dense f32 column and returns the indices whose value
// exceeds threshold (spec.md §4.4, Filter>).
func FilterGT(column []float32, threshold float32) []int {
	var out []int
	for i, v := range column {
		if v > threshold {
			out = append(out, i)
		}
	}
	return out
}

// Project gathers the columns named by idx from each row in rows into a
// new tuple layout (spec.md §4.4, Project).
func Project(rows [][]EntityID, idx []int) [][]EntityID {
	out := make([][]EntityID, len(rows))
	for i, row := range rows {
		tuple := make([]EntityID, len(idx))
		for j, col := range idx {
			if col >= 0 && col < len(row) {
				tuple[j] = row[col]
			}
		}
		out[i] = tuple
	}
	return out
}

// Count returns the number of triples ever inserted (including
// duplicates collapsed by the bit test).
func (s *TripleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Predicates returns every predicate with at least one asserted triple.
func (s *TripleStore) Predicates() []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntityID, 0, len(s.byPred))
	for p := range s.byPred {
		out = append(out, p)
	}
	return out
}

// Assertions exposes the raw per-predicate bit-matrix, used by the
// reasoner for transitive closure materialization (spec.md §4.3).
func (s *TripleStore) Assertions(p EntityID) *BitMatrix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPred[p]
}
