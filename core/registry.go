package core

import (
	"fmt"
	"sync"
)

// RegistryEntry is one interned symbol: a name, its dense entity ID, its
// FNV-1a fingerprint, a coarse kind tag, and a version number (spec.md
// §4.1). Intern sets Version to 1; nothing in this package changes it
// afterwards.
type RegistryEntry struct {
	Name    string
	ID      EntityID
	Hash    HashID
	Kind    SymbolKind
	Version uint32
}

// SymbolKind distinguishes what an interned IRI denotes, used by the
// compiler (C1) to route lowering rules.
type SymbolKind uint8

const (
	KindUnknown SymbolKind = iota
	KindClass
	KindProperty
	KindIndividual
	KindShape
)

// Registry is the global string<->id interning table (spec.md §4.1,
// "Registry"). It is created at build time and sealed when compilation
// starts; reads after sealing require no lock (spec.md §5). Before
// sealing it is a single-writer structure.
//
// Grounded on core/integration_registry.go's mutex-guarded map-of-maps
// registry (RegisterAPI/ConnectChain), generalized from two fixed string
// maps into one name->entry interning table with a dense reverse index.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*RegistryEntry
	byID    []*RegistryEntry // dense, index == EntityID
	sealed  bool
	cap     int
	insOrdr []string // insertion order, for deterministic symbol-table emission
}

// NewRegistry creates an empty registry capped at entityCap IDs.
func NewRegistry(entityCap int) *Registry {
	return &Registry{
		byName: make(map[string]*RegistryEntry, 64),
		byID:   make([]*RegistryEntry, 0, entityCap),
		cap:    entityCap,
	}
}

// ErrOutOfIds is returned (wrapped) when interning would exceed the
// registry's entity cap.
var ErrOutOfIds = CodeErr(OutOfIds)

// Intern assigns (or returns the existing) dense ID for name. IDs are
// never recycled — insertions are monotonic per spec.md §4.1. Returns
// *Error{Code: OutOfIds} if the cap would be exceeded.
func (r *Registry) Intern(name string, kind SymbolKind) (EntityID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byName[name]; ok {
		return e.ID, nil
	}
	if r.sealed {
		return 0, newErr(InvalidArgument, "registry sealed: "+name, nil)
	}
	if len(r.byID) >= r.cap {
		return 0, newErr(OutOfIds, fmt.Sprintf("cap=%d", r.cap), nil)
	}
	id := EntityID(len(r.byID))
	e := &RegistryEntry{Name: name, ID: id, Hash: FNV1a32(name), Kind: kind, Version: 1}
	r.byName[name] = e
	r.byID = append(r.byID, e)
	r.insOrdr = append(r.insOrdr, name)
	return id, nil
}

// Lookup resolves name to its entry without interning it. ok is false if
// name was never registered — collisions (two names, same probe slot) are
// never surfaced to callers; they are resolved internally by exact string
// comparison against the Go map key (spec.md §4.1, "Collision must not be
// surfaced").
func (r *Registry) Lookup(name string) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// Resolve returns the entry for a dense entity ID.
func (r *Registry) Resolve(id EntityID) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

// ByHash finds an entry by fingerprint, used for query dispatch where only
// a hash is available. It scans the entries in ID order and returns the
// first match; there is no separate hash index.
func (r *Registry) ByHash(h HashID) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byID { // registry sizes are bounded by EntityCap; linear probe is adequate
		if e.Hash == h {
			return e, true
		}
	}
	return nil, false
}

// Seal freezes the registry: Intern of a name not already registered fails
// from then on (registered names still resolve through Intern), and
// reads no longer need the mutex's write path. Concurrent readers are safe
// without synchronization once sealed (spec.md §3, §5), but this
// implementation keeps the RWMutex for simplicity rather than special-
// casing a post-seal lock-free path.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of interned symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Names returns interned names in insertion order, for deterministic
// symbol-table emission by the compiler (C1).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.insOrdr))
	copy(out, r.insOrdr)
	return out
}
