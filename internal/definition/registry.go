package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/gridform/model"
)

// snapshot is an immutable collection of all definitions indexed by name.
type snapshot struct {
	domains  map[string]model.DomainDefinition
	types    map[string]model.TypeDefinition
	grids    map[string]model.GridDefinition
	gridIDs  []string
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	s := &snapshot{
		domains: make(map[string]model.DomainDefinition, len(defs)),
		types:   make(map[string]model.TypeDefinition),
		grids:   make(map[string]model.GridDefinition),
	}

	var checksumParts []string

	for _, def := range defs {
		s.domains[def.Domain] = def
		checksumParts = append(checksumParts, def.Checksum)

		for _, t := range def.Types {
			s.types[t.Name] = t
		}
		for _, g := range def.Grids {
			if _, dup := s.grids[g.ID]; !dup {
				s.gridIDs = append(s.gridIDs, g.ID)
			}
			s.grids[g.ID] = g
		}
	}
	sort.Strings(s.gridIDs)

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetDomain returns the domain definition with the given ID.
func (r *Registry) GetDomain(domainID string) (model.DomainDefinition, bool) {
	d, ok := r.current().domains[domainID]
	return d, ok
}

// Type returns the record type definition with the given name.
func (r *Registry) Type(name string) (model.TypeDefinition, bool) {
	t, ok := r.current().types[name]
	return t, ok
}

// Grid returns the grid definition with the given ID.
func (r *Registry) Grid(gridID string) (model.GridDefinition, bool) {
	g, ok := r.current().grids[gridID]
	return g, ok
}

// AllGrids returns all grid definitions ordered by ID.
func (r *Registry) AllGrids() []model.GridDefinition {
	s := r.current()
	grids := make([]model.GridDefinition, 0, len(s.gridIDs))
	for _, id := range s.gridIDs {
		grids = append(grids, s.grids[id])
	}
	return grids
}

// AllTypes returns all record type definitions ordered by name.
func (r *Registry) AllTypes() []model.TypeDefinition {
	s := r.current()
	types := make([]model.TypeDefinition, 0, len(s.types))
	for _, t := range s.types {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// AllDomains returns all domain definitions.
func (r *Registry) AllDomains() []model.DomainDefinition {
	s := r.current()
	defs := make([]model.DomainDefinition, 0, len(s.domains))
	for _, d := range s.domains {
		defs = append(defs, d)
	}
	return defs
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
