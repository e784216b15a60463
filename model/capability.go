package model

import "strings"

// Grid capability actions.
const (
	ActionView   = "view"
	ActionEdit   = "edit"
	ActionCreate = "create"
	ActionDelete = "delete"
)

// CapabilitySet is a set of capabilities granted to an operator. Each key is
// a capability string (e.g. "grids:people:view") and may include wildcards
// (e.g. "grids:people:*").
type CapabilitySet map[string]bool

// GridCapability returns the capability string guarding action on a grid.
func GridCapability(gridID, action string) string {
	return "grids:" + gridID + ":" + action
}

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// CanGrid reports whether the set allows action on gridID. Required lists
// extra capabilities declared on the grid definition itself.
func (cs CapabilitySet) CanGrid(gridID, action string, required ...string) bool {
	return cs.Has(GridCapability(gridID, action)) && cs.HasAll(required...)
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"                matches anything
//	"grids:*"          matches "grids:people:view"
//	"grids:people:*"   matches "grids:people:edit"
//	"grids:people"     does NOT match "grids:people:view"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the full capability set for a request context.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given subject.
	Invalidate(subjectID string)
}

// PolicyEvaluator resolves capabilities from roles.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)

	// Sync reloads policy data from its source.
	Sync() error
}
