package capability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/gridform/model"
)

// policyFile maps roles, and optionally individual subjects, to capability
// patterns such as "grids:testfield:*" or "*".
type policyFile struct {
	Roles    map[string][]string `yaml:"roles"`
	Subjects map[string][]string `yaml:"subjects"`
}

// StaticPolicyEvaluator resolves capabilities from a YAML policy file.
type StaticPolicyEvaluator struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicyEvaluator loads the policy at path.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of the capabilities granted to the
// subject and to each of its roles.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, c := range e.policy.Roles[role] {
			caps[c] = true
		}
	}
	for _, c := range e.policy.Subjects[rctx.SubjectID] {
		caps[c] = true
	}
	return caps, nil
}

// Sync reloads the policy file.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", e.path, err)
	}

	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", e.path, err)
	}

	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()
	return nil
}

// HealthCheck reports whether the policy file is still readable.
func (e *StaticPolicyEvaluator) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(e.path); err != nil {
		return fmt.Errorf("capability: policy file: %w", err)
	}
	return nil
}
