package definition

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/store"
	"github.com/pitabwire/gridform/model"
)

// Fixtures is the content of a fixture file: records to seed, keyed so they
// can reference each other through relations.
type Fixtures struct {
	Records []FixtureRecord `yaml:"records"`
}

// FixtureRecord is a single seeded record.
type FixtureRecord struct {
	Type     string                   `yaml:"type"`
	Key      string                   `yaml:"key"`
	Fields   map[string]any           `yaml:"fields"`
	HasOne   map[string]string        `yaml:"has_one"`
	ManyMany map[string][]FixtureLink `yaml:"many_many"`
}

// FixtureLink references a many-many target by key, optionally with extra
// data. It may be written as a plain key.
type FixtureLink struct {
	Key   string         `yaml:"key"`
	Extra map[string]any `yaml:"extra"`
}

// UnmarshalYAML accepts either a scalar key or a mapping.
func (l *FixtureLink) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		l.Key = node.Value
		return nil
	}
	type plain FixtureLink
	return node.Decode((*plain)(l))
}

// LoadFixtures parses a fixture file.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return Fixtures{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fx, nil
}

// Seeder writes fixtures into a record store.
type Seeder struct {
	registry *Registry
	resolver *relation.Resolver
	store    store.RecordStore
}

// NewSeeder creates a Seeder.
func NewSeeder(reg *Registry, s store.RecordStore) *Seeder {
	return &Seeder{registry: reg, resolver: relation.NewResolver(reg, s), store: s}
}

// SeedFiles loads and seeds each fixture file in order. Keys are shared
// across files so later files may reference records from earlier ones.
func (s *Seeder) SeedFiles(ctx context.Context, paths []string) (map[string]*model.Record, error) {
	var all Fixtures
	for _, p := range paths {
		fx, err := LoadFixtures(p)
		if err != nil {
			return nil, err
		}
		all.Records = append(all.Records, fx.Records...)
	}
	return s.Seed(ctx, all)
}

// Seed saves every fixture record and then wires their relations. It returns
// the saved records by key.
func (s *Seeder) Seed(ctx context.Context, fx Fixtures) (map[string]*model.Record, error) {
	byKey := make(map[string]*model.Record, len(fx.Records))

	for i, fr := range fx.Records {
		td, ok := s.registry.Type(fr.Type)
		if !ok {
			return nil, fmt.Errorf("fixture records[%d]: unknown type %q", i, fr.Type)
		}
		if fr.Key != "" {
			if _, dup := byKey[fr.Key]; dup {
				return nil, fmt.Errorf("fixture records[%d]: duplicate key %q", i, fr.Key)
			}
		}

		rec := model.NewRecord(fr.Type)
		for name, v := range fr.Fields {
			f, ok := td.Field(name)
			if !ok {
				return nil, fmt.Errorf("fixture %s: type %q has no field %q", fr.label(i), fr.Type, name)
			}
			rec.Set(name, relation.Normalize(f.Type, v))
		}
		if err := s.store.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", fr.label(i), err)
		}
		if fr.Key != "" {
			byKey[fr.Key] = rec
		}
	}

	for i, fr := range fx.Records {
		if len(fr.HasOne) == 0 && len(fr.ManyMany) == 0 {
			continue
		}
		rec := byKey[fr.Key]
		if rec == nil {
			return nil, fmt.Errorf("fixture records[%d]: relations require a key", i)
		}
		if err := s.wireHasOne(ctx, rec, fr, byKey); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", fr.label(i), err)
		}
		if err := s.wireManyMany(ctx, rec, fr, byKey); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", fr.label(i), err)
		}
	}

	return byKey, nil
}

func (s *Seeder) wireHasOne(ctx context.Context, rec *model.Record, fr FixtureRecord, byKey map[string]*model.Record) error {
	if len(fr.HasOne) == 0 {
		return nil
	}
	for _, name := range sortedKeys(fr.HasOne) {
		d, err := s.resolver.Describe(rec.Type, name)
		if err != nil {
			return err
		}
		if d.Kind != model.HasOne {
			return fmt.Errorf("relation %q is %s, not has_one", name, d.Kind)
		}
		target, ok := byKey[fr.HasOne[name]]
		if !ok {
			return fmt.Errorf("relation %q references unknown key %q", name, fr.HasOne[name])
		}
		if !d.Polymorphic && target.Type != d.Target {
			return fmt.Errorf("relation %q expects %s, key %q is %s", name, d.Target, fr.HasOne[name], target.Type)
		}
		rec.Set(d.ForeignKey, target.ID)
		if d.Polymorphic {
			rec.Set(d.ClassKey, target.Type)
		}
	}
	return s.store.Save(ctx, rec)
}

func (s *Seeder) wireManyMany(ctx context.Context, rec *model.Record, fr FixtureRecord, byKey map[string]*model.Record) error {
	names := make([]string, 0, len(fr.ManyMany))
	for name := range fr.ManyMany {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d, err := s.resolver.Describe(rec.Type, name)
		if err != nil {
			return err
		}
		if !d.Kind.IsManyMany() {
			return fmt.Errorf("relation %q is %s, not many_many", name, d.Kind)
		}
		for _, link := range fr.ManyMany[name] {
			target, ok := byKey[link.Key]
			if !ok {
				return fmt.Errorf("relation %q references unknown key %q", name, link.Key)
			}
			extra := make(map[string]any, len(d.ExtraFields))
			for _, f := range d.ExtraFields {
				extra[f.Name] = relation.Zero(f.Type)
				if v, ok := link.Extra[f.Name]; ok {
					extra[f.Name] = relation.Normalize(f.Type, v)
				}
			}
			if err := s.store.Link(ctx, d.JoinKeyFor(rec.ID, target.ID), extra); err != nil {
				return err
			}
		}
	}
	return nil
}

func (fr FixtureRecord) label(i int) string {
	if fr.Key != "" {
		return fmt.Sprintf("%q", fr.Key)
	}
	return fmt.Sprintf("records[%d]", i)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
