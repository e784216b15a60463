package definition

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/gridform/internal/store"
	"github.com/pitabwire/gridform/model"
)

func loadPeopleRegistry(t *testing.T) *Registry {
	t.Helper()
	defs, err := NewLoader().LoadAll([]string{"testdata/people"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	return NewRegistry(defs)
}

func TestSeeder_SeedFiles(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryRecordStore()
	seeder := NewSeeder(loadPeopleRegistry(t), s)

	recs, err := seeder.SeedFiles(ctx, []string{"testdata/fixtures/people.yaml"})
	if err != nil {
		t.Fatalf("SeedFiles() error = %v", err)
	}
	if s.Len() != 8 {
		t.Errorf("store Len() = %d, want 8", s.Len())
	}

	jane := recs["jane"]
	if jane.Int("GroupID") != recs["group"].ID {
		t.Errorf("jane.GroupID = %d, want %d", jane.Int("GroupID"), recs["group"].ID)
	}

	joe, err := s.Get(ctx, "Person", recs["joe"].ID)
	if err != nil {
		t.Fatalf("Get(joe) error = %v", err)
	}
	if joe.String("PolymorphicGroupClass") != "PolymorphicPeopleGroup" {
		t.Errorf("joe.PolymorphicGroupClass = %q", joe.String("PolymorphicGroupClass"))
	}

	ids, _ := s.LinkedIDs(ctx, "Person_Categories", "Person", jane.ID)
	if diff := cmp.Diff([]int64{recs["category1"].ID, recs["category2"].ID}, ids); diff != "" {
		t.Errorf("jane categories (-want +got):\n%s", diff)
	}

	key := model.JoinKey{Table: "Person_Categories", OwnerType: "Person", OwnerID: jane.ID, TargetID: recs["category2"].ID}
	extra, _, _ := s.ExtraData(ctx, key)
	if diff := cmp.Diff(map[string]any{"IsPublished": true, "PublishedBy": "Richard"}, extra); diff != "" {
		t.Errorf("category2 extra data (-want +got):\n%s", diff)
	}

	key.TargetID = recs["category1"].ID
	extra, _, _ = s.ExtraData(ctx, key)
	if diff := cmp.Diff(map[string]any{"IsPublished": false, "PublishedBy": ""}, extra); diff != "" {
		t.Errorf("category1 extra data (-want +got):\n%s", diff)
	}
}

func TestSeeder_Seed_errors(t *testing.T) {
	tests := []struct {
		name string
		fx   Fixtures
	}{
		{"unknown type", Fixtures{Records: []FixtureRecord{{Type: "Robot"}}}},
		{"unknown field", Fixtures{Records: []FixtureRecord{{Type: "Category", Fields: map[string]any{"Colour": "red"}}}}},
		{"duplicate key", Fixtures{Records: []FixtureRecord{
			{Type: "Category", Key: "c"}, {Type: "Category", Key: "c"},
		}}},
		{"unknown reference", Fixtures{Records: []FixtureRecord{
			{Type: "Person", Key: "p", HasOne: map[string]string{"Group": "missing"}},
		}}},
		{"wrong target type", Fixtures{Records: []FixtureRecord{
			{Type: "Category", Key: "c"},
			{Type: "Person", Key: "p", HasOne: map[string]string{"Group": "c"}},
		}}},
		{"has_one through many_many", Fixtures{Records: []FixtureRecord{
			{Type: "Category", Key: "c"},
			{Type: "Person", Key: "p", HasOne: map[string]string{"Categories": "c"}},
		}}},
		{"relations without key", Fixtures{Records: []FixtureRecord{
			{Type: "Person", ManyMany: map[string][]FixtureLink{"Categories": {{Key: "c"}}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seeder := NewSeeder(loadPeopleRegistry(t), store.NewMemoryRecordStore())
			if _, err := seeder.Seed(context.Background(), tt.fx); err == nil {
				t.Error("Seed() error = nil, want error")
			}
		})
	}
}

func TestLoadFixtures_missing(t *testing.T) {
	if _, err := LoadFixtures("testdata/fixtures/nope.yaml"); err == nil {
		t.Fatal("LoadFixtures() with missing file should return error")
	}
}
