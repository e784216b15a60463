package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/gridform/model"
)

// stores returns every RecordStore implementation available in this
// environment. The PostgreSQL store runs only when GRIDFORM_TEST_DATABASE_URL
// is set.
func stores(t *testing.T) map[string]func(t *testing.T) RecordStore {
	t.Helper()
	impls := map[string]func(t *testing.T) RecordStore{
		"memory": func(*testing.T) RecordStore { return NewMemoryRecordStore() },
	}
	if dsn := os.Getenv("GRIDFORM_TEST_DATABASE_URL"); dsn != "" {
		impls["postgres"] = func(t *testing.T) RecordStore {
			ctx := context.Background()
			pool, err := OpenPool(ctx, dsn, PoolConfig{MaxConns: 4})
			require.NoError(t, err)
			t.Cleanup(pool.Close)

			s := NewPgRecordStore(pool)
			require.NoError(t, s.Migrate(ctx))
			_, err = pool.Exec(ctx, "TRUNCATE records, record_joins RESTART IDENTITY")
			require.NoError(t, err)
			return s
		}
	}
	return impls
}

func person(first, surname string, groupID int64) *model.Record {
	return &model.Record{Type: "Person", Fields: map[string]any{
		"FirstName": first,
		"Surname":   surname,
		"GroupID":   groupID,
	}}
}

func TestRecordStore_SaveAndGet(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			rec := person("Jane", "Doe", 1)
			require.NoError(t, s.Save(ctx, rec))
			require.NotZero(t, rec.ID)

			got, err := s.Get(ctx, "Person", rec.ID)
			require.NoError(t, err)
			require.Equal(t, "Jane", got.String("FirstName"))
			require.Equal(t, int64(1), got.Int("GroupID"))

			got.Set("FirstName", "Janet")
			require.NoError(t, s.Save(ctx, got))

			again, err := s.Get(ctx, "Person", rec.ID)
			require.NoError(t, err)
			require.Equal(t, "Janet", again.String("FirstName"))
		})
	}
}

func TestRecordStore_Get_notFound(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := open(t).Get(context.Background(), "Person", 404)
			require.True(t, model.IsCode(err, model.ErrNotFound), "err = %v", err)
		})
	}
}

func TestRecordStore_Save_missingExisting(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec := person("Ghost", "Record", 0)
			rec.ID = 99
			err := open(t).Save(context.Background(), rec)
			require.True(t, model.IsCode(err, model.ErrNotFound), "err = %v", err)
		})
	}
}

func TestRecordStore_Find(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			for _, r := range []*model.Record{
				person("Joe", "Bloggs", 1),
				person("Jane", "Doe", 1),
				person("Jack", "Smith", 2),
			} {
				require.NoError(t, s.Save(ctx, r))
			}

			all, err := s.Find(ctx, Query{Type: "Person"})
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Less(t, all[0].ID, all[1].ID)

			group1, err := s.Find(ctx, Query{Type: "Person", Filter: map[string]any{"GroupID": 1}})
			require.NoError(t, err)
			require.Len(t, group1, 2)

			n, err := s.Count(ctx, Query{Type: "Person", Filter: map[string]any{"GroupID": 1}})
			require.NoError(t, err)
			require.Equal(t, 2, n)

			page, err := s.Find(ctx, Query{Type: "Person", Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, page, 1)
			require.Equal(t, "Jane", page[0].String("FirstName"))

			byID, err := s.Find(ctx, ByIDs("Person", []int64{all[2].ID}))
			require.NoError(t, err)
			require.Len(t, byID, 1)
			require.Equal(t, "Jack", byID[0].String("FirstName"))

			none, err := s.Find(ctx, ByIDs("Person", nil))
			require.NoError(t, err)
			require.Empty(t, none)

			other, err := s.Find(ctx, Query{Type: "Category"})
			require.NoError(t, err)
			require.Empty(t, other)
		})
	}
}

func TestRecordStore_Delete(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			rec := person("Jane", "Doe", 1)
			require.NoError(t, s.Save(ctx, rec))
			key := model.JoinKey{Table: "Person_Categories", OwnerType: "Person", OwnerID: rec.ID, TargetID: 7}
			require.NoError(t, s.Link(ctx, key, nil))

			require.NoError(t, s.Delete(ctx, "Person", rec.ID))

			_, err := s.Get(ctx, "Person", rec.ID)
			require.True(t, model.IsCode(err, model.ErrNotFound))

			_, ok, err := s.ExtraData(ctx, key)
			require.NoError(t, err)
			require.False(t, ok, "join rows owned by a deleted record should be removed")

			err = s.Delete(ctx, "Person", rec.ID)
			require.True(t, model.IsCode(err, model.ErrNotFound))
		})
	}
}

func TestRecordStore_DeleteSharedJoinTable(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			rec := person("Jane", "Doe", 1)
			require.NoError(t, s.Save(ctx, rec))

			// A group row with the same owner id in the same table.
			mine := model.JoinKey{Table: "Tagged", OwnerType: "Person", OwnerID: rec.ID, TargetID: 3}
			theirs := model.JoinKey{Table: "Tagged", OwnerType: "PeopleGroup", OwnerID: rec.ID, TargetID: 3}
			require.NoError(t, s.Link(ctx, mine, map[string]any{"Weight": int64(1)}))
			require.NoError(t, s.Link(ctx, theirs, map[string]any{"Weight": int64(2)}))

			ids, err := s.LinkedIDs(ctx, "Tagged", "PeopleGroup", rec.ID)
			require.NoError(t, err)
			require.Equal(t, []int64{3}, ids)

			require.NoError(t, s.Delete(ctx, "Person", rec.ID))

			_, ok, err := s.ExtraData(ctx, mine)
			require.NoError(t, err)
			require.False(t, ok, "the deleted owner's row should be removed")

			extra, ok, err := s.ExtraData(ctx, theirs)
			require.NoError(t, err)
			require.True(t, ok, "another owner type's row should survive")
			require.EqualValues(t, 2, extra["Weight"])
		})
	}
}

func TestRecordStore_Joins(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			k1 := model.JoinKey{Table: "Person_Categories", OwnerType: "Person", OwnerID: 1, TargetID: 20}
			k2 := model.JoinKey{Table: "Person_Categories", OwnerType: "Person", OwnerID: 1, TargetID: 10}
			require.NoError(t, s.Link(ctx, k1, map[string]any{"IsPublished": true}))
			require.NoError(t, s.Link(ctx, k2, nil))

			// Relinking keeps the original extra data.
			require.NoError(t, s.Link(ctx, k1, map[string]any{"IsPublished": false}))

			ids, err := s.LinkedIDs(ctx, "Person_Categories", "Person", 1)
			require.NoError(t, err)
			require.Equal(t, []int64{20, 10}, ids)

			extra, ok, err := s.ExtraData(ctx, k1)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, true, extra["IsPublished"])

			require.NoError(t, s.SetExtraData(ctx, k1, map[string]any{"IsPublished": false, "PublishedBy": ""}))
			extra, _, err = s.ExtraData(ctx, k1)
			require.NoError(t, err)
			require.Equal(t, false, extra["IsPublished"])
			require.Equal(t, "", extra["PublishedBy"])

			require.NoError(t, s.Unlink(ctx, k1))
			ids, err = s.LinkedIDs(ctx, "Person_Categories", "Person", 1)
			require.NoError(t, err)
			require.Equal(t, []int64{10}, ids)

			err = s.SetExtraData(ctx, k1, nil)
			require.True(t, model.IsCode(err, model.ErrNotFound))
		})
	}
}

func TestMemoryRecordStore_isolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	rec := person("Jane", "Doe", 1)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec.Set("FirstName", "Mutated")

	got, _ := s.Get(ctx, "Person", rec.ID)
	if got.String("FirstName") != "Jane" {
		t.Errorf("stored record shares state with caller: FirstName = %q", got.String("FirstName"))
	}
	got.Set("FirstName", "Mutated again")

	again, _ := s.Get(ctx, "Person", rec.ID)
	if again.String("FirstName") != "Jane" {
		t.Errorf("Get returned shared state: FirstName = %q", again.String("FirstName"))
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryRecordStore_idsPerType(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	p := person("Jane", "Doe", 0)
	g := &model.Record{Type: "PeopleGroup", Fields: map[string]any{"Name": "My Group"}}
	_ = s.Save(ctx, p)
	_ = s.Save(ctx, g)

	if p.ID != 1 || g.ID != 1 {
		t.Errorf("IDs = %d, %d, want 1, 1", p.ID, g.ID)
	}
}
