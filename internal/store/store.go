// Package store persists records and the join rows of many-many relations.
package store

import (
	"context"

	"github.com/pitabwire/gridform/model"
)

// RecordStore persists records of every declared type together with the join
// rows of many-many relations. Implementations must be safe for concurrent
// use.
type RecordStore interface {
	// Get retrieves a record by type and ID. Returns NOT_FOUND if absent.
	Get(ctx context.Context, typeName string, id int64) (*model.Record, error)

	// Find returns the records matching q, ordered by ID.
	Find(ctx context.Context, q Query) ([]*model.Record, error)

	// Count returns the number of records matching q, ignoring Limit and
	// Offset.
	Count(ctx context.Context, q Query) (int, error)

	// Save inserts a new record (assigning its ID) or replaces the fields of
	// an existing one.
	Save(ctx context.Context, rec *model.Record) error

	// Delete removes a record and the join rows it owns.
	Delete(ctx context.Context, typeName string, id int64) error

	// Link creates a join row with the given extra data. Linking an existing
	// row is a no-op that leaves its extra data untouched.
	Link(ctx context.Context, key model.JoinKey, extra map[string]any) error

	// Unlink removes a join row. Unlinking a missing row is a no-op.
	Unlink(ctx context.Context, key model.JoinKey) error

	// LinkedIDs returns the target IDs joined to an owner, in link order.
	LinkedIDs(ctx context.Context, table, ownerType string, ownerID int64) ([]int64, error)

	// ExtraData returns the extra data of a join row and whether the row
	// exists.
	ExtraData(ctx context.Context, key model.JoinKey) (map[string]any, bool, error)

	// SetExtraData replaces the extra data of an existing join row. Returns
	// NOT_FOUND if the row does not exist.
	SetExtraData(ctx context.Context, key model.JoinKey, extra map[string]any) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Query selects records of one type.
type Query struct {
	Type string

	// Filter matches records whose fields equal every entry.
	Filter map[string]any

	// IDs restricts the result to the given IDs when RestrictIDs is set. An
	// empty restriction matches nothing.
	IDs         []int64
	RestrictIDs bool

	Limit  int
	Offset int
}

// ByIDs returns a query restricted to the given IDs.
func ByIDs(typeName string, ids []int64) Query {
	return Query{Type: typeName, IDs: ids, RestrictIDs: true}
}
