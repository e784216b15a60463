package model

// RelationKind enumerates the supported relation kinds.
type RelationKind string

const (
	HasOne              RelationKind = "has_one"
	HasMany             RelationKind = "has_many"
	ManyMany            RelationKind = "many_many"
	ManyManyPolymorphic RelationKind = "many_many_polymorphic"
)

// Valid reports whether k is a known relation kind.
func (k RelationKind) Valid() bool {
	switch k {
	case HasOne, HasMany, ManyMany, ManyManyPolymorphic:
		return true
	}
	return false
}

// IsManyMany reports whether k is stored in join rows.
func (k RelationKind) IsManyMany() bool {
	return k == ManyMany || k == ManyManyPolymorphic
}

// ForeignKey returns the field storing the id side of a has-one relation.
func ForeignKey(relation string) string {
	return relation + "ID"
}

// ClassKey returns the field storing the type side of a polymorphic has-one
// relation.
func ClassKey(relation string) string {
	return relation + "Class"
}

// RelationDescriptor is a fully resolved relation: the definition plus the
// keys it binds to.
type RelationDescriptor struct {
	OwnerType   string
	Name        string
	Label       string
	Kind        RelationKind
	Target      string
	Polymorphic bool

	// ForeignKey and ClassKey name the fields on the target record for
	// has-many relations, and on the owner record for has-one relations.
	ForeignKey string
	ClassKey   string

	JoinTable   string
	ExtraFields []FieldDefinition
}

// HasExtraFields reports whether join rows carry extra data.
func (d RelationDescriptor) HasExtraFields() bool {
	return d.Kind.IsManyMany() && len(d.ExtraFields) > 0
}

// JoinKey identifies one many-many join row.
type JoinKey struct {
	Table     string
	OwnerType string
	OwnerID   int64
	TargetID  int64
}

// JoinKeyFor returns the join key for owner and target under d. The owner
// type is always part of the key: a polymorphic join table is shared by
// owners of several types whose ids may collide.
func (d RelationDescriptor) JoinKeyFor(ownerID, targetID int64) JoinKey {
	return JoinKey{Table: d.JoinTable, OwnerType: d.OwnerType, OwnerID: ownerID, TargetID: targetID}
}
