package gateway

import "fmt"

// Entity describes the table shape behind a record type: where rows
// live, which columns carry the scoping and lifecycle markers, and which
// transformations apply. One Entity is declared per record type, next to
// the type itself, and returned by its Entity method.
type Entity struct {
	// Name labels the entity in metrics and audit events.
	Name string

	// Table is the SQL table rows live in.
	Table string

	// TenantColumn holds the owning tenant for scoped types.
	// Defaults to "tenant_id".
	TenantColumn string

	// SoftDelete rewrites deletes into marker updates and filters marked
	// rows out of reads unless a caller opts in with IncludeDeleted.
	SoftDelete bool

	// DeletedColumn is the soft-delete marker. Defaults to "deleted_at".
	DeletedColumn string

	// Versioned entities carry a counter bumped on every update; the
	// caller's copy of the counter is compared on the way in, and a
	// stale value fails with ErrOptimisticConflict.
	Versioned bool

	// VersionColumn defaults to "version".
	VersionColumn string
}

func (e Entity) tenantColumn() string {
	if e.TenantColumn != "" {
		return e.TenantColumn
	}
	return "tenant_id"
}

func (e Entity) deletedColumn() string {
	if e.DeletedColumn != "" {
		return e.DeletedColumn
	}
	return "deleted_at"
}

func (e Entity) versionColumn() string {
	if e.VersionColumn != "" {
		return e.VersionColumn
	}
	return "version"
}

// Record binds a Go type to the table it persists in. Operations take a
// (usually zero-valued) instance as the type token.
type Record interface {
	Entity() Entity
}

// TenantOwned marks record types owned by exactly one tenant.
// Implementing it is what opts a type into scoping: the gateway injects
// the context tenant into every operation on a TenantOwned type and
// refuses to run without one. A type that does not implement it, such as
// the tenant root record itself, is exempt. Whether a type is scoped is
// therefore settled at compile time, not by a name list that can drift
// from the schema.
type TenantOwned interface {
	Record
	TenantOwned()
}

// Cond is one comparison in a WHERE clause. Conditions combine with AND;
// the gateway owns placeholder numbering. Column and Op are trusted
// compile-time strings from calling services, never request input; only
// Value travels as a query argument.
type Cond struct {
	Column string
	Op     string
	Value  interface{}
}

// Eq builds an equality condition, the common case.
func Eq(column string, value interface{}) Cond {
	return Cond{Column: column, Op: "=", Value: value}
}

func (c Cond) operator() string {
	if c.Op == "" {
		return "="
	}
	return c.Op
}

// Fields is the tenant-unaware column payload of an insert or update.
// The gateway appends its own managed columns (tenant, version) and
// rejects payloads that try to set them directly.
type Fields struct {
	Columns []string
	Values  []interface{}
}

// Set appends one column/value pair.
func (f *Fields) Set(column string, value interface{}) *Fields {
	f.Columns = append(f.Columns, column)
	f.Values = append(f.Values, value)
	return f
}

// SelectOp describes a read. The gateway adds the tenant predicate and
// the soft-delete filter itself; Where carries only the caller's own
// predicates.
type SelectOp struct {
	Columns        []string
	Where          []Cond
	OrderBy        string
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// UpdateOp describes an update. Versioned entities require Version, the
// counter value the caller read before editing.
type UpdateOp struct {
	Set            Fields
	Where          []Cond
	Version        int64
	IncludeDeleted bool
}

// DeleteOp describes a delete. Hard skips the soft-delete rewrite and
// removes the row outright.
type DeleteOp struct {
	Where []Cond
	Hard  bool
}

// checkManaged rejects payload columns the gateway writes itself. The
// tenant column stays open when the gateway is not injecting one, so
// escape-hatch inserts can place a record into an explicit tenant.
func checkManaged(entity Entity, columns []string, rejectTenant bool) error {
	for _, column := range columns {
		if rejectTenant && column == entity.tenantColumn() {
			return fmt.Errorf("column %q of %s is gateway-managed", column, entity.Name)
		}
		if entity.Versioned && column == entity.versionColumn() {
			return fmt.Errorf("column %q of %s is gateway-managed", column, entity.Name)
		}
	}
	return nil
}
