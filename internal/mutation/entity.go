package mutation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"schedulers.app/internal/auth"
)

// Mutable is implemented by every entity the engine may update.
type Mutable interface {
	EntityType() string
	Table() string
	AllowedFields() Fields
	EditorRoles() []auth.Role
}

// Stamped entities record who changed them and when.
type Stamped interface {
	StampColumns() (at, by string)
}

// Guarded entities veto a request before the allow-list is applied.
type Guarded interface {
	GuardMutation(actor auth.Principal, id int64, requested map[string]any) error
}

// TargetGuarded entities veto a request based on one stored column of the
// target row, such as its current role.
type TargetGuarded interface {
	GuardColumn() string
	GuardTarget(actor auth.Principal, current any, requested map[string]any) error
}

// Unique entities name allowed columns that must stay case-insensitively unique.
type Unique interface {
	UniqueFields() []string
}

// Change is one column assignment.
type Change struct {
	Field string
	Value any
}

// ChangeSet is a validated, allow-listed update ready for the executor.
type ChangeSet struct {
	Entity  string
	Table   string
	ID      int64
	Changes []Change
	ActorID int64
	At      time.Time
	StampAt string
	StampBy string
	Unique  []string
}

// Fields returns the changed columns in order.
func (c ChangeSet) Fields() []string {
	out := make([]string, len(c.Changes))
	for i, ch := range c.Changes {
		out[i] = ch.Field
	}
	return out
}

// Value returns the new value for field.
func (c ChangeSet) Value(field string) (any, bool) {
	for _, ch := range c.Changes {
		if ch.Field == field {
			return ch.Value, true
		}
	}
	return nil, false
}

// Executor applies change sets to storage.
type Executor interface {
	// Exists reports whether a row with id is present in table.
	Exists(ctx context.Context, table string, id int64) (bool, error)
	// Column reads one column of row id, or returns auth.ErrNotFound.
	Column(ctx context.Context, table string, id int64, column string) (any, error)
	// Apply writes cs in one transaction. It returns auth.ErrNotFound when no
	// row matched and auth.ErrConflict on a unique collision.
	Apply(ctx context.Context, cs ChangeSet) error
}

// Registry maps entity type names to their adapters.
type Registry struct {
	entities map[string]Mutable
}

// NewRegistry fails on duplicate type names or empty allow-lists.
func NewRegistry(entities ...Mutable) (*Registry, error) {
	r := &Registry{entities: make(map[string]Mutable, len(entities))}
	for _, e := range entities {
		name := e.EntityType()
		if _, dup := r.entities[name]; dup {
			return nil, fmt.Errorf("mutation: entity %q registered twice", name)
		}
		if len(e.AllowedFields()) == 0 {
			return nil, fmt.Errorf("mutation: entity %q has no mutable fields", name)
		}
		if u, ok := e.(Unique); ok {
			for _, col := range u.UniqueFields() {
				if _, allowed := e.AllowedFields()[col]; !allowed {
					return nil, fmt.Errorf("mutation: unique field %s.%s is not mutable", name, col)
				}
			}
		}
		r.entities[name] = e
	}
	return r, nil
}

// Lookup returns the adapter for name.
func (r *Registry) Lookup(name string) (Mutable, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// Types lists registered entity types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.entities))
	for k := range r.entities {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
