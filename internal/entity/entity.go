// Package entity defines the scheduling records and their mutation allow-lists.
package entity

import "schedulers.app/internal/mutation"

// collections maps URL collection names to entity types.
var collections = map[string]string{
	"games":       TypeGame,
	"officials":   TypeOfficial,
	"assignments": TypeAssignment,
	"leagues":     TypeLeague,
	"locations":   TypeLocation,
	"principals":  TypePrincipal,
}

const (
	TypeGame       = "game"
	TypeOfficial   = "official"
	TypeAssignment = "assignment"
	TypeLeague     = "league"
	TypeLocation   = "location"
	TypePrincipal  = "principal"
)

// TypeForCollection resolves "games" to "game" and so on.
func TypeForCollection(collection string) (string, bool) {
	t, ok := collections[collection]
	return t, ok
}

// All returns every mutable entity adapter.
func All() []mutation.Mutable {
	return []mutation.Mutable{
		Game{},
		Official{},
		Assignment{},
		League{},
		Location{},
		PrincipalEntity{},
	}
}

// NewRegistry builds the mutation registry over All.
func NewRegistry() (*mutation.Registry, error) {
	return mutation.NewRegistry(All()...)
}

const (
	stampAt = "updated_at"
	stampBy = "updated_by"
)
