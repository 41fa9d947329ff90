// pkg/core/update.go
package core

import (
	"encoding/json"
)

// Optional distinguishes an absent JSON field from one explicitly set,
// including one set to null.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// UnmarshalJSON marks the field as present and decodes its value.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	return json.Unmarshal(b, &o.Value)
}

// MarshalJSON encodes the wrapped value.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

// ShotUpdate is one record of a combat action batch. Every field except
// ShotID is optional; only fields present in the record are applied.
type ShotUpdate struct {
	ShotID *uint `json:"shot_id,omitempty"`

	Shot               Optional[*int]   `json:"shot,omitzero"`
	Count              Optional[int]    `json:"count,omitzero"`
	Wounds             Optional[int]    `json:"wounds,omitzero"`
	Impairments        Optional[int]    `json:"impairments,omitzero"`
	Location           Optional[string] `json:"location,omitzero"`
	Color              Optional[string] `json:"color,omitzero"`
	WasRammedOrDamaged Optional[bool]   `json:"was_rammed_or_damaged,omitzero"`

	AddStatus    []string `json:"add_status,omitempty"`
	RemoveStatus []string `json:"remove_status,omitempty"`

	// Event is the narrative payload, stored verbatim for history.
	Event json.RawMessage `json:"event,omitempty"`
}
