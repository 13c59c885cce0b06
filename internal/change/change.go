// Package change defines the Change type: a single mutation of a board's
// object set (spec.md §3, §6.1).
package change

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind tags the variant of a Change.
type Kind string

const (
	KindInsert Kind = "Insert"
	KindUpdate Kind = "Update"
	KindDelete Kind = "Delete"
)

// Change is a tagged union over Insert, Update, and Delete. Exactly one of
// Object/Key+Value is populated depending on Type; Delete carries only ID.
type Change struct {
	Type   Kind            `json:"type"`
	ID     uuid.UUID       `json:"id"`
	Object json.RawMessage `json:"object,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Insert builds an Insert change introducing a new object.
func Insert(id uuid.UUID, object json.RawMessage) Change {
	return Change{Type: KindInsert, ID: id, Object: object}
}

// Update builds an Update change replacing one top-level key of an object.
func Update(id uuid.UUID, key string, value json.RawMessage) Change {
	return Change{Type: KindUpdate, ID: id, Key: key, Value: value}
}

// Delete builds a Delete change removing an object.
func Delete(id uuid.UUID) Change {
	return Change{Type: KindDelete, ID: id}
}

// Validate reports whether c is a well-formed instance of its declared Type.
func (c Change) Validate() error {
	switch c.Type {
	case KindInsert:
		if len(c.Object) == 0 {
			return fmt.Errorf("change: Insert requires object")
		}
	case KindUpdate:
		if c.Key == "" {
			return fmt.Errorf("change: Update requires key")
		}
	case KindDelete:
		// no further fields required
	default:
		return fmt.Errorf("change: unknown type %q", c.Type)
	}
	return nil
}
