package users

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jacentio/accounts/internal/keys"
	"github.com/jacentio/accounts/store"
)

type fieldState uint8

const (
	fieldAbsent fieldState = iota
	fieldNull
	fieldSet
)

// Field is an optional patch value with three states: absent (leave the
// stored attribute untouched), null (remove it) and set (assign it).
// The zero value is absent. Decoding JSON null yields the null state; a key
// missing from the JSON object leaves the field absent.
type Field[T any] struct {
	state fieldState
	value T
}

// Set returns a field assigning v.
func Set[T any](v T) Field[T] {
	return Field[T]{state: fieldSet, value: v}
}

// Null returns a field removing the attribute.
func Null[T any]() Field[T] {
	return Field[T]{state: fieldNull}
}

// Present reports whether the field was supplied, as a value or as null.
func (f Field[T]) Present() bool { return f.state != fieldAbsent }

// IsNull reports whether the field requests removal.
func (f Field[T]) IsNull() bool { return f.state == fieldNull }

// Get returns the value and whether one was set.
func (f Field[T]) Get() (T, bool) { return f.value, f.state == fieldSet }

// UnmarshalJSON decodes null as the null state and anything else as a value.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		f.state, f.value = fieldNull, zero
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.state, f.value = fieldSet, v
	return nil
}

// MarshalJSON encodes a set field as its value and any other state as null.
// Absent fields are dropped by Patch.MarshalJSON.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// Patch is a partial profile update.
type Patch struct {
	FirstName Field[string] `json:"firstName"`
	LastName  Field[string] `json:"lastName"`
	Phone     Field[string] `json:"phone"`
}

// MarshalJSON writes only present fields, so decoding the output yields the
// same patch.
func (p Patch) MarshalJSON() ([]byte, error) {
	out := make(map[string]Field[string], 3)
	for _, f := range p.fields() {
		if f.field.Present() {
			out[f.name] = f.field
		}
	}
	return json.Marshal(out)
}

type patchField struct {
	name  string
	field Field[string]
}

func (p Patch) fields() []patchField {
	return []patchField{
		{attrFirstName, p.FirstName},
		{attrLastName, p.LastName},
		{attrPhone, p.Phone},
	}
}

// Empty reports whether no field is present.
func (p Patch) Empty() bool {
	return len(p.ChangedFields()) == 0
}

// ChangedFields lists the attribute names the patch touches.
func (p Patch) ChangedFields() []string {
	var names []string
	for _, f := range p.fields() {
		if f.field.Present() {
			names = append(names, f.name)
		}
	}
	return names
}

// PatchToUpdate translates a patch into a version-guarded store update.
// Set fields are assigned, null fields removed and absent fields left out.
func PatchToUpdate(userID string, p Patch, expectedVersion int64, now time.Time) store.Update {
	u := store.Update{
		Key:             keys.User(userID),
		Set:             map[string]any{attrUpdatedAt: now},
		ExpectedVersion: expectedVersion,
	}
	for _, f := range p.fields() {
		if f.field.IsNull() {
			u.Remove = append(u.Remove, f.name)
			continue
		}
		if v, ok := f.field.Get(); ok {
			u.Set[f.name] = v
		}
	}
	return u
}
