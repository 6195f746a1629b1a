package relation

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/xanotech/xrepo/mapping"
)

// Kind distinguishes the two association shapes.
type Kind int

const (
	// ToOne is a single-object reference held by the declaring type.
	ToOne Kind = iota
	// ToMany is a collection reference resolved from the referenced type.
	ToMany
)

// String returns the kind name.
func (k Kind) String() string {
	if k == ToMany {
		return "to-many"
	}
	return "to-one"
}

// Reference is one discovered association between two mapped types.
//
// For a to-one reference, Field names the object-valued field on the
// declaring type and KeyField names the foreign-key field on the declaring
// type holding the referenced object's identity. For a to-many reference,
// Field names the collection field on the declaring type and KeyField names
// the foreign-key field on the referenced type pointing back at the
// declaring type.
type Reference struct {
	Kind     Kind
	Field    string
	KeyField string
	Type     *mapping.Type
}

// discover walks the type's fields and pairs each reference field with its
// key field by naming convention. Fields without a resolvable key field are
// not references.
func discover(registry *mapping.Registry, typ *mapping.Type) []Reference {
	var refs []Reference
	for _, f := range typ.Fields() {
		if f.Ref == "" {
			continue
		}
		referenced, ok := registry.Lookup(f.Ref)
		if !ok {
			continue
		}
		if f.List {
			key, ok := manyKeyField(typ, referenced, f.Name)
			if !ok {
				continue
			}
			refs = append(refs, Reference{Kind: ToMany, Field: f.Name, KeyField: key, Type: referenced})
			continue
		}
		key, ok := oneKeyField(typ, referenced, f.Name)
		if !ok {
			continue
		}
		refs = append(refs, Reference{Kind: ToOne, Field: f.Name, KeyField: key, Type: referenced})
	}
	return refs
}

// oneKeyField finds the foreign-key field on the declaring type for a
// to-one reference field. The convention is the field name suffixed with
// the referenced type's key column, falling back to the literal key column
// unless that would collide with the declaring type's own key.
func oneKeyField(declaring, referenced *mapping.Type, field string) (string, bool) {
	keys := referenced.Keys()
	if len(keys) != 1 {
		return "", false
	}
	if f, ok := declaring.FieldByName(field + keys[0]); ok {
		return f.Name, true
	}
	declKeys := declaring.Keys()
	if len(declKeys) == 1 && strings.EqualFold(keys[0], declKeys[0]) {
		return "", false
	}
	if f, ok := declaring.FieldByName(keys[0]); ok {
		return f.Name, true
	}
	return "", false
}

// manyKeyField finds the foreign-key field on the referenced type for a
// to-many collection field. Candidates, in order: the declaring type's name
// (with the referenced type's table names stripped out, so inherited chains
// do not repeat a shared segment) suffixed with the declaring key column;
// the singularized collection field name suffixed with the declaring key
// column; the literal declaring key column, unless that is the referenced
// type's own key.
func manyKeyField(declaring, referenced *mapping.Type, field string) (string, bool) {
	keys := declaring.Keys()
	if len(keys) != 1 {
		return "", false
	}
	stripped := stripTableNames(declaring.Name(), referenced)
	if stripped != "" {
		if f, ok := referenced.FieldByName(stripped + keys[0]); ok {
			return f.Name, true
		}
	}
	if f, ok := referenced.FieldByName(inflect.Singularize(field) + keys[0]); ok {
		return f.Name, true
	}
	refKeys := referenced.Keys()
	if len(refKeys) == 1 && strings.EqualFold(keys[0], refKeys[0]) {
		return "", false
	}
	if f, ok := referenced.FieldByName(keys[0]); ok {
		return f.Name, true
	}
	return "", false
}

// stripTableNames removes each of the referenced type's table names from
// the declaring type's name, case-insensitively.
func stripTableNames(name string, referenced *mapping.Type) string {
	out := name
	for _, full := range referenced.TableNames() {
		base := full
		if i := strings.LastIndexByte(full, '.'); i >= 0 {
			base = full[i+1:]
		}
		if i := indexFold(out, base); i >= 0 {
			out = out[:i] + out[i+len(base):]
		}
	}
	return out
}

func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}
