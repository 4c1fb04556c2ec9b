// Package record describes the shape of stored records and converts them to
// and from BSON documents.
package record

import "slices"

// IDField is the document key of the record identifier.
const IDField = "_id"

type Kind uint8

const (
	String Kind = iota + 1
	Number
	Integer
	Bool
	Time
	Enum
	Map
	List
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Integer:
		return "integer"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Enum:
		return "enum"
	case Map:
		return "map"
	case List:
		return "list"
	default:
		return "unknown"
	}
}

// Field is one entry of a descriptor. Map fields carry either a fixed nested
// schema (Fields) or a homogeneous value schema (Elem); List fields carry Elem.
// Default, when set, is the decoded value of an optional field that is
// absent or null.
type Field struct {
	Name     string
	Kind     Kind
	Optional bool
	Default  any
	Values   []string
	Elem     *Field
	Fields   []Field
}

func Required(name string, kind Kind) Field {
	return Field{Name: name, Kind: kind}
}

func Optional(name string, kind Kind) Field {
	return Field{Name: name, Kind: kind, Optional: true}
}

func EnumOf(name string, values ...string) Field {
	return Field{Name: name, Kind: Enum, Values: values}
}

func MapOf(name string, elem Field) Field {
	return Field{Name: name, Kind: Map, Elem: &elem}
}

func ListOf(name string, elem Field) Field {
	return Field{Name: name, Kind: List, Elem: &elem}
}

func Nested(name string, fields ...Field) Field {
	return Field{Name: name, Kind: Map, Fields: fields}
}

// AsOptional returns a copy of f that may be absent from documents.
func (f Field) AsOptional() Field {
	f.Optional = true
	return f
}

// WithDefault returns an optional copy of f that decodes to v when absent.
// v must have the decoded Go type of the field's kind.
func (f Field) WithDefault(v any) Field {
	f.Optional = true
	f.Default = v
	return f
}

func (f Field) allows(value string) bool {
	return slices.Contains(f.Values, value)
}

// Descriptor binds a record type name to its schema. Descriptors are declared
// as package-level values and never modified.
type Descriptor struct {
	Type   string
	Fields []Field
}

func (d Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Values holds the semantic value of each field of a record, keyed by
// document key. Absent optional fields are missing or nil.
//
//	String, Enum -> string     Number -> float64     Integer -> int64
//	Bool -> bool               Time -> time.Time
//	Map -> map[string]string for string values, map[string]any otherwise
//	List -> []string for string elements, []any otherwise
type Values map[string]any

// Record is implemented once per stored type. Values and Load are the
// type-specific halves of encoding and decoding.
type Record interface {
	Descriptor() Descriptor
	ID() string
	SetID(id string)
	Values() Values
	Load(v Values) error
}

// Pointer constrains a type parameter to pointers to a record type, so that
// generic code can allocate a fresh T and use it as a Record.
type Pointer[T any] interface {
	*T
	Record
}
