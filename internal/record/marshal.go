package record

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// legacyTimeLayout matches naive ISO timestamps written by earlier versions
// of the service (no zone, microseconds).
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// Encode converts a record into its storage document. An empty identifier is
// left out so the store assigns one.
func Encode(r Record) (bson.M, error) {
	d := r.Descriptor()

	doc, err := encodeFields(d.Type, "", d.Fields, r.Values())
	if err != nil {
		return nil, err
	}
	if id := r.ID(); id != "" {
		doc[IDField] = EncodeID(id)
	}
	return doc, nil
}

// EncodeFields encodes a partial set of top-level fields. A nil value unsets
// an optional field.
func EncodeFields(d Descriptor, v Values) (bson.M, error) {
	doc := make(bson.M, len(v))
	for name, val := range v {
		f, ok := d.Field(name)
		if !ok {
			return nil, mismatch(d.Type, name, "field is not declared")
		}
		if val == nil {
			if !f.Optional {
				return nil, mismatch(d.Type, name, "required field cannot be unset")
			}
			doc[name] = nil
			continue
		}

		enc, keep, err := encodeValue(d.Type, name, f, val)
		if err != nil {
			return nil, err
		}
		if !keep {
			if !f.Optional {
				return nil, mismatch(d.Type, name, "required field has no value")
			}
			enc = nil
		}
		doc[name] = enc
	}
	return doc, nil
}

// EncodeValue encodes a single value compared against field in a query. A
// scalar given for a list field is encoded as one element, which the store
// matches by containment.
func EncodeValue(d Descriptor, field string, v any) (any, error) {
	if field == IDField {
		id, ok := stringOf(v)
		if !ok {
			return nil, mismatch(d.Type, IDField, "want string id, got %T", v)
		}
		return EncodeID(id), nil
	}

	f, ok := d.Field(field)
	if !ok {
		return nil, mismatch(d.Type, field, "field is not declared")
	}
	if f.Kind == List {
		if _, isList := sliceOf(v); !isList {
			f = *f.Elem
		}
	}

	enc, keep, err := encodeValue(d.Type, field, f, v)
	if err != nil {
		return nil, err
	}
	if !keep {
		return nil, mismatch(d.Type, field, "NaN cannot be used in a query")
	}
	return enc, nil
}

// EncodeID returns the native identifier for id: an ObjectID when id is a
// 24-character hex string, the string itself otherwise.
func EncodeID(id string) any {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func encodeFields(typ, path string, fields []Field, vals map[string]any) (bson.M, error) {
	doc := make(bson.M, len(fields))
	for _, f := range fields {
		p := join(path, f.Name)
		v, ok := vals[f.Name]
		if !ok || v == nil {
			if !f.Optional {
				return nil, mismatch(typ, p, "required field is missing")
			}
			continue
		}

		enc, keep, err := encodeValue(typ, p, f, v)
		if err != nil {
			return nil, err
		}
		if !keep {
			if !f.Optional {
				return nil, mismatch(typ, p, "required field has no value")
			}
			continue
		}
		doc[f.Name] = enc
	}
	return doc, nil
}

// encodeValue reports keep=false for values that must not be written (NaN).
func encodeValue(typ, path string, f Field, v any) (any, bool, error) {
	switch f.Kind {
	case String:
		s, ok := v.(string)
		if !ok {
			return nil, false, mismatch(typ, path, "want string, got %T", v)
		}
		return s, true, nil

	case Enum:
		s, ok := stringOf(v)
		if !ok {
			return nil, false, mismatch(typ, path, "want enum string, got %T", v)
		}
		if !f.allows(s) {
			return nil, false, mismatch(typ, path, "value %q is not one of %v", s, f.Values)
		}
		return s, true, nil

	case Number:
		x, ok := floatOf(v)
		if !ok {
			return nil, false, mismatch(typ, path, "want number, got %T", v)
		}
		if math.IsNaN(x) {
			return nil, false, nil
		}
		return x, true, nil

	case Integer:
		n, ok := intOf(v)
		if !ok {
			return nil, false, mismatch(typ, path, "want integer, got %T", v)
		}
		return n, true, nil

	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, false, mismatch(typ, path, "want bool, got %T", v)
		}
		return b, true, nil

	case Time:
		switch t := v.(type) {
		case time.Time:
			return bson.NewDateTimeFromTime(t.UTC()), true, nil
		case *time.Time:
			if t == nil {
				return nil, false, nil
			}
			return bson.NewDateTimeFromTime(t.UTC()), true, nil
		}
		return nil, false, mismatch(typ, path, "want time, got %T", v)

	case Map:
		m, ok := mapOf(v)
		if !ok {
			return nil, false, mismatch(typ, path, "want mapping, got %T", v)
		}
		if len(f.Fields) > 0 {
			doc, err := encodeFields(typ, path, f.Fields, m)
			return doc, err == nil, err
		}

		out := make(bson.M, len(m))
		for k, x := range m {
			if x == nil {
				continue
			}
			enc, keep, err := encodeValue(typ, join(path, k), *f.Elem, x)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[k] = enc
			}
		}
		return out, true, nil

	case List:
		items, ok := sliceOf(v)
		if !ok {
			return nil, false, mismatch(typ, path, "want sequence, got %T", v)
		}
		out := make(bson.A, 0, len(items))
		for i, x := range items {
			enc, keep, err := encodeValue(typ, fmt.Sprintf("%s[%d]", path, i), *f.Elem, x)
			if err != nil {
				return nil, false, err
			}
			if !keep {
				enc = nil
			}
			out = append(out, enc)
		}
		return out, true, nil
	}

	return nil, false, mismatch(typ, path, "unsupported field kind %d", f.Kind)
}

// Decode allocates a fresh T and fills it from doc.
func Decode[T any, PT Pointer[T]](doc bson.M, d Descriptor) (PT, error) {
	rec := PT(new(T))
	if err := DecodeInto(doc, d, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DecodeInto fills r from doc. Keys the descriptor does not declare are
// ignored.
func DecodeInto(doc bson.M, d Descriptor, r Record) error {
	if rt := r.Descriptor().Type; rt != d.Type {
		return mismatch(d.Type, "", "cannot decode into record type %s", rt)
	}

	vals, err := decodeFields(d.Type, "", d.Fields, doc)
	if err != nil {
		return err
	}

	if raw, ok := doc[IDField]; ok && raw != nil {
		r.SetID(idString(raw))
	}

	if err := r.Load(vals); err != nil {
		return mismatch(d.Type, "", "load: %v", err)
	}
	return nil
}

func decodeFields(typ, path string, fields []Field, doc map[string]any) (Values, error) {
	vals := make(Values, len(fields))
	for _, f := range fields {
		p := join(path, f.Name)
		raw, ok := doc[f.Name]
		if !ok || raw == nil {
			if !f.Optional {
				return nil, mismatch(typ, p, "required field is missing")
			}
			if f.Default != nil {
				vals[f.Name] = f.Default
			}
			continue
		}

		v, err := decodeValue(typ, p, f, raw)
		if err != nil {
			return nil, err
		}
		vals[f.Name] = v
	}
	return vals, nil
}

func decodeValue(typ, path string, f Field, raw any) (any, error) {
	switch f.Kind {
	case String:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(typ, path, "want string, got %T", raw)
		}
		return s, nil

	case Enum:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(typ, path, "want enum string, got %T", raw)
		}
		if !f.allows(s) {
			return nil, mismatch(typ, path, "value %q is not one of %v", s, f.Values)
		}
		return s, nil

	case Number:
		x, ok := floatOf(raw)
		if !ok {
			return nil, mismatch(typ, path, "want number, got %T", raw)
		}
		return x, nil

	case Integer:
		n, ok := intOf(raw)
		if !ok {
			return nil, mismatch(typ, path, "want integer, got %v (%T)", raw, raw)
		}
		return n, nil

	case Bool:
		b, ok := raw.(bool)
		if !ok {
			return nil, mismatch(typ, path, "want bool, got %T", raw)
		}
		return b, nil

	case Time:
		switch t := raw.(type) {
		case bson.DateTime:
			return t.Time().UTC(), nil
		case time.Time:
			return t.UTC(), nil
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC(), nil
			}
			if parsed, err := time.Parse(legacyTimeLayout, t); err == nil {
				return parsed.UTC(), nil
			}
			return nil, mismatch(typ, path, "unparseable timestamp %q", t)
		}
		return nil, mismatch(typ, path, "want timestamp, got %T", raw)

	case Map:
		m, ok := mapOf(raw)
		if !ok {
			return nil, mismatch(typ, path, "want document, got %T", raw)
		}
		if len(f.Fields) > 0 {
			vals, err := decodeFields(typ, path, f.Fields, m)
			if err != nil {
				return nil, err
			}
			return map[string]any(vals), nil
		}

		if f.Elem.Kind == String {
			out := make(map[string]string, len(m))
			for k, x := range m {
				s, ok := x.(string)
				if !ok {
					return nil, mismatch(typ, join(path, k), "want string, got %T", x)
				}
				out[k] = s
			}
			return out, nil
		}

		out := make(map[string]any, len(m))
		for k, x := range m {
			if x == nil {
				continue
			}
			v, err := decodeValue(typ, join(path, k), *f.Elem, x)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case List:
		items, ok := sliceOf(raw)
		if !ok {
			return nil, mismatch(typ, path, "want array, got %T", raw)
		}

		if f.Elem.Kind == String {
			out := make([]string, 0, len(items))
			for i, x := range items {
				s, ok := x.(string)
				if !ok {
					return nil, mismatch(typ, fmt.Sprintf("%s[%d]", path, i), "want string, got %T", x)
				}
				out = append(out, s)
			}
			return out, nil
		}

		out := make([]any, 0, len(items))
		for i, x := range items {
			if x == nil {
				out = append(out, nil)
				continue
			}
			v, err := decodeValue(typ, fmt.Sprintf("%s[%d]", path, i), *f.Elem, x)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	return nil, mismatch(typ, path, "unsupported field kind %d", f.Kind)
}

func idString(raw any) string {
	switch id := raw.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// stringOf accepts string and named string types such as enum constants.
func stringOf(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

func floatOf(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func intOf(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func mapOf(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case bson.M:
		return m, true
	case Values:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

func sliceOf(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case bson.A:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}
