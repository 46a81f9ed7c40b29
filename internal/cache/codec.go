package cache

import (
	"encoding"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
)

// Codec turns values into the bytes a Backend stores and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec.
//
// Only values whose JSON form carries all of their state round-trip: structs
// with unexported or `json:"-"` fields, interface-typed fields, funcs,
// channels and complex numbers do not. Memoize rejects such result types.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	jsonMarshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// checkJSONRoundTrip reports an error wrapping ErrUnencodableResult when a
// value of type t would not decode back to an equal value.
func checkJSONRoundTrip(t reflect.Type) error {
	return jsonRoundTrip(t, map[reflect.Type]bool{})
}

func jsonRoundTrip(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	ptr := reflect.PointerTo(t)
	if ptr.Implements(jsonMarshalerType) && ptr.Implements(jsonUnmarshalerType) ||
		ptr.Implements(textMarshalerType) && ptr.Implements(textUnmarshalerType) {
		return nil
	}

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return jsonRoundTrip(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Tag.Get("json") == "-" {
				return fmt.Errorf("%s field %s is skipped by json: %w", t, f.Name, ErrUnencodableResult)
			}
			if !f.IsExported() && !(f.Anonymous && f.Type.Kind() == reflect.Struct) {
				return fmt.Errorf("%s field %s is unexported: %w", t, f.Name, ErrUnencodableResult)
			}
			if err := jsonRoundTrip(f.Type, seen); err != nil {
				return err
			}
		}
		return nil
	case reflect.Interface:
		return fmt.Errorf("%s decodes as a generic json value: %w", t, ErrUnencodableResult)
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Errorf("%s value: %w", t, ErrUnencodableResult)
	default:
		return nil
	}
}
