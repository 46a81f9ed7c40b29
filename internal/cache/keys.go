package cache

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// maxEncodeDepth bounds nesting so self-referencing values fail instead of
// recursing forever.
const maxEncodeDepth = 32

// Args are the inputs of one memoized call. Positional arguments are
// order-sensitive; named arguments are encoded sorted by name so that the
// textual order of a call never changes its key.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Keyer lets a type supply its own stable key fragment.
type Keyer interface {
	CacheKey() string
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	keyerType = reflect.TypeOf((*Keyer)(nil)).Elem()
)

// DeriveKey builds the cache key for a call of the computation named identity.
//
// Arguments may be nil, booleans, numbers, strings, byte slices, time.Time,
// Keyer implementations, and slices, arrays, maps, structs or pointers built
// from those. Integers of any width encode the same way when equal. Anything
// else (funcs, channels, complex numbers, unsafe pointers) is rejected with
// ErrUnencodableArgument rather than stringified.
func DeriveKey(identity string, args Args) (string, error) {
	var buf bytes.Buffer

	buf.WriteString("p")
	buf.WriteString(strconv.Itoa(len(args.Positional)))
	for i, arg := range args.Positional {
		if err := encodeValue(&buf, reflect.ValueOf(arg), 0); err != nil {
			return "", fmt.Errorf("derive key for %s: positional argument %d: %w", identity, i, err)
		}
	}

	names := make([]string, 0, len(args.Named))
	for name := range args.Named {
		names = append(names, name)
	}
	sort.Strings(names)

	buf.WriteString("k")
	buf.WriteString(strconv.Itoa(len(names)))
	for _, name := range names {
		writeString(&buf, name)
		if err := encodeValue(&buf, reflect.ValueOf(args.Named[name]), 0); err != nil {
			return "", fmt.Errorf("derive key for %s: argument %q: %w", identity, name, err)
		}
	}

	sum := xxh3.Hash128(buf.Bytes())
	return fmt.Sprintf("%s%s%016x%016x", identity, KeySeparator, sum.Hi, sum.Lo), nil
}

// encodeValue writes a type-tagged, length-prefixed rendering of v. Every
// variable-length item carries its length so distinct inputs cannot
// concatenate into the same bytes.
func encodeValue(buf *bytes.Buffer, v reflect.Value, depth int) error {
	if depth > maxEncodeDepth {
		return fmt.Errorf("nesting deeper than %d: %w", maxEncodeDepth, ErrUnencodableArgument)
	}
	if !v.IsValid() {
		buf.WriteByte('n')
		return nil
	}

	if v.Type().Implements(keyerType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			buf.WriteByte('n')
			return nil
		}
		buf.WriteByte('K')
		writeString(buf, v.Interface().(Keyer).CacheKey())
		return nil
	}
	if v.Type() == timeType {
		buf.WriteByte('t')
		writeString(buf, v.Interface().(time.Time).UTC().Format(time.RFC3339Nano))
		return nil
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			buf.WriteString("b1")
		} else {
			buf.WriteString("b0")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
		buf.WriteByte(';')
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
		buf.WriteByte(';')
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		// Integral floats share the integer encoding, so 2 and 2.0 collide.
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			buf.WriteByte('i')
			buf.WriteString(strconv.FormatInt(int64(f), 10))
		} else {
			buf.WriteByte('f')
			buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
		buf.WriteByte(';')
	case reflect.String:
		buf.WriteByte('s')
		writeString(buf, v.String())
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			buf.WriteByte('n')
			return nil
		}
		return encodeValue(buf, v.Elem(), depth+1)
	case reflect.Slice:
		if v.IsNil() {
			buf.WriteByte('n')
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buf.WriteByte('y')
			writeString(buf, string(v.Bytes()))
			return nil
		}
		return encodeList(buf, v, depth)
	case reflect.Array:
		return encodeList(buf, v, depth)
	case reflect.Map:
		return encodeMap(buf, v, depth)
	case reflect.Struct:
		return encodeStruct(buf, v, depth)
	default:
		return fmt.Errorf("%s value: %w", v.Type(), ErrUnencodableArgument)
	}
	return nil
}

func encodeList(buf *bytes.Buffer, v reflect.Value, depth int) error {
	buf.WriteByte('l')
	buf.WriteString(strconv.Itoa(v.Len()))
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if err := encodeValue(buf, v.Index(i), depth+1); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeMap(buf *bytes.Buffer, v reflect.Value, depth int) error {
	if v.IsNil() {
		buf.WriteByte('n')
		return nil
	}

	type pair struct {
		key   string
		value reflect.Value
	}
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		var kb bytes.Buffer
		if err := encodeValue(&kb, iter.Key(), depth+1); err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		pairs = append(pairs, pair{key: kb.String(), value: iter.Value()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	buf.WriteByte('m')
	buf.WriteString(strconv.Itoa(len(pairs)))
	buf.WriteByte('{')
	for _, p := range pairs {
		buf.WriteString(p.key)
		if err := encodeValue(buf, p.value, depth+1); err != nil {
			return fmt.Errorf("map value: %w", err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeStruct(buf *bytes.Buffer, v reflect.Value, depth int) error {
	t := v.Type()
	buf.WriteByte('o')
	writeString(buf, t.String())
	buf.WriteByte('{')
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		writeString(buf, field.Name)
		if err := encodeValue(buf, v.Field(i), depth+1); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
}
