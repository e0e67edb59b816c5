package cache

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"reflect"
)

// Codec encodes the results of cached functions into the bytes kept in the
// store and decodes them back on a hit.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec stores results as JSON. Wrap uses it unless told otherwise and
// refuses result types it cannot restore unchanged (see jsonRoundTrips).
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// GobCodec stores results with encoding/gob. Concrete types held in
// interface fields of a result must be registered with gob.Register.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	b := bytes.NewBuffer(data)
	dec := gob.NewDecoder(b)
	return dec.Decode(v)
}

// ByteCodec stores []byte results as they are, for functions that already
// produce their own encoding. It fails for any other type.
type ByteCodec struct{}

func (ByteCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, stdErrors.New("cachify: ByteCodec value is not []byte")
}

func (ByteCodec) Unmarshal(data []byte, v any) error {
	if ptr, ok := v.(*[]byte); ok {
		*ptr = data
		return nil
	}
	return stdErrors.New("cachify: ByteCodec target is not *[]byte")
}

// codecFuncs adapts a Codec to the typed encode/decode pair used by Func.
func codecFuncs[R any](c Codec) (func(R) ([]byte, error), func([]byte) (R, error)) {
	enc := func(v R) ([]byte, error) {
		return c.Marshal(v)
	}
	dec := func(data []byte) (R, error) {
		var v R
		if err := c.Unmarshal(data, &v); err != nil {
			var zero R
			return zero, err
		}
		return v, nil
	}
	return enc, dec
}

var (
	jsonMarshaler   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonUnmarshaler = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textMarshaler   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// jsonRoundTrips reports an error when a value of type t would not decode
// from its JSON form into the value that was stored. Interface types lose
// their dynamic type (numbers come back as float64, structs as maps) and
// unexported struct fields are dropped. Types with their own JSON or text
// methods are trusted. Kinds json refuses outright, such as channels, are
// left to Marshal which fails loudly.
func jsonRoundTrips(t reflect.Type) error {
	return jsonWalk(t, map[reflect.Type]bool{})
}

func jsonWalk(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true
	if customJSON(t) {
		return nil
	}
	switch t.Kind() {
	case reflect.Interface:
		return fmt.Errorf("cachify: JSONCodec cannot restore interface type %s; use WithCodec or WithEncodeDecode", t)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return jsonWalk(t.Elem(), seen)
	case reflect.Map:
		return jsonWalk(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Tag.Get("json") == "-" {
				continue
			}
			if f.Anonymous {
				// json promotes the fields of embedded structs
				if err := jsonWalk(f.Type, seen); err != nil {
					return err
				}
				continue
			}
			if !f.IsExported() {
				return fmt.Errorf("cachify: JSONCodec drops unexported field %s.%s; use WithCodec or WithEncodeDecode", t, f.Name)
			}
			if err := jsonWalk(f.Type, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func customJSON(t reflect.Type) bool {
	p := reflect.PointerTo(t)
	enc := t.Implements(jsonMarshaler) || t.Implements(textMarshaler) ||
		p.Implements(jsonMarshaler) || p.Implements(textMarshaler)
	dec := p.Implements(jsonUnmarshaler) || p.Implements(textUnmarshaler)
	return enc && dec
}
