package keys

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Args is the bound argument set of a call.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Binder is implemented by argument types that bind themselves. It is also
// the place to apply default values before the key is built.
type Binder interface {
	KeyArgs() Args
}

// Bind derives the Args of a call from its argument value.
//
// Structs are treated as parameter lists: exported fields are bound
// positionally in declaration order and by name, the name being the `key`
// tag when present and the field name otherwise. A `key:"-"` tag skips the
// field. Maps with string keys bind by name only, slices and arrays bind
// positionally, and any other value is a single positional argument.
func Bind(v any) Args {
	switch a := v.(type) {
	case nil:
		return Args{}
	case Args:
		return a
	case *Args:
		if a == nil {
			return Args{}
		}
		return *a
	case Binder:
		return a.KeyArgs()
	case []byte:
		return Args{Positional: []any{a}}
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Args{Positional: []any{v}}
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		t := rv.Type()
		args := Args{Named: make(map[string]any, t.NumField())}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name := sf.Name
			if tag, ok := sf.Tag.Lookup("key"); ok {
				if tag == "-" {
					continue
				}
				if tag != "" {
					name = tag
				}
			}
			val := rv.Field(i).Interface()
			args.Positional = append(args.Positional, val)
			args.Named[name] = val
		}
		return args
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Args{Positional: []any{v}}
		}
		args := Args{Named: make(map[string]any, rv.Len())}
		iter := rv.MapRange()
		for iter.Next() {
			args.Named[iter.Key().String()] = iter.Value().Interface()
		}
		return args
	case reflect.Slice, reflect.Array:
		args := Args{Positional: make([]any, 0, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			args.Positional = append(args.Positional, rv.Index(i).Interface())
		}
		return args
	default:
		return Args{Positional: []any{v}}
	}
}

// String renders the arguments for diagnostics, positional values first and
// named values sorted by name.
func (a Args) String() string {
	var b strings.Builder
	b.WriteString("<Args (")
	for i, v := range a.Positional {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%#v", v)
	}
	b.WriteString(") {")
	names := make([]string, 0, len(a.Named))
	for name := range a.Named {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%#v", name, a.Named[name])
	}
	b.WriteString("}>")
	return b.String()
}
