package keys

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

var (
	errUnclosedField = errors.New("unclosed '{' in template")
	errSingleBrace   = errors.New("single '}' encountered in template")
	errNumbering     = errors.New("cannot mix automatic and manual field numbering")
)

type numbering int

const (
	numberingUnknown numbering = iota
	numberingAuto
	numberingManual
)

// Build binds v and formats template with the resulting arguments.
func Build(template string, v any) (string, error) {
	return Format(template, Bind(v))
}

// Format substitutes every placeholder of template with the matching
// argument. It fails with a *errors.KeyFormatError, and never returns a
// partial key, when a placeholder cannot be resolved.
func Format(template string, args Args) (string, error) {
	fail := func(err error) (string, error) {
		return "", &cerrors.KeyFormatError{Template: template, Args: args.String(), Err: err}
	}

	var (
		b    strings.Builder
		next int
		mode = numberingUnknown
	)
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return fail(errUnclosedField)
			}
			field := template[i+1 : i+1+end]
			i += end + 1
			if strings.IndexByte(field, '{') >= 0 {
				return fail(fmt.Errorf("nested placeholder in %q", field))
			}
			s, err := renderField(field, args, &next, &mode)
			if err != nil {
				return fail(err)
			}
			b.WriteString(s)
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return fail(errSingleBrace)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func renderField(field string, args Args, next *int, mode *numbering) (string, error) {
	name, rest := field, ""
	if j := strings.IndexAny(field, "!:"); j >= 0 {
		name, rest = field[:j], field[j:]
	}
	var conv byte
	if strings.HasPrefix(rest, "!") {
		if len(rest) < 2 {
			return "", fmt.Errorf("missing conversion in %q", field)
		}
		conv = rest[1]
		rest = rest[2:]
		if rest != "" && rest[0] != ':' {
			return "", fmt.Errorf("expected ':' after conversion in %q", field)
		}
	}
	spec := strings.TrimPrefix(rest, ":")

	base, path, _ := strings.Cut(name, ".")
	v, err := lookup(base, args, next, mode)
	if err != nil {
		return "", err
	}
	if path != "" {
		for _, attr := range strings.Split(path, ".") {
			if v, err = attribute(v, attr); err != nil {
				return "", err
			}
		}
	}

	switch conv {
	case 0, 's':
	case 'r':
		v = fmt.Sprintf("%#v", v)
	default:
		return "", fmt.Errorf("unknown conversion %q", string(conv))
	}
	if spec == "" {
		return fmt.Sprint(v), nil
	}
	if !validSpec(spec, v) {
		return "", fmt.Errorf("invalid format spec %q for %T", spec, v)
	}
	return fmt.Sprintf("%"+spec, v), nil
}

// validSpec reports whether spec is flags, width, precision and a verb, and
// the verb applies to v.
func validSpec(spec string, v any) bool {
	i := 0
	for i < len(spec) && strings.IndexByte("-+# 0", spec[i]) >= 0 {
		i++
	}
	for i < len(spec) && spec[i] >= '0' && spec[i] <= '9' {
		i++
	}
	if i < len(spec) && spec[i] == '.' {
		i++
		for i < len(spec) && spec[i] >= '0' && spec[i] <= '9' {
			i++
		}
	}
	if i != len(spec)-1 {
		return false
	}

	kind := reflect.Invalid
	if v != nil {
		kind = reflect.TypeOf(v).Kind()
	}
	isInt := kind >= reflect.Int && kind <= reflect.Uintptr
	isFloat := kind == reflect.Float32 || kind == reflect.Float64
	isText := kind == reflect.String || isBytes(v)

	switch spec[i] {
	case 'v', 's':
		return true
	case 'q':
		return isText || isInt
	case 'd', 'b', 'o', 'c':
		return isInt
	case 'x', 'X':
		return isInt || isFloat || isText
	case 'e', 'E', 'f', 'F', 'g', 'G':
		return isFloat
	case 't':
		return kind == reflect.Bool
	}
	return false
}

func isBytes(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func lookup(base string, args Args, next *int, mode *numbering) (any, error) {
	if base == "" {
		if *mode == numberingManual {
			return nil, errNumbering
		}
		*mode = numberingAuto
		idx := *next
		*next++
		return positional(args, idx)
	}
	if idx, err := strconv.Atoi(base); err == nil {
		if *mode == numberingAuto {
			return nil, errNumbering
		}
		*mode = numberingManual
		return positional(args, idx)
	}
	v, ok := args.Named[base]
	if !ok {
		return nil, fmt.Errorf("no argument named %q", base)
	}
	return v, nil
}

func positional(args Args, idx int) (any, error) {
	if idx < 0 || idx >= len(args.Positional) {
		return nil, fmt.Errorf("positional index %d out of range", idx)
	}
	return args.Positional[idx], nil
}

func attribute(v any, attr string) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("attribute %q of nil value", attr)
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			if sf.Name == attr || sf.Tag.Get("key") == attr {
				return rv.Field(i).Interface(), nil
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			mv := rv.MapIndex(reflect.ValueOf(attr).Convert(rv.Type().Key()))
			if mv.IsValid() {
				return mv.Interface(), nil
			}
		}
	}
	return nil, fmt.Errorf("%T has no attribute %q", v, attr)
}
