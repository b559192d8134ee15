package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Field describes one declared field of a record type.
type Field struct {
	Name       string       // wire name (json tag)
	GoName     string       // struct field name
	Type       reflect.Type // declared Go type; a pointer means nullable
	Default    any          // parsed default, nil when none is declared
	PrimaryKey bool
	Doc        string
	Validate   string // raw validate tag

	index int
}

// Required reports whether the validate tag demands a value.
func (f Field) Required() bool {
	for _, rule := range strings.Split(f.Validate, ",") {
		if rule == "required" {
			return true
		}
	}
	return false
}

// Nullable reports whether the field accepts null.
func (f Field) Nullable() bool { return f.Type.Kind() == reflect.Pointer }

// Kind returns the kind of the field with any pointer removed.
func (f Field) Kind() reflect.Kind {
	if f.Type.Kind() == reflect.Pointer {
		return f.Type.Elem().Kind()
	}
	return f.Type.Kind()
}

// Parse converts raw into a value of the field's declared type. Query
// strings, JSON numbers and JSON scalars are all accepted. Numbers are read
// in base 10 only, an empty string is not a number or a bool, and a JSON
// number or bool is never turned into a string.
func (f Field) Parse(raw any) (any, error) {
	out := reflect.New(f.Type)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out.Interface(),
		WeaklyTypedInput: true,
		DecodeHook:       strictScalars,
	})
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return out.Elem().Interface(), nil
}

var errEmpty = errors.New("empty value")

// strictScalars runs before mapstructure's weak conversion of every value.
// Pointer targets pass through; the hook sees their element next.
func strictScalars(from, to reflect.Type, data any) (any, error) {
	if to.Kind() == reflect.Pointer {
		return data, nil
	}

	switch v := data.(type) {
	case json.Number:
		switch to.Kind() {
		case reflect.String:
			return nil, fmt.Errorf("expected a string, got number %s", v)
		case reflect.Bool:
			return nil, fmt.Errorf("expected a boolean, got number %s", v)
		}
		return decimal(string(v), to, data)
	case string:
		switch to.Kind() {
		case reflect.String:
			return v, nil
		case reflect.Bool:
			if v == "" {
				return nil, errEmpty
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", v)
			}
			return b, nil
		}
		if v == "" {
			return nil, errEmpty
		}
		return decimal(v, to, data)
	}

	switch from.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if to.Kind() == reflect.String {
			return nil, fmt.Errorf("expected a string, got %s", from.Kind())
		}
	}
	if from.Kind() == reflect.Bool && to.Kind() != reflect.Bool {
		return nil, fmt.Errorf("expected a %s, got bool", to.Kind())
	}
	return data, nil
}

// decimal parses s as a base 10 number of the kind of to. Other kinds get
// data back unchanged.
func decimal(s string, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, to.Bits())
		if err != nil {
			return nil, fmt.Errorf("%q is not a decimal integer of %d bits", s, to.Bits())
		}
		return n, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, to.Bits())
		if err != nil {
			return nil, fmt.Errorf("%q is not an unsigned decimal integer of %d bits", s, to.Bits())
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		// ParseFloat also reads hex mantissas, underscores, Inf and NaN.
		if strings.ContainsAny(s, "xX_") {
			return nil, fmt.Errorf("%q is not a decimal number", s)
		}
		n, err := strconv.ParseFloat(s, to.Bits())
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, fmt.Errorf("%q is not a decimal number", s)
		}
		return n, nil
	default:
		return data, nil
	}
}

func supported(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func keyKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}
