// Package schema reads the field metadata of a record type once, at
// registration time, and turns it into an ordered field list plus a
// capability table of per-field accessors.
//
// A record type is a plain struct. Struct tags describe it:
//
//	type Student struct {
//	    ID   int    `json:"id"   pk:"true"`
//	    Name string `json:"name" validate:"required"`
//	    Age  int    `json:"age"  default:"18"`
//	}
//
//   - json:"..."     the field name used in paths, query strings and bodies
//   - pk:"true"      marks the primary key (exactly one per type)
//   - default:"..."  value applied when a new record omits the field
//   - validate:"..." go-playground/validator rules
//   - doc:"..."      description carried into the API document
package schema

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Configuration errors. They are returned by Of and mean the record type
// cannot be served at all.
var (
	ErrNotStruct           = errors.New("schema: record type must be a struct")
	ErrNoPrimaryKey        = errors.New("schema: no primary key declared")
	ErrMultiplePrimaryKeys = errors.New("schema: more than one primary key declared")
	ErrUnsupportedType     = errors.New("schema: unsupported field type")
	ErrInvalidKey          = errors.New("schema: invalid primary key")
	ErrInvalidDefault      = errors.New("schema: invalid default value")
	ErrDuplicateField      = errors.New("schema: duplicate field name")
)

// ErrUnknownField is returned by the accessors for a name the type does not declare.
var ErrUnknownField = errors.New("unknown field")

// tableNamer lets a record type choose its storage name.
type tableNamer interface {
	TableName() string
}

// Schema is the introspected form of record type T. It is immutable once
// built and safe for concurrent use.
type Schema[T any] struct {
	name   string
	table  string
	fields []Field
	byName map[string]int
	pk     int
	access []accessor[T]
}

// Of introspects T. It fails fast when T is not a usable record type.
func Of[T any]() (*Schema[T], error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, typ)
	}

	s := &Schema[T]{
		name:   typ.Name(),
		table:  strings.ToLower(typ.Name()),
		byName: make(map[string]int),
		pk:     -1,
	}

	var zero T
	if tn, ok := any(&zero).(tableNamer); ok && tn.TableName() != "" {
		s.table = tn.TableName()
	}

	for i := range typ.NumField() {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous {
			return nil, fmt.Errorf("%w: %s.%s is embedded", ErrUnsupportedType, s.name, sf.Name)
		}

		name := jsonName(sf)
		if name == "-" {
			continue
		}
		if !supported(sf.Type) {
			return nil, fmt.Errorf("%w: %s.%s has type %s", ErrUnsupportedType, s.name, sf.Name, sf.Type)
		}
		if _, dup := s.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateField, s.name, name)
		}

		f := Field{
			Name:     name,
			GoName:   sf.Name,
			Type:     sf.Type,
			Doc:      sf.Tag.Get("doc"),
			Validate: sf.Tag.Get("validate"),
			index:    i,
		}

		if isPK, _ := strconv.ParseBool(sf.Tag.Get("pk")); isPK {
			if s.pk >= 0 {
				return nil, fmt.Errorf("%w: %s has %s and %s", ErrMultiplePrimaryKeys,
					s.name, s.fields[s.pk].Name, name)
			}
			if !keyKind(sf.Type) {
				return nil, fmt.Errorf("%w: %s.%s must be a string or integer, got %s",
					ErrInvalidKey, s.name, name, sf.Type)
			}
			if !isIdentifier(name) {
				return nil, fmt.Errorf("%w: %s.%s is not usable as a path parameter",
					ErrInvalidKey, s.name, name)
			}
			f.PrimaryKey = true
			s.pk = len(s.fields)
		}

		if def, ok := sf.Tag.Lookup("default"); ok {
			v, err := f.Parse(def)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidDefault, s.name, name, err)
			}
			f.Default = v
		}

		s.byName[name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	if s.pk < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, s.name)
	}

	s.access = make([]accessor[T], len(s.fields))
	for i, f := range s.fields {
		s.access[i] = newAccessor[T](f)
	}
	return s, nil
}

// MustOf is like Of but panics on a configuration error.
func MustOf[T any]() *Schema[T] {
	s, err := Of[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the record type name, e.g. "Student".
func (s *Schema[T]) Name() string { return s.name }

// Table returns the storage name of the record type.
func (s *Schema[T]) Table() string { return s.table }

// Fields returns the declared fields in declaration order.
func (s *Schema[T]) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks a field up by name.
func (s *Schema[T]) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// PrimaryKey returns the primary-key field.
func (s *Schema[T]) PrimaryKey() Field { return s.fields[s.pk] }

// New returns a record with every declared default applied.
func (s *Schema[T]) New() T {
	var rec T
	for i, f := range s.fields {
		if f.Default == nil {
			continue
		}
		def := reflect.ValueOf(f.Default)
		if def.Kind() == reflect.Pointer {
			// Each record gets its own copy of a pointer default.
			cp := reflect.New(def.Type().Elem())
			cp.Elem().Set(def.Elem())
			def = cp
		}
		// Defaults were parsed into the field type by Of.
		_ = s.access[i].set(&rec, def.Interface())
	}
	return rec
}

// Get returns the current value of the named field.
func (s *Schema[T]) Get(rec *T, name string) (any, error) {
	i, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return s.access[i].get(rec), nil
}

// Set assigns v to the named field. A value that is not already of the
// field's type is converted with Field.Parse.
func (s *Schema[T]) Set(rec *T, name string, v any) error {
	i, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return s.access[i].set(rec, v)
}

// Key returns the primary-key value of rec.
func (s *Schema[T]) Key(rec *T) any { return s.access[s.pk].get(rec) }

// HasKey reports whether rec carries a non-zero primary key.
func (s *Schema[T]) HasKey(rec *T) bool {
	return !reflect.ValueOf(s.Key(rec)).IsZero()
}

// SetKey assigns the primary key of rec.
func (s *Schema[T]) SetKey(rec *T, v any) error { return s.access[s.pk].set(rec, v) }

// Pointers returns the addresses of rec's fields in declaration order,
// ready for sql.Rows.Scan.
func (s *Schema[T]) Pointers(rec *T) []any {
	out := make([]any, len(s.access))
	for i, a := range s.access {
		out[i] = a.ptr(rec)
	}
	return out
}

// Values returns rec's field values in declaration order.
func (s *Schema[T]) Values(rec *T) []any {
	out := make([]any, len(s.access))
	for i, a := range s.access {
		out[i] = a.get(rec)
	}
	return out
}

// Match reports whether every entry of where equals the corresponding field
// of rec. Unknown names never match.
func (s *Schema[T]) Match(rec *T, where map[string]any) bool {
	for name, want := range where {
		i, ok := s.byName[name]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(s.access[i].get(rec), want) {
			return false
		}
	}
	return true
}

// CompareKeys orders two records by primary key.
func (s *Schema[T]) CompareKeys(a, b *T) int {
	va, vb := reflect.ValueOf(s.Key(a)), reflect.ValueOf(s.Key(b))
	switch va.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(va.Int(), vb.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cmp.Compare(va.Uint(), vb.Uint())
	default:
		return cmp.Compare(va.String(), vb.String())
	}
}

type accessor[T any] struct {
	get func(rec *T) any
	set func(rec *T, v any) error
	ptr func(rec *T) any
}

func newAccessor[T any](f Field) accessor[T] {
	idx := f.index
	return accessor[T]{
		get: func(rec *T) any {
			return reflect.ValueOf(rec).Elem().Field(idx).Interface()
		},
		set: func(rec *T, v any) error {
			dst := reflect.ValueOf(rec).Elem().Field(idx)
			rv := reflect.ValueOf(v)
			if rv.IsValid() && rv.Type() == f.Type {
				dst.Set(rv)
				return nil
			}
			parsed, err := f.Parse(v)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(parsed))
			return nil
		},
		ptr: func(rec *T) any {
			return reflect.ValueOf(rec).Elem().Field(idx).Addr().Interface()
		},
	}
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name
	}
	return name
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
