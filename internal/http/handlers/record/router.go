// Package record generates the CRUD endpoints of a record type.
//
// New inspects nothing at request time: it walks the schema once, builds an
// Operation descriptor per endpoint (method, path, parameter list, success
// status, response shape) and closes a handler over the store. Register
// then mounts the whole table on a ServeMux:
//
//	GET    /               list records matching the query string
//	GET    /get_one        first record matching the query string
//	POST   /               create (409 when the key already exists)
//	POST   /save           create or update in place
//	GET    /{pk}/          record by primary key
//	DELETE /{pk}/          remove by primary key
//	GET    /{pk}/{field}   one field, for every non-key field
//	PUT    /{pk}/{field}   set one field, for every non-key field
package record

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
)

// Where a parameter is read from.
const (
	InPath  = "path"
	InQuery = "query"
)

// ResponseKind tells documentation what a successful response carries.
type ResponseKind int

const (
	ResponseNone   ResponseKind = iota // no body
	ResponseRecord                     // one record object
	ResponseList                       // array of records
	ResponseField                      // {"<field>": value}
)

// Param describes one input of an operation.
type Param struct {
	Name     string
	In       string
	Type     reflect.Type
	Default  any
	Required bool
	Doc      string
}

// Operation is the descriptor of one generated endpoint.
type Operation struct {
	Name        string // e.g. "list", "get_age"
	Method      string
	Path        string // full path template, e.g. "/api/students/{id}/"
	Summary     string
	Description string
	Tags        []string
	Params      []Param
	Body        bool // also accepts a JSON object of record fields
	Status      int  // success status code
	Response    ResponseKind
	Field       string // the field of a get/set field operation

	Record string         // record type name
	Fields []schema.Field // record fields, in declaration order

	Handler http.HandlerFunc

	endpoint string
	patterns []string
}

// Endpoint is the stable label of the operation, e.g. "students.get_age".
func (op Operation) Endpoint() string { return op.endpoint }

// Patterns returns the ServeMux patterns the operation is mounted on.
func (op Operation) Patterns() []string {
	out := make([]string, len(op.patterns))
	copy(out, op.patterns)
	return out
}

type options struct {
	prefix    string
	prefixSet bool
	tags      []string
}

// Option configures a Router.
type Option func(*options)

// WithPrefix mounts the record type under prefix. The default is
// "/<table name>"; an empty prefix mounts it at the root.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = strings.TrimSuffix(prefix, "/")
		o.prefixSet = true
	}
}

// WithTags replaces the default tag (the record type name).
func WithTags(tags ...string) Option {
	return func(o *options) {
		o.tags = tags
	}
}

// Router is the assembled route table of one record type. It is built once
// and read-only afterwards.
type Router[T any] struct {
	schema *schema.Schema[T]
	store  storage.Store[T]
	prefix string
	tags   []string
	ops    []Operation
}

// New synthesizes every operation for the record type described by sch.
func New[T any](sch *schema.Schema[T], store storage.Store[T], opts ...Option) *Router[T] {
	o := options{tags: []string{sch.Name()}}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.prefixSet {
		o.prefix = "/" + sch.Table()
	}

	rt := &Router[T]{
		schema: sch,
		store:  store,
		prefix: o.prefix,
		tags:   o.tags,
	}
	rt.build()
	return rt
}

// Prefix returns the mount path of the record type.
func (rt *Router[T]) Prefix() string { return rt.prefix }

// Operations returns the route table.
func (rt *Router[T]) Operations() []Operation {
	out := make([]Operation, len(rt.ops))
	copy(out, rt.ops)
	return out
}

// Register mounts every operation on mux. Each wrap function is applied per
// operation with its endpoint label, innermost first.
func (rt *Router[T]) Register(mux *http.ServeMux, wrap ...func(endpoint string, next http.Handler) http.Handler) {
	for _, op := range rt.ops {
		var h http.Handler = op.Handler
		for _, w := range wrap {
			h = w(op.endpoint, h)
		}
		for _, p := range op.patterns {
			mux.Handle(op.Method+" "+p, h)
		}
	}
}

func (rt *Router[T]) build() {
	sch, store := rt.schema, rt.store
	name := sch.Name()
	pk := sch.PrimaryKey()
	keyPath := "/{" + pk.Name + "}/"

	// Every declared field is an optional filter on the read endpoints and
	// an input on the write endpoints.
	filters := rt.fieldParams(false)
	inputs := rt.fieldParams(true)
	keyParam := Param{Name: pk.Name, In: InPath, Type: pk.Type, Required: true, Doc: pk.Doc}

	listDesc := fmt.Sprintf("Return all %s entries where the query parameters match the fields of the model. "+
		"If no query parameters are provided, all %s entries are returned.", name, name)
	saveDesc := fmt.Sprintf("Save a %s entry. An existing entry with the same %s is updated in place; "+
		"fields that are not provided keep their stored or default values.", name, pk.Name)

	rt.add("/", Operation{
		Name:        "list",
		Method:      http.MethodGet,
		Summary:     fmt.Sprintf("List %s entries", name),
		Description: listDesc,
		Params:      filters,
		Status:      http.StatusOK,
		Response:    ResponseList,
		Handler:     List(store, sch),
	})

	rt.add("/get_one", Operation{
		Name:        "get_one",
		Method:      http.MethodGet,
		Summary:     fmt.Sprintf("Get the first matching %s entry", name),
		Description: fmt.Sprintf("Return the first %s entry where the query parameters match the fields of the model.", name),
		Params:      filters,
		Status:      http.StatusOK,
		Response:    ResponseRecord,
		Handler:     GetOne(store, sch),
	})

	rt.add("/", Operation{
		Name:        "create",
		Method:      http.MethodPost,
		Summary:     fmt.Sprintf("Create a %s entry", name),
		Description: fmt.Sprintf("Create a %s entry. Fails with 409 if an entry with the same %s exists.", name, pk.Name),
		Params:      inputs,
		Body:        true,
		Status:      http.StatusCreated,
		Response:    ResponseRecord,
		Handler:     Create(store, sch),
	})

	rt.add("/save", Operation{
		Name:        "save",
		Method:      http.MethodPost,
		Summary:     fmt.Sprintf("Save a %s entry", name),
		Description: saveDesc,
		Params:      inputs,
		Body:        true,
		Status:      http.StatusOK,
		Response:    ResponseRecord,
		Handler:     Save(store, sch),
	})

	rt.add(keyPath, Operation{
		Name:        "get",
		Method:      http.MethodGet,
		Summary:     fmt.Sprintf("Get a %s entry by %s", name, pk.Name),
		Description: fmt.Sprintf("Return the %s entry with the provided %s.", name, pk.Name),
		Params:      []Param{keyParam},
		Status:      http.StatusOK,
		Response:    ResponseRecord,
		Handler:     GetByID(store, sch),
	})

	rt.add(keyPath, Operation{
		Name:        "delete",
		Method:      http.MethodDelete,
		Summary:     fmt.Sprintf("Delete a %s entry", name),
		Description: fmt.Sprintf("Delete the %s entry with the provided %s.", name, pk.Name),
		Params:      []Param{keyParam},
		Status:      http.StatusNoContent,
		Response:    ResponseNone,
		Handler:     Delete(store, sch),
	})

	for _, f := range sch.Fields() {
		if f.PrimaryKey {
			continue
		}

		valueParam := Param{Name: f.Name, In: InQuery, Type: f.Type, Required: true, Doc: f.Doc}

		rt.add(keyPath+f.Name, Operation{
			Name:        "get_" + f.Name,
			Method:      http.MethodGet,
			Summary:     fmt.Sprintf("Get the %s of a %s entry", f.Name, name),
			Description: fmt.Sprintf("Return the %s of the %s entry with the provided %s.", f.Name, name, pk.Name),
			Params:      []Param{keyParam},
			Status:      http.StatusOK,
			Response:    ResponseField,
			Field:       f.Name,
			Handler:     GetField(store, sch, f),
		})

		rt.add(keyPath+f.Name, Operation{
			Name:        "set_" + f.Name,
			Method:      http.MethodPut,
			Summary:     fmt.Sprintf("Set the %s of a %s entry", f.Name, name),
			Description: fmt.Sprintf("Set the %s of the %s entry with the provided %s.", f.Name, name, pk.Name),
			Params:      []Param{keyParam, valueParam},
			Body:        true,
			Status:      http.StatusOK,
			Response:    ResponseRecord,
			Field:       f.Name,
			Handler:     SetField(store, sch, f),
		})
	}
}

// add completes op with the router-wide values and appends it.
func (rt *Router[T]) add(rel string, op Operation) {
	op.Path = rt.prefix + rel
	op.Tags = rt.tags
	op.Record = rt.schema.Name()
	op.Fields = rt.schema.Fields()
	op.endpoint = rt.schema.Table() + "." + op.Name

	switch {
	case strings.HasSuffix(op.Path, "/"):
		// {$} keeps "/1/" from also matching "/1/<undeclared field>".
		op.patterns = []string{op.Path + "{$}"}
		if rel == "/" && rt.prefix != "" {
			op.patterns = append(op.patterns, rt.prefix)
		}
	default:
		op.patterns = []string{op.Path}
	}

	rt.ops = append(rt.ops, op)
}

// fieldParams describes every field as a query parameter. Input parameters
// carry the field's default and validation requirement; filters carry neither.
func (rt *Router[T]) fieldParams(input bool) []Param {
	fields := rt.schema.Fields()
	params := make([]Param, 0, len(fields))
	for _, f := range fields {
		p := Param{Name: f.Name, In: InQuery, Type: f.Type, Doc: f.Doc}
		if input {
			p.Default = f.Default
			p.Required = f.Required() && !f.PrimaryKey
		}
		params = append(params, p)
	}
	return params
}
