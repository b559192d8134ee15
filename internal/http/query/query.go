// Package query turns request parameters into typed values for a record
// type. It is the single gate every generated endpoint passes through
// before touching storage: a parameter that is not a declared field is
// rejected outright.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
)

// ErrBadBody is returned when a write request carries a body that is not a
// JSON object.
var ErrBadBody = errors.New("request body must be a JSON object")

// UnknownParamError names a parameter the record type does not declare.
type UnknownParamError struct {
	Name string
}

func (e *UnknownParamError) Error() string {
	return "Invalid query parameter: " + e.Name
}

// InvalidValueError reports a value that cannot be converted to its
// field's declared type.
type InvalidValueError struct {
	Field string
	Err   error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("Invalid value for %s: %v", e.Field, e.Err)
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

// Extract builds a filter from the request's query string. Every key is
// checked before any value is converted, so an unknown key is reported no
// matter what the other keys hold. Repeated keys use their first value.
func Extract[T any](r *http.Request, sch *schema.Schema[T]) (storage.Filter, error) {
	values := r.URL.Query()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	if err := checkKeys(keys, sch); err != nil {
		return nil, err
	}

	where := make(storage.Filter, len(keys))
	for _, k := range keys {
		f, _ := sch.Field(k)
		v, err := f.Parse(values.Get(k))
		if err != nil {
			return nil, &InvalidValueError{Field: k, Err: err}
		}
		where[k] = v
	}
	return where, nil
}

// Params collects the raw parameters of a write request: the query string
// merged with a JSON object body, the body winning on conflicts. Values are
// left unconverted; schema.Set converts them when they are applied.
func Params[T any](r *http.Request, sch *schema.Schema[T]) (map[string]any, error) {
	params := make(map[string]any)
	for k, vs := range r.URL.Query() {
		params[k] = vs[0]
	}

	body, err := decodeBody(r)
	if err != nil {
		return nil, err
	}
	for k, v := range body {
		params[k] = v
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	if err := checkKeys(keys, sch); err != nil {
		return nil, err
	}
	return params, nil
}

func checkKeys[T any](keys []string, sch *schema.Schema[T]) error {
	for _, k := range keys {
		if _, ok := sch.Field(k); !ok {
			return &UnknownParamError{Name: k}
		}
	}
	return nil
}

func decodeBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	dec := json.NewDecoder(r.Body)
	// Numbers stay json.Number so integer fields reject fractions instead
	// of truncating them.
	dec.UseNumber()

	var body map[string]any
	err := dec.Decode(&body)
	if errors.Is(err, io.EOF) {
		// Empty body: parameters may come from the query string alone.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	return body, nil
}
