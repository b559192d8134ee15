package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aanand-mishra/records-api/internal/http/query"
	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
	"github.com/aanand-mishra/records-api/internal/utils/response"
)

// validate checks records before they are saved. Failing fields are
// reported by their JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ─────────────────────────────────────────────────────────────────────────────
// List handles GET <prefix>/
// Returns every record whose fields equal the query parameters, in key order.
//
// Query parameters: any declared field, e.g. ?age=30&name=Alice
//
// Success response (200 OK):
//
//	[ { "id": 1, "name": "Alice", "age": 30 } ]
//
// Returns an empty array [] (not null) when nothing matches.
//
// Error responses:
//
//	400 Bad Request  - undeclared parameter, or a value of the wrong type
//	400 Bad Request  - the store failed (logged)
//
// ─────────────────────────────────────────────────────────────────────────────
func List[T any](store storage.Store[T], sch *schema.Schema[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		where, err := query.Extract(r, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("listing records", slog.String("record", sch.Name()), slog.Any("filter", where))

		recs, err := store.GetAll(r.Context(), where)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if recs == nil {
			recs = []T{}
		}

		response.WriteJSON(w, http.StatusOK, recs)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetOne handles GET <prefix>/get_one
// Returns the record with the lowest key among those matching the query.
//
// Success response (200 OK):
//
//	{ "id": 1, "name": "Alice", "age": 30 }
//
// Error responses:
//
//	400 Bad Request  - undeclared parameter, or a value of the wrong type
//	404 Not Found    - no record matches
//
// ─────────────────────────────────────────────────────────────────────────────
func GetOne[T any](store storage.Store[T], sch *schema.Schema[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		where, err := query.Extract(r, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		rec, err := store.GetOne(r.Context(), where)
		if errors.Is(err, storage.ErrNotFound) {
			err = queryNotFound(sch.Name())
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, rec)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetByID handles GET <prefix>/{pk}/
// Fetches one record by its primary key. Query parameters narrow the match.
//
// Path parameter: {pk} - decimal integer or string, per the key's type
//
// Success response (200 OK):
//
//	{ "id": 1, "name": "Alice", "age": 30 }
//
// Error responses:
//
//	400 Bad Request  - the key or a parameter fails its declared type
//	404 Not Found    - no record with that key matches
//
// ─────────────────────────────────────────────────────────────────────────────
func GetByID[T any](store storage.Store[T], sch *schema.Schema[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := lookup(r, store, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, rec)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Create handles POST <prefix>/
// Builds a new record from the defaults, the query string and the body.
// Body values win over query values of the same name.
//
// Request body (JSON object, optional):
//
//	{ "name": "Bob", "age": 20 }
//
// A record sent without a key gets one from the store.
//
// Success response (201 Created):
//
//	{ "id": 1, "name": "Bob", "age": 20 }
//
// Error responses:
//
//	400 Bad Request  - body is not a JSON object
//	400 Bad Request  - undeclared parameter, or a value of the wrong type
//	400 Bad Request  - a validate rule fails, e.g. "field name is required"
//	409 Conflict     - a record with the supplied key already exists
//
// ─────────────────────────────────────────────────────────────────────────────
func Create[T any](store storage.Store[T], sch *schema.Schema[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := query.Params(r, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		rec := sch.New()
		if err := build(&rec, sch, params); err != nil {
			writeError(w, r, err)
			return
		}

		if sch.HasKey(&rec) {
			pk := sch.PrimaryKey()
			key := sch.Key(&rec)
			_, err := store.GetOne(r.Context(), storage.Filter{pk.Name: key})
			switch {
			case err == nil:
				writeError(w, r, &conflictError{key: pk.Name, value: key})
				return
			case !errors.Is(err, storage.ErrNotFound):
				writeError(w, r, err)
				return
			}
		}

		if err := store.Save(r.Context(), &rec); err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("record created", slog.String("record", sch.Name()), slog.Any("key", sch.Key(&rec)))

		response.WriteJSON(w, http.StatusCreated, rec)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Save handles POST <prefix>/save
// Upserts a record. When the parameters name a stored key, they are merged
// onto the stored record; otherwise a new record is built from the defaults.
//
// Request body (JSON object, optional):
//
//	{ "id": 1, "age": 31 }
//
// Success response (200 OK):
//
//	{ "id": 1, "name": "Alice", "age": 31 }
//
// Error responses:
//
//	400 Bad Request  - body is not a JSON object
//	400 Bad Request  - undeclared parameter, or a value of the wrong type
//	400 Bad Request  - the merged record fails a validate rule
//
// ─────────────────────────────────────────────────────────────────────────────
func Save[T any](store storage.Store[T], sch *schema.Schema[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := query.Params(r, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		rec, err := base(r.Context(), store, sch, params)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := build(&rec, sch, params); err != nil {
			writeError(w, r, err)
			return
		}

		if err := store.Save(r.Context(), &rec); err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("record saved", slog.String("record", sch.Name()), slog.Any("key", sch.Key(&rec)))

		response.WriteJSON(w, http.StatusOK, rec)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Delete handles DELETE <prefix>/{pk}/
// Removes one record. Query parameters narrow the match.
//
// Success response (204 No Content): empty body
//
// Error responses:
//
//	400 Bad Request  - the key or a parameter fails its declared type
//	404 Not Found    - no record with that key matches
//
// ─────────────────────────────────────────────────────────────────────────────
func Delete[T any](store storage.Store[T], sch *schema.Schema[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := lookup(r, store, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		pk := sch.PrimaryKey()
		err = store.Delete(r.Context(), &rec)
		if errors.Is(err, storage.ErrNotFound) {
			// Removed by someone else since the lookup.
			err = keyNotFound(sch.Name(), pk.Name, sch.Key(&rec))
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("record deleted", slog.String("record", sch.Name()), slog.Any("key", sch.Key(&rec)))

		w.WriteHeader(http.StatusNoContent)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// GetField handles GET <prefix>/{pk}/<field>
// Returns a single field of one record.
//
// Success response (200 OK):
//
//	{ "age": 30 }
//
// Error responses:
//
//	400 Bad Request  - the key or a parameter fails its declared type
//	404 Not Found    - no record with that key matches
//
// ─────────────────────────────────────────────────────────────────────────────
func GetField[T any](store storage.Store[T], sch *schema.Schema[T], f schema.Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := lookup(r, store, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		v, err := sch.Get(&rec, f.Name)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, map[string]any{f.Name: v})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SetField handles PUT <prefix>/{pk}/<field>
// Replaces one field of a stored record and returns the whole record.
// The new value is the parameter named after the field, from the query
// string or the body. Other declared parameters narrow the lookup.
//
// Request body (JSON object, optional):
//
//	{ "age": 31 }
//
// Success response (200 OK):
//
//	{ "id": 1, "name": "Alice", "age": 31 }
//
// Error responses:
//
//	400 Bad Request  - no value for the field was sent
//	400 Bad Request  - the value, key or a parameter fails its declared type
//	400 Bad Request  - the updated record fails a validate rule
//	404 Not Found    - no record with that key matches
//
// ─────────────────────────────────────────────────────────────────────────────
func SetField[T any](store storage.Store[T], sch *schema.Schema[T], f schema.Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := query.Params(r, sch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		raw, ok := params[f.Name]
		if !ok {
			writeError(w, r, fmt.Errorf("%w for field %s", ErrMissingValue, f.Name))
			return
		}
		value, err := f.Parse(raw)
		if err != nil {
			writeError(w, r, &query.InvalidValueError{Field: f.Name, Err: err})
			return
		}

		where := make(storage.Filter, len(params))
		for k, v := range params {
			if k == f.Name {
				continue
			}
			field, _ := sch.Field(k)
			parsed, err := field.Parse(v)
			if err != nil {
				writeError(w, r, &query.InvalidValueError{Field: k, Err: err})
				return
			}
			where[k] = parsed
		}

		rec, err := find(r, store, sch, where)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := sch.Set(&rec, f.Name, value); err != nil {
			writeError(w, r, &query.InvalidValueError{Field: f.Name, Err: err})
			return
		}
		if err := validate.Struct(&rec); err != nil {
			writeError(w, r, err)
			return
		}

		if err := store.Save(r.Context(), &rec); err != nil {
			writeError(w, r, err)
			return
		}

		slog.Info("record field updated",
			slog.String("record", sch.Name()),
			slog.Any("key", sch.Key(&rec)),
			slog.String("field", f.Name),
		)

		response.WriteJSON(w, http.StatusOK, rec)
	}
}

// lookup finds the record named by the path key, narrowed by any declared
// query parameters.
func lookup[T any](r *http.Request, store storage.Store[T], sch *schema.Schema[T]) (T, error) {
	where, err := query.Extract(r, sch)
	if err != nil {
		var zero T
		return zero, err
	}
	return find(r, store, sch, where)
}

// find adds the path key to where and fetches the record.
func find[T any](r *http.Request, store storage.Store[T], sch *schema.Schema[T], where storage.Filter) (T, error) {
	var zero T

	pk := sch.PrimaryKey()
	key, err := pk.Parse(r.PathValue(pk.Name))
	if err != nil {
		return zero, &query.InvalidValueError{Field: pk.Name, Err: err}
	}
	where[pk.Name] = key

	rec, err := store.GetOne(r.Context(), where)
	if errors.Is(err, storage.ErrNotFound) {
		return zero, keyNotFound(sch.Name(), pk.Name, key)
	}
	return rec, err
}

// base returns the record a save starts from: the stored record when params
// name an existing key, otherwise a fresh record with defaults applied.
func base[T any](ctx context.Context, store storage.Store[T], sch *schema.Schema[T], params map[string]any) (T, error) {
	pk := sch.PrimaryKey()
	rec := sch.New()

	raw, ok := params[pk.Name]
	if !ok {
		return rec, nil
	}
	key, err := pk.Parse(raw)
	if err != nil {
		return rec, &query.InvalidValueError{Field: pk.Name, Err: err}
	}
	if reflect.ValueOf(key).IsZero() {
		return rec, nil
	}

	stored, err := store.GetOne(ctx, storage.Filter{pk.Name: key})
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, storage.ErrNotFound):
		return rec, nil
	default:
		return rec, err
	}
}

// build overlays params onto rec in name order and validates the result.
func build[T any](rec *T, sch *schema.Schema[T], params map[string]any) error {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	slices.Sort(names)

	for _, name := range names {
		if err := sch.Set(rec, name, params[name]); err != nil {
			return &query.InvalidValueError{Field: name, Err: err}
		}
	}

	return validate.Struct(rec)
}
