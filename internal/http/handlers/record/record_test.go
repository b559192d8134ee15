package record_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aanand-mishra/records-api/internal/http/handlers/record"
	"github.com/aanand-mishra/records-api/internal/schema"
	"github.com/aanand-mishra/records-api/internal/storage"
	"github.com/aanand-mishra/records-api/internal/storage/sqlite"
)

type Person struct {
	ID   int    `json:"id"   pk:"true"`
	Name string `json:"name" validate:"required"`
	Age  int    `json:"age"  validate:"gte=0,lte=150"`
}

func (Person) TableName() string { return "people" }

type Tag struct {
	ID    string `json:"id"    pk:"true"`
	Label string `json:"label" validate:"required"`
}

func newPeople(t *testing.T, seed ...Person) *httptest.Server {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sch := schema.MustOf[Person]()
	table, err := sqlite.NewTable(db, sch)
	require.NoError(t, err)

	for _, p := range seed {
		require.NoError(t, table.Save(context.Background(), &p))
	}

	mux := http.NewServeMux()
	record.New(sch, table, record.WithPrefix("")).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(out)
}

func errorBody(msg string) string {
	b, _ := json.Marshal(map[string]string{"status": "error", "error": msg})
	return string(b)
}

func TestAliceScenario(t *testing.T) {
	t.Parallel()

	srv := newPeople(t, Person{ID: 1, Name: "Alice", Age: 30})
	alice := `[{"id":1,"name":"Alice","age":30}]`

	code, body := do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, alice, body)

	code, body = do(t, srv, http.MethodGet, "/?age=30", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, alice, body)

	code, body = do(t, srv, http.MethodGet, "/?bogus=1", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, errorBody("Invalid query parameter: bogus"), body)

	code, body = do(t, srv, http.MethodPut, "/1/age?age=31", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":1,"name":"Alice","age":31}`, body)

	code, _ = do(t, srv, http.MethodDelete, "/1/", "")
	assert.Equal(t, http.StatusNoContent, code)

	code, body = do(t, srv, http.MethodGet, "/1/", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, errorBody("No Person entry with id 1"), body)

	code, body = do(t, srv, http.MethodGet, "/?id=1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)
}

func TestUnknownParameterRejected(t *testing.T) {
	t.Parallel()

	srv := newPeople(t, Person{ID: 1, Name: "Alice", Age: 30})

	tests := map[string]struct {
		method string
		path   string
		body   string
	}{
		"list with bad value elsewhere": {method: http.MethodGet, path: "/?age=old&bogus=1"},
		"get_one":                       {method: http.MethodGet, path: "/get_one?bogus=1"},
		"get":                           {method: http.MethodGet, path: "/1/?bogus=1"},
		"delete":                        {method: http.MethodDelete, path: "/1/?bogus=1"},
		"get field":                     {method: http.MethodGet, path: "/1/name?bogus=1"},
		"set field":                     {method: http.MethodPut, path: "/1/age?age=3&bogus=1"},
		"create body":                   {method: http.MethodPost, path: "/", body: `{"name":"Bob","bogus":1}`},
		"save query":                    {method: http.MethodPost, path: "/save?name=Bob&bogus=1"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, body := do(t, srv, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.JSONEq(t, errorBody("Invalid query parameter: bogus"), body)
		})
	}

	// Nothing was touched.
	code, body := do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":1,"name":"Alice","age":30}]`, body)
}

func TestList(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		code, body := do(t, newPeople(t), http.MethodGet, "/", "")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, body)
	})

	t.Run("filters and order", func(t *testing.T) {
		t.Parallel()

		srv := newPeople(t,
			Person{ID: 3, Name: "Carl", Age: 30},
			Person{ID: 1, Name: "Alice", Age: 30},
			Person{ID: 2, Name: "Bob", Age: 40},
		)

		code, body := do(t, srv, http.MethodGet, "/?age=30", "")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[{"id":1,"name":"Alice","age":30},{"id":3,"name":"Carl","age":30}]`, body)

		code, body = do(t, srv, http.MethodGet, "/?age=30&name=Carl", "")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[{"id":3,"name":"Carl","age":30}]`, body)
	})

	t.Run("bad value", func(t *testing.T) {
		t.Parallel()

		code, body := do(t, newPeople(t), http.MethodGet, "/?age=old", "")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body, "Invalid value for age")
	})

	t.Run("empty value", func(t *testing.T) {
		t.Parallel()

		code, body := do(t, newPeople(t, Person{ID: 1, Name: "Zero", Age: 0}), http.MethodGet, "/?age=", "")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body, "Invalid value for age")
	})
}

func TestGetOne(t *testing.T) {
	t.Parallel()

	srv := newPeople(t,
		Person{ID: 2, Name: "Bob", Age: 30},
		Person{ID: 1, Name: "Alice", Age: 30},
	)

	code, body := do(t, srv, http.MethodGet, "/get_one?age=30", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":1,"name":"Alice","age":30}`, body)

	code, body = do(t, srv, http.MethodGet, "/get_one?age=99", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, errorBody("No Person entry found with the provided query parameters."), body)
}

func TestGetByID(t *testing.T) {
	t.Parallel()

	srv := newPeople(t, Person{ID: 1, Name: "Alice", Age: 30})

	tests := map[string]struct {
		path string
		code int
		body string
	}{
		"found":          {path: "/1/", code: http.StatusOK, body: `{"id":1,"name":"Alice","age":30}`},
		"absent":         {path: "/2/", code: http.StatusNotFound, body: errorBody("No Person entry with id 2")},
		"filter matches": {path: "/1/?name=Alice", code: http.StatusOK, body: `{"id":1,"name":"Alice","age":30}`},
		"filter misses":  {path: "/1/?name=Bob", code: http.StatusNotFound, body: errorBody("No Person entry with id 1")},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodGet, tc.path, "")
			assert.Equal(t, tc.code, code)
			assert.JSONEq(t, tc.body, body)
		})
	}

	t.Run("bad key", func(t *testing.T) {
		code, body := do(t, srv, http.MethodGet, "/abc/", "")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body, "Invalid value for id")
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()

	srv := newPeople(t)

	code, body := do(t, srv, http.MethodPost, "/", `{"name":"Bob","age":20}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.JSONEq(t, `{"id":1,"name":"Bob","age":20}`, body)

	code, body = do(t, srv, http.MethodPost, "/", `{"id":1,"name":"Carl"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.JSONEq(t, errorBody("Data already exists with id 1"), body)

	code, body = do(t, srv, http.MethodPost, "/", `{"age":20}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, errorBody("field name is required"), body)

	code, body = do(t, srv, http.MethodPost, "/", `{"name":"Eve","age":200}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, errorBody("field age must be at most 150"), body)

	code, body = do(t, srv, http.MethodPost, "/", `{"name":"Eve","age":20.5}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "Invalid value for age")

	code, body = do(t, srv, http.MethodPost, "/", `{"name":123,"age":20}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "Invalid value for name")

	code, body = do(t, srv, http.MethodPost, "/", `{"name":"Eve","age":true}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "Invalid value for age")

	code, body = do(t, srv, http.MethodPost, "/", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "request body must be a JSON object")

	// Query string parameters work without a body.
	code, body = do(t, srv, http.MethodPost, "/?name=Dee&age=41", "")
	assert.Equal(t, http.StatusCreated, code)
	assert.JSONEq(t, `{"id":2,"name":"Dee","age":41}`, body)

	code, body = do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":1,"name":"Bob","age":20},{"id":2,"name":"Dee","age":41}]`, body)
}

func TestCreate_StringKey(t *testing.T) {
	t.Parallel()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sch := schema.MustOf[Tag]()
	table, err := sqlite.NewTable(db, sch)
	require.NoError(t, err)

	mux := http.NewServeMux()
	record.New(sch, table).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	code, body := do(t, srv, http.MethodPost, "/tag/", `{"label":"go"}`)
	require.Equal(t, http.StatusCreated, code)

	var got Tag
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	_, err = uuid.Parse(got.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", got.Label)

	code, body = do(t, srv, http.MethodGet, "/tag/"+got.ID+"/label", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"label":"go"}`, body)

	code, body = do(t, srv, http.MethodPost, "/tag", `{"id":"`+got.ID+`","label":"again"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.JSONEq(t, errorBody("Data already exists with id "+got.ID), body)
}

func TestSave(t *testing.T) {
	t.Parallel()

	srv := newPeople(t)

	code, body := do(t, srv, http.MethodPost, "/save?name=Alice&age=30", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":1,"name":"Alice","age":30}`, body)

	// Unnamed fields keep their stored values.
	code, body = do(t, srv, http.MethodPost, "/save", `{"id":1,"age":31}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":1,"name":"Alice","age":31}`, body)

	// An unknown key is created as given.
	code, body = do(t, srv, http.MethodPost, "/save", `{"id":7,"name":"Zed"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":7,"name":"Zed","age":0}`, body)

	code, body = do(t, srv, http.MethodPost, "/save", `{"id":7,"name":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, errorBody("field name is required"), body)

	code, body = do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":1,"name":"Alice","age":31},{"id":7,"name":"Zed","age":0}]`, body)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	srv := newPeople(t,
		Person{ID: 1, Name: "Alice", Age: 30},
		Person{ID: 2, Name: "Bob", Age: 40},
	)

	code, body := do(t, srv, http.MethodDelete, "/9/", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, errorBody("No Person entry with id 9"), body)

	code, body = do(t, srv, http.MethodDelete, "/2/", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, body)

	code, _ = do(t, srv, http.MethodDelete, "/2/", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":1,"name":"Alice","age":30}]`, body)
}

func TestNonDecimalValues(t *testing.T) {
	t.Parallel()

	srv := newPeople(t,
		Person{ID: 1, Name: "Alice", Age: 30},
		Person{ID: 8, Name: "Oct", Age: 8},
	)

	tests := map[string]struct {
		method string
		path   string
		code   int
		want   string
	}{
		"leading zero key is decimal": {method: http.MethodGet, path: "/010/", code: http.StatusNotFound, want: errorBody("No Person entry with id 10")},
		"leading zero delete":         {method: http.MethodDelete, path: "/010/", code: http.StatusNotFound, want: errorBody("No Person entry with id 10")},
		"leading zero field":          {method: http.MethodGet, path: "/010/name", code: http.StatusNotFound, want: errorBody("No Person entry with id 10")},
		"hex key":                     {method: http.MethodGet, path: "/0x1/", code: http.StatusBadRequest},
		"underscore key":              {method: http.MethodGet, path: "/1_0/", code: http.StatusBadRequest},
		"hex filter":                  {method: http.MethodGet, path: "/?age=0x1E", code: http.StatusBadRequest},
		"octal filter":                {method: http.MethodGet, path: "/get_one?age=0o10", code: http.StatusBadRequest},
		"binary field value":          {method: http.MethodPut, path: "/1/age?age=0b11", code: http.StatusBadRequest},
		"empty field value":           {method: http.MethodPut, path: "/1/age?age=", code: http.StatusBadRequest},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, body := do(t, srv, tc.method, tc.path, "")
			assert.Equal(t, tc.code, code)
			if tc.want != "" {
				assert.JSONEq(t, tc.want, body)
			}
		})
	}

	// Nothing above may touch the stored records.
	code, body := do(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":1,"name":"Alice","age":30},{"id":8,"name":"Oct","age":8}]`, body)
}

func TestGetField(t *testing.T) {
	t.Parallel()

	srv := newPeople(t, Person{ID: 1, Name: "Alice", Age: 30})

	tests := map[string]struct {
		path string
		code int
		body string
	}{
		"name":   {path: "/1/name", code: http.StatusOK, body: `{"name":"Alice"}`},
		"age":    {path: "/1/age", code: http.StatusOK, body: `{"age":30}`},
		"absent": {path: "/2/name", code: http.StatusNotFound, body: errorBody("No Person entry with id 2")},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodGet, tc.path, "")
			assert.Equal(t, tc.code, code)
			assert.JSONEq(t, tc.body, body)
		})
	}

	t.Run("undeclared and key fields have no route", func(t *testing.T) {
		for _, path := range []string{"/1/bogus", "/1/id"} {
			code, _ := do(t, srv, http.MethodGet, path, "")
			assert.Equal(t, http.StatusNotFound, code, path)
		}
	})
}

func TestSetField(t *testing.T) {
	t.Parallel()

	srv := newPeople(t, Person{ID: 1, Name: "Alice", Age: 30})

	tests := map[string]struct {
		path string
		body string
		code int
		want string
	}{
		"missing value": {path: "/1/age", code: http.StatusBadRequest, want: errorBody("missing value for field age")},
		"invalid value": {path: "/1/age?age=old", code: http.StatusBadRequest},
		"fails rule":    {path: "/1/age?age=200", code: http.StatusBadRequest, want: errorBody("field age must be at most 150")},
		"absent record": {path: "/2/age?age=3", code: http.StatusNotFound, want: errorBody("No Person entry with id 2")},
		"no key route":  {path: "/1/id?id=5", code: http.StatusNotFound},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, body := do(t, srv, http.MethodPut, tc.path, tc.body)
			assert.Equal(t, tc.code, code)
			if tc.want != "" {
				assert.JSONEq(t, tc.want, body)
			}
		})
	}

	t.Run("from body", func(t *testing.T) {
		code, body := do(t, srv, http.MethodPut, "/1/name", `{"name":"Alicia"}`)
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"id":1,"name":"Alicia","age":30}`, body)
	})
}

func TestOperations(t *testing.T) {
	t.Parallel()

	sch := schema.MustOf[Person]()
	rt := record.New(sch, nil, record.WithTags("people"))
	assert.Equal(t, "/people", rt.Prefix())

	var names, endpoints []string
	for _, op := range rt.Operations() {
		names = append(names, op.Name)
		endpoints = append(endpoints, op.Endpoint())
		assert.Equal(t, []string{"people"}, op.Tags)
		assert.Equal(t, "Person", op.Record)
	}
	assert.Equal(t, []string{
		"list", "get_one", "create", "save", "get", "delete",
		"get_name", "set_name", "get_age", "set_age",
	}, names)
	assert.Contains(t, endpoints, "people.get_age")

	ops := rt.Operations()
	assert.Equal(t, "/people/", ops[0].Path)
	assert.Equal(t, []string{"/people/{$}", "/people"}, ops[0].Patterns())
	assert.Equal(t, "/people/{id}/", ops[4].Path)
	assert.Equal(t, []string{"/people/{id}/{$}"}, ops[4].Patterns())
	assert.Equal(t, http.StatusCreated, ops[2].Status)
	assert.Equal(t, http.StatusNoContent, ops[5].Status)
	assert.Equal(t, record.ResponseField, ops[6].Response)

	// Filters carry no requirement; create inputs follow the validation rules.
	for _, p := range ops[0].Params {
		assert.False(t, p.Required, p.Name)
	}
	required := map[string]bool{}
	for _, p := range ops[2].Params {
		required[p.Name] = p.Required
	}
	assert.Equal(t, map[string]bool{"id": false, "name": true, "age": false}, required)
}

func TestRegister_Wrap(t *testing.T) {
	t.Parallel()

	sch := schema.MustOf[Person]()
	store := &fakeStore{}

	var seen []string
	mux := http.NewServeMux()
	record.New(sch, storage.Store[Person](store)).Register(mux, func(endpoint string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, endpoint)
			next.ServeHTTP(w, r)
		})
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/people/get_one", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"people.get_one"}, seen)
}

func TestStorageError(t *testing.T) {
	t.Parallel()

	sch := schema.MustOf[Person]()
	store := &fakeStore{err: storage.Wrap("GetAll", errors.New("disk on fire"))}

	mux := http.NewServeMux()
	record.New(sch, storage.Store[Person](store)).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/people/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, errorBody("GetAll: disk on fire"), rec.Body.String())
}

// fakeStore answers every read with one fixed record or err.
type fakeStore struct {
	err error
}

func (s *fakeStore) GetAll(context.Context, storage.Filter) ([]Person, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []Person{{ID: 1, Name: "Alice"}}, nil
}

func (s *fakeStore) GetOne(context.Context, storage.Filter) (Person, error) {
	if s.err != nil {
		return Person{}, s.err
	}
	return Person{ID: 1, Name: "Alice"}, nil
}

func (s *fakeStore) Save(context.Context, *Person) error   { return s.err }
func (s *fakeStore) Delete(context.Context, *Person) error { return s.err }
