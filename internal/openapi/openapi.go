// Package openapi describes the generated record endpoints as an OpenAPI 3.1
// document, served as JSON and YAML.
package openapi

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/aanand-mishra/records-api/internal/http/handlers/record"
	"github.com/aanand-mishra/records-api/internal/schema"
)

// Version is the OpenAPI version documents are written in.
const Version = "3.1.0"

// errorSchema is the component name of the error envelope.
const errorSchema = "Error"

// Document is the top-level OpenAPI document.
type Document struct {
	OpenAPI    string              `json:"openapi" yaml:"openapi"`
	Info       Info                `json:"info" yaml:"info"`
	Paths      map[string]PathItem `json:"paths" yaml:"paths"`
	Components Components          `json:"components" yaml:"components"`
}

// Info holds API metadata.
type Info struct {
	Title   string `json:"title" yaml:"title"`
	Version string `json:"version" yaml:"version"`
}

// Components holds the shared schemas, one per record type plus the error
// envelope.
type Components struct {
	Schemas map[string]Schema `json:"schemas" yaml:"schemas"`
}

// PathItem maps lower-case HTTP methods to operations.
type PathItem map[string]Operation

// Operation describes one endpoint.
type Operation struct {
	OperationID string              `json:"operationId" yaml:"operationId"`
	Summary     string              `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]Response `json:"responses" yaml:"responses"`
}

// Parameter describes a path or query parameter.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	In          string `json:"in" yaml:"in"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Schema      Schema `json:"schema" yaml:"schema"`
}

// RequestBody describes an optional JSON body.
type RequestBody struct {
	Required bool                 `json:"required" yaml:"required"`
	Content  map[string]MediaType `json:"content" yaml:"content"`
}

// MediaType carries the schema of a body.
type MediaType struct {
	Schema Schema `json:"schema" yaml:"schema"`
}

// Response describes one status code of an operation.
type Response struct {
	Description string               `json:"description" yaml:"description"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// Schema is the subset of JSON Schema the record types need. Type is a
// string, or a list of strings for nullable fields.
type Schema struct {
	Ref         string            `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type        any               `json:"type,omitempty" yaml:"type,omitempty"`
	Format      string            `json:"format,omitempty" yaml:"format,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any               `json:"default,omitempty" yaml:"default,omitempty"`
	Properties  map[string]Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string          `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Schema           `json:"items,omitempty" yaml:"items,omitempty"`
}

// Build documents every operation in ops.
func Build(info Info, ops []record.Operation) Document {
	doc := Document{
		OpenAPI: Version,
		Info:    info,
		Paths:   make(map[string]PathItem),
		Components: Components{Schemas: map[string]Schema{
			errorSchema: {
				Type: "object",
				Properties: map[string]Schema{
					"status": {Type: "string"},
					"error":  {Type: "string"},
				},
				Required: []string{"status", "error"},
			},
		}},
	}

	for _, op := range ops {
		if _, ok := doc.Components.Schemas[op.Record]; !ok {
			doc.Components.Schemas[op.Record] = recordSchema(op.Fields)
		}

		item, ok := doc.Paths[op.Path]
		if !ok {
			item = make(PathItem)
			doc.Paths[op.Path] = item
		}
		item[strings.ToLower(op.Method)] = operation(op)
	}

	return doc
}

func operation(op record.Operation) Operation {
	out := Operation{
		OperationID: op.Endpoint(),
		Summary:     op.Summary,
		Description: op.Description,
		Tags:        op.Tags,
		Responses:   responses(op),
	}

	for _, p := range op.Params {
		s := typeSchema(p.Type)
		s.Default = p.Default
		out.Parameters = append(out.Parameters, Parameter{
			Name:        p.Name,
			In:          p.In,
			Description: p.Doc,
			Required:    p.Required || p.In == record.InPath,
			Schema:      s,
		})
	}

	if op.Body {
		body := ref(op.Record)
		if op.Field != "" {
			body = fieldObject(op.Fields, op.Field)
		}
		out.RequestBody = &RequestBody{
			Content: map[string]MediaType{"application/json": {Schema: body}},
		}
	}

	return out
}

func responses(op record.Operation) map[string]Response {
	ok := Response{Description: http.StatusText(op.Status)}
	switch op.Response {
	case record.ResponseRecord:
		ok.Content = jsonContent(ref(op.Record))
	case record.ResponseList:
		items := ref(op.Record)
		ok.Content = jsonContent(Schema{Type: "array", Items: &items})
	case record.ResponseField:
		ok.Content = jsonContent(fieldObject(op.Fields, op.Field))
	}

	out := map[string]Response{strconv.Itoa(op.Status): ok}
	out[strconv.Itoa(http.StatusBadRequest)] = errorResponse(http.StatusBadRequest)
	if op.Name == "get_one" || strings.Contains(op.Path, "{") {
		out[strconv.Itoa(http.StatusNotFound)] = errorResponse(http.StatusNotFound)
	}
	if op.Name == "create" {
		out[strconv.Itoa(http.StatusConflict)] = errorResponse(http.StatusConflict)
	}
	return out
}

func errorResponse(code int) Response {
	return Response{
		Description: http.StatusText(code),
		Content:     jsonContent(ref(errorSchema)),
	}
}

func jsonContent(s Schema) map[string]MediaType {
	return map[string]MediaType{"application/json": {Schema: s}}
}

func ref(name string) Schema {
	return Schema{Ref: "#/components/schemas/" + name}
}

func recordSchema(fields []schema.Field) Schema {
	s := Schema{Type: "object", Properties: make(map[string]Schema, len(fields))}
	for _, f := range fields {
		p := typeSchema(f.Type)
		p.Description = f.Doc
		p.Default = f.Default
		s.Properties[f.Name] = p
		if f.Required() {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func fieldObject(fields []schema.Field, name string) Schema {
	for _, f := range fields {
		if f.Name != name {
			continue
		}
		p := typeSchema(f.Type)
		p.Description = f.Doc
		return Schema{
			Type:       "object",
			Properties: map[string]Schema{f.Name: p},
			Required:   []string{f.Name},
		}
	}
	return Schema{Type: "object"}
}

// typeSchema maps a field type to a JSON Schema type. Pointers are nullable.
func typeSchema(t reflect.Type) Schema {
	if t.Kind() == reflect.Pointer {
		s := typeSchema(t.Elem())
		if name, ok := s.Type.(string); ok {
			s.Type = []string{name, "null"}
		}
		return s
	}

	switch t.Kind() {
	case reflect.String:
		return Schema{Type: "string"}
	case reflect.Bool:
		return Schema{Type: "boolean"}
	case reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return Schema{Type: "integer", Format: "int32"}
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		return Schema{Type: "integer", Format: "int64"}
	case reflect.Float32:
		return Schema{Type: "number", Format: "float"}
	case reflect.Float64:
		return Schema{Type: "number", Format: "double"}
	default:
		return Schema{}
	}
}
