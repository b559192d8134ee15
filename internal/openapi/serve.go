package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

// JSONHandler serves doc as JSON. The document is encoded once.
func JSONHandler(doc Document) (http.HandlerFunc, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: encode json: %w", err)
	}
	return serve("application/json", body), nil
}

// YAMLHandler serves doc as YAML. The document is encoded once.
func YAMLHandler(doc Document) (http.HandlerFunc, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("openapi: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("openapi: encode yaml: %w", err)
	}
	return serve("application/yaml", buf.Bytes()), nil
}

// Register mounts GET /openapi.json and GET /openapi.yaml on mux.
func Register(mux *http.ServeMux, doc Document) error {
	jsonDoc, err := JSONHandler(doc)
	if err != nil {
		return err
	}
	yamlDoc, err := YAMLHandler(doc)
	if err != nil {
		return err
	}

	mux.Handle("GET /openapi.json", jsonDoc)
	mux.Handle("GET /openapi.yaml", yamlDoc)
	return nil
}

func serve(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		//nolint:errcheck // best-effort after WriteHeader
		w.Write(body)
	}
}
