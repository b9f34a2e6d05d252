package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaCache caches compiled JSON schemas by name.
var schemaCache sync.Map // map[string]*jsonschema.Schema

// GenerateJSON runs req against p and decodes the reply into out.
func GenerateJSON(ctx context.Context, p Provider, req Request, out any) (*Response, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := DecodeJSON(resp.Content, req.Schema, out); err != nil {
		return resp, err
	}
	return resp, nil
}

// DecodeJSON strips markdown fences, repairs malformed JSON, validates
// against schema (when non-nil) and unmarshals into out.
// Failures are returned as *ErrInvalidResponse.
func DecodeJSON(raw json.RawMessage, schema *Schema, out any) error {
	cleaned := stripCodeFence(raw)
	if len(cleaned) == 0 {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("empty response")}
	}

	if !json.Valid(cleaned) {
		repaired, err := jsonrepair.JSONRepair(string(cleaned))
		if err != nil {
			return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("repair JSON: %w", err)}
		}
		cleaned = []byte(repaired)
	}

	if err := validateResponse(schema, cleaned); err != nil {
		return err
	}

	if err := json.Unmarshal(cleaned, out); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(raw []byte) []byte {
	b := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = bytes.TrimPrefix(b, []byte("```"))
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		b = b[nl+1:]
	}
	b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
	return bytes.TrimSpace(b)
}

// validateResponse validates raw JSON against the given Schema.
// Returns nil if no schema is provided or validation passes.
func validateResponse(schema *Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	compiled, err := getCompiledSchema(schema)
	if err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("compile schema %q: %w", schema.Name, err)}
	}

	if err := compiled.Validate(parsed); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("schema validation failed: %w", err)}
	}
	return nil
}

// getCompiledSchema returns a cached compiled schema or compiles and caches it.
func getCompiledSchema(schema *Schema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The compiler wants a decoded JSON value, not Go maps with typed slices.
	defBytes, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	defParsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(defBytes))
	if err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	schemaURL := fmt.Sprintf("schema://%s.json", schema.Name)
	if err := c.AddResource(schemaURL, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}

	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	schemaCache.Store(schema.Name, compiled)
	return compiled, nil
}
