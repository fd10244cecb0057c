package progress

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed record.schema.json
var recordSchema []byte

const recordSchemaURL = "https://kmsend.local/schema/progress-record.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(recordSchemaURL, bytes.NewReader(recordSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(recordSchemaURL)
	})
	return schema, schemaErr
}

// Schema returns the JSON Schema of the wire record.
func Schema() []byte {
	return append([]byte(nil), recordSchema...)
}

// ValidateRecord checks an encoded record against the schema and, for a
// completion record, that the counts add up.
func ValidateRecord(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if e.Kind == KindComplete {
		return e.Summary.Check()
	}
	return nil
}
