package mailbox

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// jobSchema constrains the fields each known kind must carry. Kinds outside
// the enum are left unconstrained: they belong to the peer process.
const jobSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"type": "string", "minLength": 1},
    "subject_id": {"type": "string"},
    "creator": {"type": "string"},
    "items": {"type": "array", "items": {"$ref": "#/$defs/media"}},
    "media_ref": {"$ref": "#/$defs/media"},
    "teaser_location": {
      "type": "object",
      "required": ["session_id", "message_id"],
      "properties": {
        "session_id": {"type": "string"},
        "message_id": {"type": "string"}
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "joined"}}},
      "then": {"required": ["subject_id", "display_name"]}
    },
    {
      "if": {"properties": {"kind": {"const": "relay"}}},
      "then": {"required": ["subject_id", "creator", "title", "media_ref"]}
    },
    {
      "if": {"properties": {"kind": {"const": "subchg"}}},
      "then": {"required": ["subject_id", "creator", "old_price", "new_price"]}
    },
    {
      "if": {"properties": {"kind": {"const": "dm"}}},
      "then": {"required": ["subject_id", "creator", "message"]}
    },
    {
      "if": {"properties": {"kind": {"const": "dash_refresh"}}},
      "then": {"required": ["subject_id"]}
    },
    {
      "if": {"properties": {"kind": {"const": "unlock_register"}}},
      "then": {"required": ["subject_id", "content_id"]}
    },
    {
      "if": {"properties": {"kind": {"const": "unlock_deliver"}}},
      "then": {"required": ["subject_id", "content_id"]}
    },
    {
      "if": {"properties": {"kind": {"const": "proxy_alert"}}},
      "then": {"required": ["subject_id", "source", "reason"]}
    }
  ],
  "$defs": {
    "media": {
      "type": "object",
      "required": ["ref"],
      "properties": {
        "kind": {"type": "string"},
        "ref": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var (
	compileSchemaOnce sync.Once
	compiledSchema    *jsonschema.Schema
	compileSchemaErr  error
)

func recordSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jobSchema))
		if err != nil {
			compileSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("mailbox://job.schema.json", doc); err != nil {
			compileSchemaErr = err
			return
		}
		compiledSchema, compileSchemaErr = compiler.Compile("mailbox://job.schema.json")
	})
	return compiledSchema, compileSchemaErr
}

// ValidateRecord checks one raw mailbox record against the job schema.
func ValidateRecord(raw []byte) error {
	schema, err := recordSchema()
	if err != nil {
		return fmt.Errorf("compile job schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
