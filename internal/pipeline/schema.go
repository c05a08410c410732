package pipeline

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://pipemedic.schemas.local/pipeline.schema.json"

const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "name", "columns"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": ["string", "number"]},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "input": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "delimiter": {"type": "string", "minLength": 1}
      }
    },
    "columns": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"enum": ["string", "int", "float", "bool", "date"]},
          "format": {"type": "string"},
          "aliases": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "optional": {"type": "boolean"}
        }
      }
    },
    "rename": {
      "type": "object",
      "additionalProperties": {"type": "string", "minLength": 1}
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["check"],
        "additionalProperties": false,
        "properties": {
          "column": {"type": "string"},
          "check": {"enum": ["not_null", "unique", "type", "range", "expr"]},
          "type": {"enum": ["string", "int", "float", "bool", "date"]},
          "min": {"type": "number"},
          "max": {"type": "number"},
          "expr": {"type": "string"}
        }
      }
    },
    "output": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "kind": {"enum": ["none", "csv", "sqlite", "postgres"]},
        "path": {"type": "string"},
        "dsn": {"type": "string"},
        "table": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"}
      }
    }
  }
}`

var definitionSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(definitionSchemaJSON)); err != nil {
		panic("pipeline schema load failed: " + err.Error())
	}
	return c.MustCompile(schemaURL)
}
