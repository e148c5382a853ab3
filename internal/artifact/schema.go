package artifact

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema validates config.json before it is decoded. It pins the
// structural invariants: required identity fields, known column types, and
// hyperparameter domains. Unknown extra fields are tolerated for forward
// compatibility.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "id", "metadata", "schema"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "id": {"type": "string", "minLength": 1},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "tags": {"type": "array", "items": {"type": "string"}}
      }
    },
    "source": {
      "type": "object",
      "properties": {
        "kind": {"type": "string"},
        "options": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "schema": {
      "type": "object",
      "required": ["columns"],
      "properties": {
        "columns": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "type"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "type": {
                "enum": [
                  "textual", "continuous", "ordered_categorical",
                  "categorical", "multi_categorical", "temporal",
                  "geospatial", "unique", "boolean", "topic"
                ]
              },
              "topic_params": {
                "type": "object",
                "properties": {
                  "min_topic_size": {"type": "integer", "minimum": 0},
                  "num_topics": {"type": "integer", "minimum": 0},
                  "min_doc_freq": {"type": "number", "minimum": 0, "maximum": 1},
                  "max_doc_freq": {"type": "number", "minimum": 0, "maximum": 1}
                }
              }
            }
          }
        }
      }
    }
  }
}`

// validateConfig checks raw config.json bytes against configSchema.
func validateConfig(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("config schema violation: %s", result.Errors()[0].String())
	}

	return nil
}
