package extract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// deepOutputSchema is the contract for the deep detector's stdout.
const deepOutputSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["page", "data"],
    "properties": {
      "page":  {"type": "integer", "minimum": 1},
      "order": {"type": "integer", "minimum": 0},
      "data": {
        "type": "array",
        "items": {
          "type": "array",
          "items": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var deepSchema = jsonschema.MustCompileString("deep-output.json", deepOutputSchema)

// validateDeepOutput checks detector output before it is decoded.
func validateDeepOutput(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal detector output: %w", err)
	}
	if err := deepSchema.Validate(v); err != nil {
		return fmt.Errorf("detector output does not match schema: %w", err)
	}
	return nil
}
