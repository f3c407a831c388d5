package patch

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const patchSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["op", "project", "clientId"],
  "properties": {
    "op": {
      "enum": ["update", "updateCell", "addTask", "deleteTask", "addSubtask", "deleteSubtask", "reorderSubtask", "updateComment"]
    },
    "project": { "type": "string", "minLength": 1 },
    "user": { "type": "string" },
    "clientId": { "type": "string", "minLength": 1 },
    "stamp": {
      "type": "object",
      "required": ["seq", "base"],
      "properties": {
        "seq": { "type": "integer", "minimum": 0 },
        "base": { "type": "integer", "minimum": 0 }
      }
    },
    "taskId": { "type": "integer", "minimum": 1 },
    "parentId": { "type": "integer", "minimum": 0 },
    "field": { "type": "string" },
    "key": { "type": "string", "pattern": "^[0-9]+-[0-9]+$" },
    "cell": { "type": "object" },
    "comment": { "type": "string" },
    "direction": { "enum": ["up", "down"] },
    "task": {
      "type": "object",
      "required": ["id"],
      "properties": { "id": { "type": "integer", "minimum": 1 } }
    }
  },
  "allOf": [
    { "if": { "properties": { "op": { "const": "update" } } },
      "then": { "required": ["taskId", "field", "value"] } },
    { "if": { "properties": { "op": { "const": "updateCell" } } },
      "then": { "required": ["key", "cell"] } },
    { "if": { "properties": { "op": { "const": "addTask" } } },
      "then": { "required": ["task"] } },
    { "if": { "properties": { "op": { "const": "deleteTask" } } },
      "then": { "required": ["taskId"] } },
    { "if": { "properties": { "op": { "const": "addSubtask" } } },
      "then": { "required": ["parentId", "task"] } },
    { "if": { "properties": { "op": { "const": "deleteSubtask" } } },
      "then": { "required": ["parentId", "taskId"] } },
    { "if": { "properties": { "op": { "const": "reorderSubtask" } } },
      "then": { "required": ["taskId", "direction"] } },
    { "if": { "properties": { "op": { "const": "updateComment" } } },
      "then": { "required": ["key", "comment"] } }
  ]
}`

var patchSchemaLoader = gojsonschema.NewStringLoader(patchSchemaJSON)

// Validate checks raw wire bytes against the patch schema.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(patchSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidPatch, strings.Join(issues, "; "))
}
