// Package schema compiles and validates the manifest.json/proof.json
// documents (spec §3) against their JSON Schema definitions, the same
// compile-resource-then-validate pattern the teacher uses for tool argument
// schemas.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchemaJSON = `{
  "type": "object",
  "required": ["schema_version", "workcell_id", "branch_name", "issue", "toolchain", "quality_gates"],
  "properties": {
    "schema_version": {"type": "string"},
    "workcell_id": {"type": "string"},
    "branch_name": {"type": "string"},
    "issue": {
      "type": "object",
      "required": ["id", "title"],
      "properties": {
        "id": {"type": "string"},
        "title": {"type": "string"}
      }
    },
    "toolchain": {"type": "string"},
    "toolchain_config": {"type": "object"},
    "quality_gates": {"type": "object"},
    "speculate_mode": {"type": "boolean"},
    "speculate_tag": {"type": "string"}
  }
}`

const proofSchemaJSON = `{
  "type": "object",
  "required": ["schema_version", "workcell_id", "issue_id", "status", "patch", "verification", "metadata"],
  "properties": {
    "schema_version": {"type": "string"},
    "workcell_id": {"type": "string"},
    "issue_id": {"type": "string"},
    "status": {"enum": ["success", "partial", "failed", "timeout", "error"]},
    "patch": {"type": "object"},
    "verification": {"type": "object"},
    "metadata": {"type": "object"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "risk_classification": {"type": "string"}
  }
}`

var (
	once           sync.Once
	manifestSchema *jsonschema.Schema
	proofSchema    *jsonschema.Schema
	compileErr     error
)

func compile() {
	manifestSchema, compileErr = compileFrom("manifest.json", manifestSchemaJSON)
	if compileErr != nil {
		return
	}
	proofSchema, compileErr = compileFrom("proof.json", proofSchemaJSON)
}

func compileFrom(name, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", name, err)
	}
	return c.Compile(name)
}

// ValidateManifest checks a marshaled manifest.json document against the
// manifest schema.
func ValidateManifest(data []byte) error {
	once.Do(compile)
	if compileErr != nil {
		return compileErr
	}
	return validate(manifestSchema, data)
}

// ValidateProof checks a marshaled proof.json document against the proof
// schema.
func ValidateProof(data []byte) error {
	once.Do(compile)
	if compileErr != nil {
		return compileErr
	}
	return validate(proofSchema, data)
}

func validate(s *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return s.Validate(v)
}
