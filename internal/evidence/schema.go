package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// packetSchemaJSON describes the shape Decode requires of an evidence
// packet before it is handed to the verifier: the fields every packet must
// carry regardless of which optional sections (continuation, provenance,
// collaboration, policy) are attached.
const packetSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://witnessd.local/schema/evidence-packet.json",
  "type": "object",
  "required": ["packet_id", "version", "exported_at", "strength", "document", "checkpoints", "chain_hash", "claims"],
  "properties": {
    "packet_id": {"type": "string", "minLength": 1},
    "version": {"type": "integer", "minimum": 1},
    "strength": {"type": "integer", "minimum": 1, "maximum": 4},
    "chain_hash": {"type": "string"},
    "checkpoints": {"type": "array"},
    "claims": {"type": "array"},
    "document": {"type": "object"},
    "continuation": {
      "type": "object",
      "properties": {
        "series_id": {"type": "string", "minLength": 1},
        "packet_sequence": {"type": "integer", "minimum": 0},
        "cumulative_summary": {
          "type": "object",
          "properties": {
            "packets_in_series": {"type": "integer", "minimum": 1}
          },
          "required": ["packets_in_series"]
        }
      },
      "required": ["series_id", "packet_sequence", "cumulative_summary"]
    },
    "provenance": {
      "type": "object",
      "properties": {
        "parent_packet_id": {"type": "string", "minLength": 1},
        "parent_chain_hash": {"type": "string", "minLength": 1},
        "derivation_type": {"type": "string"}
      },
      "required": ["parent_packet_id", "parent_chain_hash", "derivation_type"]
    }
  }
}`

var packetSchema = mustCompilePacketSchema()

func mustCompilePacketSchema() *jsonschema.Schema {
	const id = "https://witnessd.local/schema/evidence-packet.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, bytes.NewReader([]byte(packetSchemaJSON))); err != nil {
		panic(fmt.Sprintf("evidence: invalid embedded schema: %v", err))
	}
	schema, err := compiler.Compile(id)
	if err != nil {
		panic(fmt.Sprintf("evidence: schema compile: %v", err))
	}
	return schema
}

// ValidateSchema checks that data is a well-formed evidence packet document
// per the embedded JSON Schema, independent of whether it also unmarshals
// cleanly into Packet. Decode calls this before returning so malformed or
// partially-truncated exports are rejected with a schema error rather than
// silently producing a zero-valued packet.
func ValidateSchema(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("evidence: invalid json: %w", err)
	}
	if err := packetSchema.Validate(doc); err != nil {
		return fmt.Errorf("evidence: schema validation: %w", err)
	}
	return nil
}
