package skills

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor derives a JSON parameter schema from a typed params struct.
// Field descriptions come from `jsonschema:"description=..."` tags.
// Skills with simple parameter shapes use this instead of writing the
// schema by hand.
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	raw, err := schema.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("derive schema for %T: %v", v, err))
	}
	return raw
}

// validateAgainstSchema checks params against a compiled schema. The
// params map round-trips through JSON because the validator works on
// decoded JSON values.
func validateAgainstSchema(schema *santhosh.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return schema.Validate(decoded)
}
