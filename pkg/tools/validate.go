// Argument validation.
//
// Validate checks the arguments the model produced against the tool's JSON
// Schema, coercing simple type mismatches (e.g. "5" → 5) in lenient mode and
// returning a readable error when validation fails.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validate validates args against the tool's schema and returns the
// normalised argument map.
//
// In strict mode unknown top-level parameters are rejected. In lenient mode
// a failing first pass is retried after coercing obvious type mismatches:
//   - a string holding a valid number when the schema wants number/integer,
//   - a number when the schema wants string,
//   - the strings "true"/"false" when the schema wants boolean.
//
// An uncompilable schema fails open: the arguments pass through unchanged.
func Validate(t *Tool, args map[string]any, strict bool) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	schemaBytes := t.Params
	if len(schemaBytes) == 0 {
		return args, nil
	}

	props := schemaProperties(schemaBytes)
	if strict {
		if unknown := unknownKeys(args, props); len(unknown) > 0 {
			return nil, fmt.Errorf("tool %q: unknown parameters: %s", t.Name, strings.Join(unknown, ", "))
		}
	}

	schema, err := compileSchema(schemaBytes)
	if err != nil {
		return args, nil
	}

	if err := validateMap(schema, args); err == nil {
		return args, nil
	}

	if strict {
		if err := validateMap(schema, args); err != nil {
			return nil, formatValidationError(t.Name, args, err)
		}
		return args, nil
	}

	coerced := coerceArgs(args, props)
	if err := validateMap(schema, coerced); err != nil {
		return nil, formatValidationError(t.Name, args, err)
	}
	return coerced, nil
}

// compileSchema compiles the schema bytes with a fresh compiler, avoiding
// resource-id collisions between tools.
func compileSchema(schemaBytes []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// validateMap round-trips the map through JSON and validates the instance.
func validateMap(schema *jsonschema.Schema, args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

type propertyType struct {
	Type string `json:"type"`
}

func schemaProperties(schemaBytes []byte) map[string]propertyType {
	var def struct {
		Properties map[string]propertyType `json:"properties"`
	}
	_ = json.Unmarshal(schemaBytes, &def)
	return def.Properties
}

func unknownKeys(args map[string]any, props map[string]propertyType) []string {
	var out []string
	for k := range args {
		if _, ok := props[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// coerceArgs applies type coercions to top-level properties.
func coerceArgs(args map[string]any, props map[string]propertyType) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		prop, ok := props[k]
		if !ok {
			out[k] = v
			continue
		}
		out[k] = coerceValue(v, prop.Type)
	}
	return out
}

func coerceValue(v any, targetType string) any {
	switch targetType {
	case "number", "integer":
		// Models sometimes quote numeric values.
		if s, ok := v.(string); ok {
			var n float64
			if err := json.Unmarshal([]byte(s), &n); err == nil {
				if targetType == "integer" {
					return int64(n)
				}
				return n
			}
		}
	case "string":
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%g", n)
		case int64:
			return fmt.Sprintf("%d", n)
		case json.Number:
			return n.String()
		}
	case "boolean":
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return v
}

func formatValidationError(toolName string, args map[string]any, err error) error {
	argsJSON, _ := json.MarshalIndent(args, "", "  ")
	return fmt.Errorf("tool %q argument validation failed:\n%v\n\nReceived:\n%s",
		toolName, err, argsJSON)
}
