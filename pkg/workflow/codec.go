package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Parse converts a YAML document into a validated definition
func Parse(content []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(content, &def); err != nil {
		return Definition{}, fmt.Errorf("invalid YAML: %w", err)
	}

	for i := range def.Nodes {
		def.Nodes[i].Data = normalizeMap(def.Nodes[i].Data)
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}

	return def, nil
}

// Marshal serializes the definition as a YAML document
func (d Definition) Marshal() ([]byte, error) {
	content, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workflow: %w", err)
	}
	return content, nil
}

// Load reads and parses a definition from a file
func Load(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return Parse(content)
}

// Save validates the definition and writes it to a file
func (d Definition) Save(path string) error {
	if err := d.Validate(); err != nil {
		return err
	}

	content, err := d.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}

	return nil
}

// normalizeMap rewrites the interface-keyed maps the YAML decoder produces
// into string-keyed maps so node data can be re-encoded as JSON
func normalizeMap(input map[string]interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	result := make(map[string]interface{}, len(input))
	for k, v := range input {
		result[k] = normalizeValue(v)
	}
	return result
}

func normalizeValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(value))
		for k, item := range value {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			result[key] = normalizeValue(item)
		}
		return result
	case map[string]interface{}:
		return normalizeMap(value)
	case []interface{}:
		result := make([]interface{}, len(value))
		for i, item := range value {
			result[i] = normalizeValue(item)
		}
		return result
	default:
		return v
	}
}
