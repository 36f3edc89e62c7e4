package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DocumentFormat is the serialization of a workflow definition document.
type DocumentFormat string

const (
	FormatJSON DocumentFormat = "json"
	FormatYAML DocumentFormat = "yaml"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeDefinition parses a workflow definition document.
func DecodeDefinition(data []byte, format DocumentFormat) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to decode yaml definition: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to decode json definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
	return &def, nil
}

// EncodeDefinition serializes a workflow definition document.
func EncodeDefinition(def *WorkflowDefinition, format DocumentFormat) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(def)
	case FormatJSON:
		return json.MarshalIndent(def, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
}
