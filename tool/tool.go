// Package tool defines the interface agent SDKs use to expose callable
// tools, and the session manager's own metadata tool built on top of it.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is the interface every tool registered with an agent must implement.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description explains what the tool does, shown to the model to
	// help it decide when to call the tool.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input. Type
	// must be "object".
	InputSchema() ToolSchema

	// Execute runs the tool against input, the raw JSON arguments the
	// model supplied, and returns the text sent back as the tool result.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolSchema is a JSON Schema object describing a tool's input.
type ToolSchema struct {
	Type        string                 `json:"type"`
	Properties  map[string]PropertyDef `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Description string                 `json:"description,omitempty"`
}

// PropertyDef defines a single property within a ToolSchema.
type PropertyDef struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Validate reports whether the schema is well-formed for use as a tool's
// top-level input schema.
func (s *ToolSchema) Validate() error {
	if s.Type != "object" {
		return fmt.Errorf("schema type must be 'object', got '%s'", s.Type)
	}
	return nil
}

// ToJSON converts the schema to the plain-map shape most agent SDKs
// expect when advertising tools to a model.
func (s *ToolSchema) ToJSON() map[string]any {
	result := map[string]any{"type": s.Type}
	if s.Description != "" {
		result["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.ToJSON()
		}
		result["properties"] = props
	}
	if len(s.Required) > 0 {
		result["required"] = s.Required
	}
	return result
}

// ToJSON converts a single property definition to a plain map.
func (p *PropertyDef) ToJSON() map[string]any {
	result := map[string]any{"type": p.Type}
	if p.Description != "" {
		result["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		result["enum"] = p.Enum
	}
	if p.Default != nil {
		result["default"] = p.Default
	}
	return result
}
