package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeDefinition is the external form of a node. MaxRetries is optional and
// takes the configured default when omitted.
type NodeDefinition struct {
	ID         string   `json:"id" yaml:"id"`
	AgentRef   string   `json:"agent_ref" yaml:"agent_ref"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	EdgeType   EdgeType `json:"edge_type,omitempty" yaml:"edge_type,omitempty"`
	NextIDs    []string `json:"next_ids,omitempty" yaml:"next_ids,omitempty"`
	Condition  string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	TimeoutMs  int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Definition is a workflow as written in a JSON or YAML document or an API
// request body.
type Definition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []NodeDefinition `json:"nodes" yaml:"nodes"`
}

// ToNodes converts the definition to workflow nodes. Nodes without an edge
// type become sequential.
func (d *Definition) ToNodes(defaultMaxRetries int) []WorkflowNode {
	nodes := make([]WorkflowNode, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		retries := defaultMaxRetries
		if n.MaxRetries != nil {
			retries = *n.MaxRetries
		}
		edge := n.EdgeType
		if edge == "" {
			edge = EdgeSequential
		}
		nodes = append(nodes, WorkflowNode{
			ID:         n.ID,
			AgentRef:   n.AgentRef,
			Name:       n.Name,
			EdgeType:   edge,
			NextIDs:    append([]string(nil), n.NextIDs...),
			Condition:  n.Condition,
			MaxRetries: retries,
			TimeoutMs:  n.TimeoutMs,
		})
	}
	return nodes
}

// Validate applies the structural checks used at creation.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("definition has no name")
	}
	return ValidateNodes(d.ToNodes(0))
}

// DefinitionFromWorkflow exports a stored workflow.
func DefinitionFromWorkflow(wf *Workflow) *Definition {
	d := &Definition{Name: wf.Name, Description: wf.Description}
	for _, n := range wf.Nodes {
		retries := n.MaxRetries
		d.Nodes = append(d.Nodes, NodeDefinition{
			ID:         n.ID,
			AgentRef:   n.AgentRef,
			Name:       n.Name,
			EdgeType:   n.EdgeType,
			NextIDs:    append([]string(nil), n.NextIDs...),
			Condition:  n.Condition,
			MaxRetries: &retries,
			TimeoutMs:  n.TimeoutMs,
		})
	}
	return d
}

// ToJSON renders the definition as indented JSON.
func (d *Definition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// DefinitionFromJSON parses and validates a JSON definition.
func DefinitionFromJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// DefinitionFromYAML parses and validates a YAML definition.
func DefinitionFromYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// LoadDefinitionFile reads a definition, choosing the format by extension.
// Files without .json are read as YAML.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return DefinitionFromJSON(data)
	}
	return DefinitionFromYAML(data)
}
