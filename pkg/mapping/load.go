package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse reads a mapping from a YAML or JSON document whose top level is an
// object of column -> field key. Document order becomes column order.
func Parse(data []byte) (FieldMapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return FieldMapping{}, fmt.Errorf("decode mapping: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return FieldMapping{}, ErrEmptyMapping
	}
	return FromNode(doc.Content[0])
}

// LoadFile reads a standalone mapping file (.yaml, .yml or .json).
func LoadFile(path string) (FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FieldMapping{}, fmt.Errorf("read mapping file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return FieldMapping{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FromNode converts a YAML mapping node into a FieldMapping, keeping key order.
func FromNode(node *yaml.Node) (FieldMapping, error) {
	if node == nil {
		return FieldMapping{}, ErrEmptyMapping
	}
	if node.Kind != yaml.MappingNode {
		return FieldMapping{}, fmt.Errorf("mapping must be an object of column: field pairs (line %d)", node.Line)
	}

	entries := make([]Entry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return FieldMapping{}, fmt.Errorf("column %q: field key must be a string (line %d)", k.Value, v.Line)
		}
		entries = append(entries, Entry{Column: k.Value, Key: v.Value})
	}
	return New(entries...)
}

// Node renders m as an ordered YAML mapping node.
func (m FieldMapping) Node() *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range m.entries {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Column},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key},
		)
	}
	return node
}
