// Package metadata parses the free-form session header text into an ordered
// key/value structure.
//
// The text is a YAML mapping (block or flow style). Top-level values are
// either scalars or one nested mapping of scalars; the nested mappings are
// sections, normally one per bridge channel:
//
//	{TestName: Logi, Port1: {SensorName: Sen66_1, SensorId: '11', SampleRate: '1'}}
//
// Anything else (sequences, aliases, deeper nesting, duplicate keys) is rejected.
package metadata

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known keys.
const (
	KeyLabel      = "TestName"
	KeyAppInfo    = "appinfo"
	KeySensorName = "SensorName"
	KeySensorID   = "SensorId"
	KeySampleRate = "SampleRate"
)

// ErrInvalidMetadata is returned for text that is not a flat key/value structure.
var ErrInvalidMetadata = errors.New("invalid metadata")

// Field is a single key/value pair.
type Field struct {
	Key   string
	Value string
}

// Section is a named group of fields.
type Section struct {
	Name   string
	Fields []Field
}

// Get returns the value of key within the section.
func (s Section) Get(key string) (string, bool) {
	return lookup(s.Fields, key)
}

// Header is the parsed metadata, in source order.
type Header struct {
	Fields   []Field
	Sections []Section
}

// Parse parses text. Empty text yields an empty header.
func Parse(text string) (*Header, error) {
	h := &Header{}
	if strings.TrimSpace(text) == "" {
		return h, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("%w: expected a single document", ErrInvalidMetadata)
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping at line %d", ErrInvalidMetadata, root.Line)
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, err := scalarKey(root.Content[i], seen)
		if err != nil {
			return nil, err
		}

		value := root.Content[i+1]
		switch value.Kind {
		case yaml.ScalarNode:
			h.Fields = append(h.Fields, Field{Key: key, Value: value.Value})
		case yaml.MappingNode:
			section, err := parseSection(key, value)
			if err != nil {
				return nil, err
			}
			h.Sections = append(h.Sections, section)
		default:
			return nil, fmt.Errorf("%w: value of %q at line %d must be a scalar or a mapping", ErrInvalidMetadata, key, value.Line)
		}
	}

	return h, nil
}

func parseSection(name string, node *yaml.Node) (Section, error) {
	section := Section{Name: name}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, err := scalarKey(node.Content[i], seen)
		if err != nil {
			return Section{}, err
		}
		value := node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return Section{}, fmt.Errorf("%w: %s.%s at line %d must be a scalar", ErrInvalidMetadata, name, key, value.Line)
		}
		section.Fields = append(section.Fields, Field{Key: key, Value: value.Value})
	}
	return section, nil
}

func scalarKey(node *yaml.Node, seen map[string]bool) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("%w: non-scalar key at line %d", ErrInvalidMetadata, node.Line)
	}
	if node.Value == "" {
		return "", fmt.Errorf("%w: empty key at line %d", ErrInvalidMetadata, node.Line)
	}
	if seen[node.Value] {
		return "", fmt.Errorf("%w: duplicate key %q at line %d", ErrInvalidMetadata, node.Value, node.Line)
	}
	seen[node.Value] = true
	return node.Value, nil
}

// Get returns the value of a top-level scalar field.
func (h *Header) Get(key string) (string, bool) {
	return lookup(h.Fields, key)
}

// Label returns the session label (TestName), or "" when absent.
func (h *Header) Label() string {
	v, _ := h.Get(KeyLabel)
	return strings.TrimSpace(v)
}

// Section returns the named section.
func (h *Header) Section(name string) (Section, bool) {
	for _, s := range h.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// With returns a copy of h with key set to value. An existing top-level field
// keeps its position, a new one is prepended.
func (h *Header) With(key, value string) *Header {
	out := &Header{
		Fields:   make([]Field, 0, len(h.Fields)+1),
		Sections: h.Sections,
	}
	replaced := false
	for _, f := range h.Fields {
		if f.Key == key {
			f.Value = value
			replaced = true
		}
		out.Fields = append(out.Fields, f)
	}
	if !replaced {
		out.Fields = append([]Field{{Key: key, Value: value}}, out.Fields...)
	}
	return out
}

func lookup(fields []Field, key string) (string, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}
