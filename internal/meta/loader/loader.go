// Package loader reads metadata definitions from YAML documents into a
// metadata.Tree.
//
// A document lists top-level objects and, optionally, other root children:
//
//	objects:
//	  - name: Person
//	    subType: managed
//	    attrs:
//	      dbTable: person
//	    fields:
//	      - name: id
//	        subType: long
//	        attrs: {isKey: true, auto: id}
//	      - name: name
//
// attrs is a shorthand for attribute children. The attribute subtype comes
// from the registry when the parent names the attribute with a concrete
// subtype, otherwise from the YAML value: booleans, integers, sequences
// (stringArray), mappings (properties) and everything else as string.
package loader

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"gopkg.in/yaml.v3"
)

// Node is one element of a metadata document.
type Node struct {
	Type     string    `yaml:"type"`
	SubType  string    `yaml:"subType"`
	Name     string    `yaml:"name"`
	Value    any       `yaml:"value"`
	Attrs    yaml.Node `yaml:"attrs"`
	Fields   []Node    `yaml:"fields"`
	Children []Node    `yaml:"children"`
}

// Document is the top level of a metadata file.
type Document struct {
	Objects  []Node `yaml:"objects"`
	Children []Node `yaml:"children"`
}

// Parse decodes a metadata document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFiles loads every file into tree in order and freezes it. On failure
// the tree is destroyed.
func LoadFiles(tree *metadata.Tree, paths ...string) error {
	docs := make([]source, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read metadata file: %w", err)
		}
		docs = append(docs, source{name: p, data: data})
	}
	return load(tree, docs)
}

// LoadBytes loads a single in-memory document into tree and freezes it.
func LoadBytes(tree *metadata.Tree, data []byte) error {
	return load(tree, []source{{name: "<bytes>", data: data}})
}

type source struct {
	name string
	data []byte
}

func load(tree *metadata.Tree, sources []source) (err error) {
	if err := tree.BeginLoading(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tree.Destroy()
		}
	}()

	for _, src := range sources {
		doc, err := Parse(src.data)
		if err != nil {
			return fmt.Errorf("%s: %w", src.name, err)
		}
		b := builder{tree: tree, reg: tree.Registry()}
		if err := b.document(doc); err != nil {
			return fmt.Errorf("%s: %w", src.name, err)
		}
	}
	return tree.CompleteLoading()
}

type builder struct {
	tree *metadata.Tree
	reg  *registry.Registry
}

func (b builder) document(doc *Document) error {
	root := b.tree.Root()
	for i := range doc.Objects {
		decl := doc.Objects[i]
		if decl.Type == "" {
			decl.Type = metadata.TypeObject
		}
		if decl.SubType == "" {
			decl.SubType = metadata.ObjectValue
		}
		if err := b.node(root, decl); err != nil {
			return err
		}
	}
	for _, decl := range doc.Children {
		if err := b.node(root, decl); err != nil {
			return err
		}
	}
	return nil
}

func (b builder) node(parent *metadata.Node, decl Node) error {
	if decl.Type == "" || decl.SubType == "" {
		return fmt.Errorf("%s: node '%s' needs both type and subType", parent.Path(), decl.Name)
	}
	if decl.Name == "" {
		return fmt.Errorf("%s: %s.%s node has no name", parent.Path(), decl.Type, decl.SubType)
	}

	n, err := b.tree.NewChild(parent, decl.Type, decl.SubType, decl.Name)
	if err != nil {
		return err
	}
	if decl.Value != nil {
		if err := n.SetValue(decl.Value); err != nil {
			return err
		}
	}
	if err := b.attrs(n, &decl.Attrs); err != nil {
		return err
	}

	for _, f := range decl.Fields {
		if f.Type == "" {
			f.Type = metadata.TypeField
		}
		if f.SubType == "" {
			f.SubType = "string"
		}
		if err := b.node(n, f); err != nil {
			return err
		}
	}
	for _, c := range decl.Children {
		if err := b.node(n, c); err != nil {
			return err
		}
	}
	return nil
}

func (b builder) attrs(parent *metadata.Node, m *yaml.Node) error {
	if m.Kind == 0 {
		return nil
	}
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: attrs must be a mapping (line %d)", parent.Path(), m.Line)
	}

	for i := 0; i+1 < len(m.Content); i += 2 {
		name := m.Content[i].Value
		val := m.Content[i+1]

		subType := b.declaredSubType(parent, name)
		if subType == "" {
			subType = inferSubType(val)
		}

		var v any
		if err := val.Decode(&v); err != nil {
			return fmt.Errorf("%s: attribute '%s': %w", parent.Path(), name, err)
		}

		a, err := b.tree.NewChild(parent, metadata.TypeAttr, subType, name)
		if err != nil {
			return err
		}
		if err := a.SetValue(v); err != nil {
			return err
		}
	}
	return nil
}

// declaredSubType returns the attribute subtype the parent's type requires for
// name, or "" when the requirement is a wildcard.
func (b builder) declaredSubType(parent *metadata.Node, name string) string {
	for _, req := range b.reg.EffectiveRequirements(parent.Type(), parent.SubType()) {
		if req.Name == name && strings.EqualFold(req.ExpectedType, metadata.TypeAttr) && req.ExpectedSubType != registry.Any {
			for sub := range metadata.AttrSubTypes {
				if strings.EqualFold(sub, req.ExpectedSubType) {
					return sub
				}
			}
			return req.ExpectedSubType
		}
	}
	return ""
}

func inferSubType(v *yaml.Node) string {
	switch v.Kind {
	case yaml.SequenceNode:
		return "stringArray"
	case yaml.MappingNode:
		return "properties"
	}

	switch v.ShortTag() {
	case "!!bool":
		return "boolean"
	case "!!int":
		var n int64
		if err := v.Decode(&n); err == nil && (n > math.MaxInt32 || n < math.MinInt32) {
			return "long"
		}
		return "int"
	}
	return "string"
}
