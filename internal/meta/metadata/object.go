package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IsObject reports whether the node describes an object.
func (n *Node) IsObject() bool {
	return strings.EqualFold(n.typ, TypeObject)
}

// IsField reports whether the node describes a field.
func (n *Node) IsField() bool {
	return strings.EqualFold(n.typ, TypeField)
}

// IsStateAware reports whether objects of this type track new/modified/deleted
// state.
func (n *Node) IsStateAware() bool {
	return n.IsObject() && strings.EqualFold(n.subType, ObjectManaged)
}

// Attr returns the named attribute child.
func (n *Node) Attr(name string) (*Node, bool) {
	c, err := n.Child(name, TypeAttr)
	if err != nil {
		return nil, false
	}
	return c, true
}

// AttrValue returns the value of the named attribute.
func (n *Node) AttrValue(name string) (any, bool) {
	a, ok := n.Attr(name)
	if !ok {
		return nil, false
	}
	return a.Value(), true
}

// AttrString returns the named attribute rendered as a string.
func (n *Node) AttrString(name string) (string, bool) {
	v, ok := n.AttrValue(name)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// AttrBool returns the named attribute as a boolean. Missing attributes are
// false; strings are parsed.
func (n *Node) AttrBool(name string) bool {
	v, ok := n.AttrValue(name)
	if !ok || v == nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

// AttrInt returns the named attribute as an int.
func (n *Node) AttrInt(name string) (int, bool) {
	v, ok := n.AttrValue(name)
	if !ok || v == nil {
		return 0, false
	}
	i, err := Long.Coerce(v)
	if err != nil {
		return 0, false
	}
	return int(i.(int64)), true
}

// AttrProperties returns the named properties attribute.
func (n *Node) AttrProperties(name string) (map[string]string, bool) {
	v, ok := n.AttrValue(name)
	if !ok || v == nil {
		return nil, false
	}
	props, err := Properties.Coerce(v)
	if err != nil {
		return nil, false
	}
	return props.(map[string]string), true
}

// Super returns the object named by the "super" attribute.
func (n *Node) Super() (*Node, bool, error) {
	name, ok := n.AttrString(AttrSuper)
	if !ok || name == "" {
		return nil, false, nil
	}
	s, err := n.tree.Object(name)
	if err != nil {
		return nil, false, fmt.Errorf("super object of %s: %w", n.Path(), err)
	}
	return s, true, nil
}

// Fields returns the fields of an object, inherited fields first. A field
// redeclared by a sub object replaces the inherited one in place. Fields the
// super chain cannot supply are left out; use FieldsErr to see why.
func (n *Node) Fields() []*Node {
	fields, _ := n.fields(make(map[NodeID]bool))
	return fields
}

// FieldsErr is Fields, also returning the error of a missing super object or
// a super cycle. The fields found so far are returned with the error.
func (n *Node) FieldsErr() ([]*Node, error) {
	return n.fields(make(map[NodeID]bool))
}

func (n *Node) fields(visited map[NodeID]bool) ([]*Node, error) {
	if visited[n.id] {
		return nil, fmt.Errorf("super cycle at %s", n.Path())
	}
	visited[n.id] = true

	var out []*Node
	s, ok, err := n.Super()
	if ok {
		out, err = s.fields(visited)
	}

	for _, f := range n.Children(TypeField) {
		replaced := false
		for i, existing := range out {
			if existing.name == f.name {
				out[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out, err
}

// Field returns a field of the object, including inherited fields.
func (n *Node) Field(name string) (*Node, error) {
	fields := n.Fields()
	for _, f := range fields {
		if f.name == name {
			return f, nil
		}
	}

	available := make([]string, len(fields))
	for i, f := range fields {
		available[i] = f.name
	}
	sort.Strings(available)
	return nil, &NotFoundError{
		ParentPath: n.Path(),
		Kind:       TypeField,
		Name:       name,
		Available:  available,
	}
}

// FieldNames returns the names of Fields in order.
func (n *Node) FieldNames() []string {
	fields := n.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// ValidateObject checks that the super chain of an object is resolvable and
// acyclic.
func (n *Node) ValidateObject() error {
	if !n.IsObject() {
		return fmt.Errorf("%s is not an object", n.Path())
	}
	_, err := n.fields(make(map[NodeID]bool))
	if err != nil {
		return err
	}
	_, _, err = n.Super()
	return err
}
