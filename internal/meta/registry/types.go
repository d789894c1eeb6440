package registry

import (
	"fmt"
	"strings"
)

// Any is the wildcard accepted in every position of a ChildRequirement.
const Any = "*"

// Factory builds a new instance of a registered type with the given name.
type Factory func(name string) (any, error)

// ChildRequirement describes one acceptable child shape of a parent type.
type ChildRequirement struct {
	Name            string
	ExpectedType    string
	ExpectedSubType string
	Required        bool
}

// NewChildRequirement normalizes type and subType to lower case and turns
// empty positions into wildcards.
func NewChildRequirement(name, typ, subType string, required bool) ChildRequirement {
	return ChildRequirement{
		Name:            orAny(name),
		ExpectedType:    strings.ToLower(orAny(typ)),
		ExpectedSubType: strings.ToLower(orAny(subType)),
		Required:        required,
	}
}

// Optional is shorthand for an optional requirement.
func Optional(name, typ, subType string) ChildRequirement {
	return NewChildRequirement(name, typ, subType, false)
}

// Required is shorthand for a required requirement.
func Required(name, typ, subType string) ChildRequirement {
	return NewChildRequirement(name, typ, subType, true)
}

func orAny(s string) string {
	if s == "" {
		return Any
	}
	return s
}

// Matches reports whether a child with the given shape satisfies the
// requirement. A wildcard on either side matches anything in that position.
func (c ChildRequirement) Matches(typ, subType, name string) bool {
	return matchPos(c.ExpectedType, strings.ToLower(typ)) &&
		matchPos(c.ExpectedSubType, strings.ToLower(subType)) &&
		matchPos(c.Name, name)
}

func matchPos(pattern, value string) bool {
	if pattern == Any || pattern == "" || value == Any {
		return true
	}
	return pattern == value
}

// Key identifies the exact (type, subType, name) triple.
func (c ChildRequirement) Key() string {
	return c.ExpectedType + "." + c.ExpectedSubType + ":" + c.Name
}

// String renders e.g. "optional attribute 'dbTable' of type attr.string".
func (c ChildRequirement) String() string {
	var b strings.Builder
	if c.Required {
		b.WriteString("required")
	} else {
		b.WriteString("optional")
	}

	switch c.ExpectedType {
	case "attr":
		b.WriteString(" attribute")
	case "field":
		b.WriteString(" field")
	default:
		b.WriteString(" child")
	}

	if c.Name != Any {
		fmt.Fprintf(&b, " '%s'", c.Name)
	}
	fmt.Fprintf(&b, " of type %s.%s", c.ExpectedType, c.ExpectedSubType)
	return b.String()
}

// TypeDefinition is the registered descriptor of a (type, subType) pair.
type TypeDefinition struct {
	Type    string
	SubType string

	// Implementation identifies the factory binding. Two registrations of the
	// same pair are only compatible if their implementations are equal.
	Implementation string
	Factory        Factory

	ParentType    string
	ParentSubType string

	Description string
	Children    []ChildRequirement
}

// QualifiedName returns "type.subType".
func (d TypeDefinition) QualifiedName() string {
	return qualify(d.Type, d.SubType)
}

// HasParent reports whether the definition inherits from another type.
func (d TypeDefinition) HasParent() bool {
	return d.ParentType != "" && d.ParentSubType != ""
}

// ParentQualifiedName returns the parent's "type.subType" or "".
func (d TypeDefinition) ParentQualifiedName() string {
	if !d.HasParent() {
		return ""
	}
	return qualify(d.ParentType, d.ParentSubType)
}

// SupportedChildrenDescription renders the direct requirements only.
func (d TypeDefinition) SupportedChildrenDescription() string {
	return describeRequirements(d.Children)
}

func (d TypeDefinition) clone() TypeDefinition {
	c := d
	c.Children = append([]ChildRequirement(nil), d.Children...)
	return c
}

func (d TypeDefinition) String() string {
	if d.HasParent() {
		return fmt.Sprintf("%s (%s) extends %s", d.QualifiedName(), d.Implementation, d.ParentQualifiedName())
	}
	return fmt.Sprintf("%s (%s)", d.QualifiedName(), d.Implementation)
}

func describeRequirements(reqs []ChildRequirement) string {
	if len(reqs) == 0 {
		return "No children supported"
	}
	parts := make([]string, len(reqs))
	for i, r := range reqs {
		parts[i] = r.String()
	}
	return "Supports: " + strings.Join(parts, ", ")
}

func qualify(typ, subType string) string {
	return strings.ToLower(typ) + "." + strings.ToLower(subType)
}
