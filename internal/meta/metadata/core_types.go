package metadata

import (
	"github.com/metaobjects/metaobjects/internal/meta/registry"
)

// Base types.
const (
	TypeRoot      = "metadata"
	TypeObject    = "object"
	TypeField     = "field"
	TypeAttr      = "attr"
	TypeValidator = "validator"
	TypeKey       = "key"

	SubTypeRoot = "root"
	SubTypeBase = "base"
)

// Object subtypes.
const (
	ObjectValue   = "value"
	ObjectManaged = "managed"
)

// Well known attribute names.
const (
	AttrSuper                  = "super"
	AttrIsKey                  = "isKey"
	AttrIsReadOnly             = "isReadOnly"
	AttrAuto                   = "auto"
	AttrLength                 = "length"
	AttrDefault                = "default"
	AttrDBTable                = "dbTable"
	AttrDBView                 = "dbView"
	AttrDBViewSQL              = "dbViewSQL"
	AttrDBColumn               = "dbColumn"
	AttrDBSequence             = "dbSequence"
	AttrDBSeqStart             = "dbSeqStart"
	AttrDBInheritance          = "dbInheritance"
	AttrDBForeignKey           = "dbForeignKey"
	AttrDBAllowDirtyWrite      = "dbAllowDirtyWrite"
	AttrDBDirtyWriteCheckField = "dbDirtyWriteCheckField"
	AttrIsIndex                = "isIndex"
	AttrIsUnique               = "isUnique"
	AttrIsViewOnly             = "isViewOnly"
)

// CoreProviderID is the id of the built-in type provider.
const CoreProviderID = "core"

// FieldSubTypes maps field subtypes to their data type.
var FieldSubTypes = map[string]DataType{
	"string":      String,
	"int":         Int,
	"long":        Long,
	"short":       Short,
	"byte":        Byte,
	"float":       Float,
	"double":      Double,
	"boolean":     Boolean,
	"date":        Date,
	"object":      Object,
	"stringArray": StringArray,
}

// AttrSubTypes maps attribute subtypes to their data type.
var AttrSubTypes = map[string]DataType{
	"string":      String,
	"int":         Int,
	"long":        Long,
	"boolean":     Boolean,
	"properties":  Properties,
	"stringArray": StringArray,
}

var (
	validatorSubTypes = []string{"required", "length", "regex", "numeric"}
	keySubTypes       = []string{"primary", "secondary", "foreign"}
)

func init() {
	registry.RegisterProvider(CoreProvider())
}

// CoreProvider returns the provider of the built-in metadata types.
func CoreProvider() registry.Provider {
	return registry.ProviderFunc{
		Name:  CoreProviderID,
		Order: 0,
		Desc:  "core metadata types: objects, fields, attributes, validators and keys",
		Fn:    RegisterCoreTypes,
	}
}

func nodeFactory(typ, subType string, dt DataType) registry.Factory {
	return func(name string) (any, error) {
		return newNode(typ, subType, name, dt), nil
	}
}

func define(typ, subType string, dt DataType, desc string, children ...registry.ChildRequirement) registry.TypeDefinition {
	d := registry.TypeDefinition{
		Type:           typ,
		SubType:        subType,
		Implementation: "metadata." + typ + "." + subType,
		Factory:        nodeFactory(typ, subType, dt),
		Description:    desc,
		Children:       children,
	}
	if subType != SubTypeBase && typ != TypeRoot {
		d.ParentType = typ
		d.ParentSubType = SubTypeBase
	}
	return d
}

func attr(name, subType string) registry.ChildRequirement {
	return registry.Optional(name, TypeAttr, subType)
}

// RegisterCoreTypes registers the built-in types into r.
func RegisterCoreTypes(r registry.Registrar) error {
	all := registry.Any

	defs := []registry.TypeDefinition{
		define(TypeRoot, SubTypeRoot, TypeUnknown, "Metadata root",
			registry.Optional(all, TypeObject, all),
			registry.Optional(all, TypeField, all),
			registry.Optional(all, TypeAttr, all),
		),
		define(TypeObject, SubTypeBase, TypeUnknown, "Base object",
			registry.Optional(all, TypeField, all),
			registry.Optional(all, TypeKey, all),
			attr(AttrSuper, "string"),
			attr(AttrDBTable, "string"),
			attr(AttrDBView, "string"),
			attr(AttrDBViewSQL, "string"),
			attr(AttrDBInheritance, "properties"),
			attr(AttrDBAllowDirtyWrite, "boolean"),
			attr(AttrDBDirtyWriteCheckField, "string"),
			registry.Optional(all, TypeAttr, all),
		),
		define(TypeField, SubTypeBase, TypeUnknown, "Base field",
			registry.Optional(all, TypeValidator, all),
			attr(AttrIsKey, "boolean"),
			attr(AttrIsReadOnly, "boolean"),
			attr(AttrAuto, "string"),
			attr(AttrDBColumn, "string"),
			attr(AttrDBSequence, "string"),
			attr(AttrDBSeqStart, "int"),
			attr(AttrIsIndex, "boolean"),
			attr(AttrIsUnique, "boolean"),
			attr(AttrIsViewOnly, "boolean"),
			attr(AttrDBForeignKey, "string"),
			attr(AttrLength, "int"),
			attr(AttrDefault, all),
			registry.Optional(all, TypeAttr, all),
		),
		define(TypeAttr, SubTypeBase, TypeUnknown, "Base attribute"),
		define(TypeValidator, SubTypeBase, TypeUnknown, "Base validator",
			registry.Optional(all, TypeAttr, all),
		),
		define(TypeKey, SubTypeBase, TypeUnknown, "Base key",
			attr("keys", "stringArray"),
			attr("foreignObject", "string"),
			registry.Optional(all, TypeAttr, all),
		),
		define(TypeObject, ObjectValue, TypeUnknown, "Value object"),
		define(TypeObject, ObjectManaged, TypeUnknown, "State-aware object"),
	}

	for subType, dt := range FieldSubTypes {
		defs = append(defs, define(TypeField, subType, dt, dt.String()+" field"))
	}
	for subType, dt := range AttrSubTypes {
		defs = append(defs, define(TypeAttr, subType, dt, dt.String()+" attribute"))
	}
	for _, subType := range validatorSubTypes {
		defs = append(defs, define(TypeValidator, subType, TypeUnknown, subType+" validator"))
	}
	for _, subType := range keySubTypes {
		defs = append(defs, define(TypeKey, subType, TypeUnknown, subType+" key"))
	}

	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
