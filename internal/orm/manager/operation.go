package manager

import (
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/mapping"
)

// Field attributes the manager reads.
const (
	IsKey      = metadata.AttrIsKey
	IsReadOnly = metadata.AttrIsReadOnly
	Auto       = metadata.AttrAuto
)

// Values of the auto attribute.
const (
	// AutoCreate stamps the current time when the object is created
	AutoCreate = mapping.AutoValueCreate
	// AutoUpdate stamps the current time on every create and update
	AutoUpdate = mapping.AutoValueUpdate
	// AutoUUID fills an empty string key with a random UUID on create
	AutoUUID = mapping.AutoValueUUID
	// AutoID is assigned by the driver from a sequence before the insert
	AutoID = mapping.AutoValueID
	// AutoLastID is read back by the driver after the insert
	AutoLastID = mapping.AutoValueLast
	// AutoIncrement is assigned by the database and not read back
	AutoIncrement = mapping.AutoValueIncrement
)

// Operation is the kind of persistence call an event or error belongs to.
type Operation int

const (
	Create Operation = iota
	Update
	Delete
	Load
	Query
)

func (o Operation) String() string {
	switch o {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Load:
		return "load"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

// AutoPhase tells when an auto field gets its value.
type AutoPhase int

const (
	// Prior fields are stamped by the manager before the write
	Prior AutoPhase = iota
	// During fields are assigned by the driver as part of the insert
	During
	// Post fields are read back by the driver after the insert
	Post
)

func (p AutoPhase) String() string {
	switch p {
	case Prior:
		return "prior"
	case During:
		return "during"
	case Post:
		return "post"
	default:
		return "unknown"
	}
}

// AutoField is a field with an auto attribute.
type AutoField struct {
	Field    string
	Strategy string
	Type     metadata.DataType
}

// Phase returns when the field gets its value.
func (a AutoField) Phase() AutoPhase {
	switch a.Strategy {
	case AutoID, AutoIncrement:
		return During
	case AutoLastID:
		return Post
	default:
		return Prior
	}
}

// stampsOn reports whether the manager sets the field for op.
func (a AutoField) stampsOn(op Operation) bool {
	switch a.Strategy {
	case AutoCreate, AutoUUID:
		return op == Create
	case AutoUpdate:
		return op == Create || op == Update
	default:
		return false
	}
}
