package manager

import (
	"context"

	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/expression"
	"github.com/metaobjects/metaobjects/internal/orm/object"
	"github.com/metaobjects/metaobjects/internal/orm/query"
)

// Persister is the datastore behind a Manager. Implementations only move
// data; auto fields, listeners and state transitions are the Manager's job.
//
// Update and Delete return an ObjectNotFoundError when the object's row is
// gone, Load returns one when no object has the key values of obj.
type Persister interface {
	Create(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error
	Update(ctx context.Context, c connection.ObjectConnection, obj *object.Object, fields []string) error
	Delete(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error
	Load(ctx context.Context, c connection.ObjectConnection, obj *object.Object) error
	Query(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, opts *query.Options) ([]*object.Object, error)
	Count(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error)
	DeleteMany(ctx context.Context, c connection.ObjectConnection, meta *metadata.Node, exp expression.Expression) (int64, error)
}

// Connector opens the connections a Manager runs operations on. A Persister
// implementing it is used when no connector option is given.
type Connector interface {
	Connect(ctx context.Context) (connection.ObjectConnection, error)
}

// BulkCreator is implemented by persisters that insert many objects of one
// MetaObject at once.
type BulkCreator interface {
	CreateMany(ctx context.Context, c connection.ObjectConnection, objs []*object.Object) error
}

// FieldUpdate is one object of a bulk update with the fields to write.
type FieldUpdate struct {
	Object *object.Object
	Fields []string
}

// BulkUpdater is implemented by persisters that update many objects of one
// MetaObject at once.
type BulkUpdater interface {
	UpdateMany(ctx context.Context, c connection.ObjectConnection, updates []FieldUpdate) error
}
