package manager

import (
	"context"

	"github.com/metaobjects/metaobjects/internal/orm/object"
)

// Listener receives persistence events. Before runs after auto fields are
// stamped and before the write, After runs once the write succeeded and the
// object state was updated. Errors returned by Before and After are logged
// and do not stop the operation.
//
// OnError is called for every failed operation. obj is nil for failures that
// do not belong to one object, such as a failed query.
type Listener interface {
	Before(ctx context.Context, op Operation, obj *object.Object) error
	After(ctx context.Context, op Operation, obj *object.Object) error
	OnError(ctx context.Context, op Operation, obj *object.Object, err error)
}

// ListenerFuncs adapts functions to a Listener. Nil functions are skipped.
type ListenerFuncs struct {
	BeforeFunc  func(ctx context.Context, op Operation, obj *object.Object) error
	AfterFunc   func(ctx context.Context, op Operation, obj *object.Object) error
	OnErrorFunc func(ctx context.Context, op Operation, obj *object.Object, err error)
}

func (l ListenerFuncs) Before(ctx context.Context, op Operation, obj *object.Object) error {
	if l.BeforeFunc == nil {
		return nil
	}
	return l.BeforeFunc(ctx, op, obj)
}

func (l ListenerFuncs) After(ctx context.Context, op Operation, obj *object.Object) error {
	if l.AfterFunc == nil {
		return nil
	}
	return l.AfterFunc(ctx, op, obj)
}

func (l ListenerFuncs) OnError(ctx context.Context, op Operation, obj *object.Object, err error) {
	if l.OnErrorFunc != nil {
		l.OnErrorFunc(ctx, op, obj, err)
	}
}
