package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metaobjects/metaobjects/internal/orm/connection"
	"github.com/metaobjects/metaobjects/internal/orm/object"
)

const refPrefix = "object:"

// ObjectRef names one stored object: object:<type>:<key1>-<key2>.
type ObjectRef struct {
	Type string
	// ID holds the key values joined with "-"
	ID string
}

func (r ObjectRef) String() string {
	return refPrefix + r.Type + ":" + r.ID
}

// Keys splits the ID into n key values. The last value keeps any further
// dashes, so a single UUID key survives.
func (r ObjectRef) Keys(n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, r.Type)
	}
	keys := strings.SplitN(r.ID, "-", n)
	if len(keys) != n {
		return nil, fmt.Errorf("%w: %s needs %d key values", ErrInvalidRef, r, n)
	}
	return keys, nil
}

// ParseRef parses the String form of an ObjectRef.
func ParseRef(s string) (ObjectRef, error) {
	rest, ok := strings.CutPrefix(s, refPrefix)
	if !ok {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	return ObjectRef{Type: rest[:i], ID: rest[i+1:]}, nil
}

// GetObjectRef returns the reference of obj. Every key field must be set.
func (m *Manager) GetObjectRef(obj *object.Object) (ObjectRef, error) {
	keys, err := m.PrimaryKeys(obj.Meta())
	if err != nil {
		return ObjectRef{}, err
	}

	parts := make([]string, len(keys))
	for i, k := range keys {
		v, err := obj.Get(k)
		if err != nil {
			return ObjectRef{}, err
		}
		if v == nil {
			return ObjectRef{}, fmt.Errorf("%w: %s.%s is not set", ErrNoPrimaryKey, obj.TypeName(), k)
		}
		if t, ok := v.(time.Time); ok {
			parts[i] = t.UTC().Format(time.RFC3339Nano)
		} else {
			parts[i] = fmt.Sprint(v)
		}
	}
	return ObjectRef{Type: obj.TypeName(), ID: strings.Join(parts, "-")}, nil
}

// GetObjectByRef loads the object ref names. With an object cache the cache
// is tried first.
func (m *Manager) GetObjectByRef(ctx context.Context, c connection.ObjectConnection, ref string) (*object.Object, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	if m.tree == nil {
		return nil, ErrNoMetadata
	}
	meta, err := m.tree.Object(r.Type)
	if err != nil {
		return nil, err
	}
	keys, err := m.PrimaryKeys(meta)
	if err != nil {
		return nil, err
	}
	values, err := r.Keys(len(keys))
	if err != nil {
		return nil, err
	}

	obj, err := object.New(meta)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		cached, ok, err := m.cache.Get(ctx, r.String())
		if err != nil {
			m.logger.Warn("object cache get failed", zap.Stringer("ref", r), zap.Error(err))
		} else if ok {
			if err := obj.Load(cached); err == nil {
				return obj, nil
			}
			_ = m.cache.Delete(ctx, r.String())
		}
	}

	for i, k := range keys {
		if err := obj.Set(k, values[i]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRef, r, err)
		}
	}
	if err := m.LoadObject(ctx, c, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// FindObjectByRef is GetObjectByRef reporting a missing object with false.
func (m *Manager) FindObjectByRef(ctx context.Context, c connection.ObjectConnection, ref string) (*object.Object, bool, error) {
	obj, err := m.GetObjectByRef(ctx, c, ref)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return obj, true, nil
}
