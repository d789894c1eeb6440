package object

// StateAware is the capability of objects that track whether they are new,
// modified or deleted. Only objects of a managed MetaObject have it.
type StateAware interface {
	IsNew() bool
	IsModified() bool
	IsDeleted() bool
	IsFieldModified(field string) bool
	ModifiedFields() []string

	SetNew(bool)
	SetModified(bool)
	SetDeleted(bool)

	// MarkDeleted flags the object so that storing it deletes it.
	MarkDeleted()
}

// AsStateAware returns the state capability of obj when its MetaObject is
// state aware.
func AsStateAware(obj *Object) (StateAware, bool) {
	if obj == nil || !obj.meta.IsStateAware() {
		return nil, false
	}
	return stateView{obj}, true
}

type stateView struct {
	o *Object
}

func (s stateView) IsNew() bool {
	s.o.mu.RLock()
	defer s.o.mu.RUnlock()
	return s.o.isNew
}

func (s stateView) IsModified() bool {
	s.o.mu.RLock()
	defer s.o.mu.RUnlock()
	return s.o.modified
}

func (s stateView) IsDeleted() bool {
	s.o.mu.RLock()
	defer s.o.mu.RUnlock()
	return s.o.deleted
}

func (s stateView) IsFieldModified(field string) bool {
	return s.o.Changed(field)
}

func (s stateView) ModifiedFields() []string {
	return s.o.ChangedFields()
}

func (s stateView) SetNew(v bool) {
	s.o.mu.Lock()
	defer s.o.mu.Unlock()
	s.o.isNew = v
}

// SetModified(false) also makes the current values the clean baseline.
func (s stateView) SetModified(v bool) {
	s.o.mu.Lock()
	defer s.o.mu.Unlock()
	s.o.modified = v
	if !v {
		s.o.tracker.reset(s.o.values)
	}
}

func (s stateView) SetDeleted(v bool) {
	s.o.mu.Lock()
	defer s.o.mu.Unlock()
	s.o.deleted = v
}

func (s stateView) MarkDeleted() {
	s.SetDeleted(true)
}
