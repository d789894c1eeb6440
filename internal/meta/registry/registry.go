// Package registry provides the metadata type registry: the mapping from
// (type, subType) identities to type definitions, their inheritance chains
// and the child-acceptance rules derived from them.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Registry holds every registered TypeDefinition. It is safe for concurrent
// use. Provider discovery runs exactly once, on first access or on Load.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]TypeDefinition
	global map[string][]ChildRequirement

	loadMu          sync.Mutex
	loaded          atomic.Bool
	loadErr         error
	providers       []Provider
	loadedProviders []string

	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for discovery and registration events.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProviders sets the providers run by the discovery pass.
func WithProviders(providers ...Provider) Option {
	return func(r *Registry) {
		r.providers = append(r.providers, providers...)
	}
}

// New creates an empty registry. Providers given through WithProviders are
// run lazily.
func New(opts ...Option) *Registry {
	r := &Registry{
		types:  make(map[string]TypeDefinition),
		global: make(map[string][]ChildRequirement),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load runs the provider discovery pass if it has not run yet and returns its
// outcome. Concurrent callers block until the single pass finishes, so a
// provider must not call back into the Registry; see Provider.
func (r *Registry) Load() error {
	if r.loaded.Load() {
		return r.loadErr
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.loaded.Load() {
		return r.loadErr
	}

	r.loadErr = r.discover()
	r.loaded.Store(true)
	return r.loadErr
}

func (r *Registry) discover() error {
	ordered, err := orderProviders(r.providers)
	if err != nil {
		r.logger.Error("provider ordering failed", zap.Error(err))
		return err
	}

	reg := bootstrap{r: r}
	for _, p := range ordered {
		r.logger.Debug("loading type provider",
			zap.String("provider", p.ID()),
			zap.String("description", p.Description()))

		if err := p.RegisterTypes(reg); err != nil {
			r.logger.Error("type provider failed", zap.String("provider", p.ID()), zap.Error(err))
			return fmt.Errorf("type provider %s: %w", p.ID(), err)
		}
		r.mu.Lock()
		r.loadedProviders = append(r.loadedProviders, p.ID())
		r.mu.Unlock()
	}

	r.logger.Debug("type registry loaded",
		zap.Int("providers", len(ordered)),
		zap.Int("types", r.countLocked()))
	return nil
}

func (r *Registry) countLocked() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Register adds a type definition. Registering the same pair again with the
// same implementation is a no-op; a different implementation is a
// ConflictError. A definition whose parent chain reaches itself is rejected.
func (r *Registry) Register(def TypeDefinition) error {
	_ = r.Load()
	return r.register(def)
}

func (r *Registry) register(def TypeDefinition) error {
	if def.Type == "" || def.SubType == "" {
		return fmt.Errorf("%w: type and subType are required", ErrInvalidDefinition)
	}
	if def.Factory == nil {
		return fmt.Errorf("%w: %s has no factory", ErrInvalidDefinition, def.QualifiedName())
	}
	if def.Implementation == "" {
		return fmt.Errorf("%w: %s has no implementation name", ErrInvalidDefinition, def.QualifiedName())
	}
	if (def.ParentType == "") != (def.ParentSubType == "") {
		return fmt.Errorf("%w: %s has an incomplete parent", ErrInvalidDefinition, def.QualifiedName())
	}

	key := def.QualifiedName()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[key]; ok {
		if existing.Implementation == def.Implementation {
			return nil
		}
		err := &ConflictError{
			QualifiedName: key,
			Existing:      existing.Implementation,
			Requested:     def.Implementation,
		}
		r.logger.Error("type registration conflict", zap.Error(err))
		return err
	}

	if chain := r.cycleFrom(key, def.ParentQualifiedName()); chain != nil {
		return &InheritanceCycleError{Chain: chain}
	}

	r.types[key] = def.clone()
	r.logger.Debug("registered type", zap.String("type", key), zap.String("implementation", def.Implementation))
	return nil
}

// cycleFrom walks the parent chain starting at parent and returns the chain
// if it leads back to key. Unregistered parents end the walk.
func (r *Registry) cycleFrom(key, parent string) []string {
	chain := []string{key}
	visited := map[string]bool{key: true}
	for cur := parent; cur != ""; {
		chain = append(chain, cur)
		if cur == key {
			return chain
		}
		if visited[cur] {
			return nil
		}
		visited[cur] = true
		d, ok := r.types[cur]
		if !ok {
			return nil
		}
		cur = d.ParentQualifiedName()
	}
	return nil
}

// Get returns the definition registered for the pair. A miss is not an error.
func (r *Registry) Get(typ, subType string) (TypeDefinition, bool) {
	_ = r.Load()
	return r.get(typ, subType)
}

func (r *Registry) get(typ, subType string) (TypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.types[qualify(typ, subType)]
	if !ok {
		return TypeDefinition{}, false
	}
	return d.clone(), true
}

// Exists reports whether the pair is registered.
func (r *Registry) Exists(typ, subType string) bool {
	_, ok := r.Get(typ, subType)
	return ok
}

// EffectiveRequirements returns the direct requirements of the type followed
// by those of each ancestor and the global requirements for the type. Only
// exact duplicate triples collapse.
func (r *Registry) EffectiveRequirements(typ, subType string) []ChildRequirement {
	_ = r.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effectiveLocked(typ, subType)
}

func (r *Registry) effectiveLocked(typ, subType string) []ChildRequirement {
	var out []ChildRequirement
	seen := make(map[string]bool)
	add := func(reqs []ChildRequirement) {
		for _, req := range reqs {
			if seen[req.Key()] {
				continue
			}
			seen[req.Key()] = true
			out = append(out, req)
		}
	}

	visited := make(map[string]bool)
	for key := qualify(typ, subType); key != "" && !visited[key]; {
		visited[key] = true
		d, ok := r.types[key]
		if !ok {
			break
		}
		add(d.Children)
		key = d.ParentQualifiedName()
	}

	add(r.global[qualify(typ, subType)])
	add(r.global[qualify(typ, Any)])
	return out
}

// AcceptsChild reports whether a parent of the given type accepts a child of
// the given shape. It never fails; an unknown parent accepts nothing.
func (r *Registry) AcceptsChild(parentType, parentSubType, childType, childSubType, childName string) bool {
	for _, req := range r.EffectiveRequirements(parentType, parentSubType) {
		if req.Matches(childType, childSubType, childName) {
			return true
		}
	}
	return false
}

// CreateInstance invokes the factory bound to the pair.
func (r *Registry) CreateInstance(typ, subType, name string) (any, error) {
	if err := r.Load(); err != nil {
		return nil, fmt.Errorf("type registry failed to load: %w", err)
	}

	r.mu.RLock()
	d, ok := r.types[qualify(typ, subType)]
	var available []string
	if !ok {
		available = r.namesLocked()
	}
	r.mu.RUnlock()

	if !ok {
		return nil, &TypeNotFoundError{QualifiedName: qualify(typ, subType), Available: available}
	}

	v, err := d.Factory(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s '%s': %w", d.QualifiedName(), name, err)
	}
	return v, nil
}

// SupportedChildrenDescription renders the effective child rules of a type
// for use in error messages.
func (r *Registry) SupportedChildrenDescription(typ, subType string) string {
	d, ok := r.Get(typ, subType)
	if !ok {
		return fmt.Sprintf("Unknown type %s. No children supported", qualify(typ, subType))
	}

	desc := d.Description
	if desc == "" {
		desc = d.QualifiedName()
	}
	return desc + ". " + describeRequirements(r.EffectiveRequirements(typ, subType))
}

// AddGlobalRequirement adds a requirement that applies to every parent of the
// given type and subType. An empty or "*" subType applies to all subtypes.
func (r *Registry) AddGlobalRequirement(parentType, parentSubType string, req ChildRequirement) {
	_ = r.Load()
	r.addGlobal(parentType, parentSubType, req)
}

func (r *Registry) addGlobal(parentType, parentSubType string, req ChildRequirement) {
	key := qualify(parentType, orAny(parentSubType))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[key] = append(r.global[key], req)
}

// Extend appends requirements to an already registered type.
func (r *Registry) Extend(typ, subType string, reqs ...ChildRequirement) error {
	_ = r.Load()
	return r.extend(typ, subType, reqs...)
}

func (r *Registry) extend(typ, subType string, reqs ...ChildRequirement) error {
	key := qualify(typ, subType)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.types[key]
	if !ok {
		return &TypeNotFoundError{QualifiedName: key, Available: r.namesLocked()}
	}

	ext := d.clone()
	ext.Children = append(ext.Children, reqs...)
	r.types[key] = ext
	return nil
}

// Types returns every definition sorted by qualified name.
func (r *Registry) Types() []TypeDefinition {
	_ = r.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TypeDefinition, 0, len(r.types))
	for _, d := range r.types {
		out = append(out, d.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}

// TypeNames returns the sorted qualified names of every registered type.
func (r *Registry) TypeNames() []string {
	_ = r.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.types))
	for k := range r.types {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SubTypes returns the sorted subtypes registered for a type.
func (r *Registry) SubTypes(typ string) []string {
	prefix := strings.ToLower(typ) + "."
	var out []string
	for _, d := range r.Types() {
		if strings.HasPrefix(d.QualifiedName(), prefix) {
			out = append(out, d.SubType)
		}
	}
	return out
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	_ = r.Load()
	return r.countLocked()
}

// Providers returns the ids of the providers loaded so far, in load order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.loadedProviders...)
}

// Clear removes all registered types and global requirements (useful for
// testing). Discovery does not run again.
func (r *Registry) Clear() {
	_ = r.Load()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[string]TypeDefinition)
	r.global = make(map[string][]ChildRequirement)
}

// bootstrap is the Registrar handed to providers. It skips the load check so
// providers can register while discovery holds the load lock.
type bootstrap struct {
	r *Registry
}

func (b bootstrap) Register(def TypeDefinition) error {
	return b.r.register(def)
}

func (b bootstrap) AddGlobalRequirement(parentType, parentSubType string, req ChildRequirement) {
	b.r.addGlobal(parentType, parentSubType, req)
}

func (b bootstrap) Extend(typ, subType string, reqs ...ChildRequirement) error {
	return b.r.extend(typ, subType, reqs...)
}

func (b bootstrap) Get(typ, subType string) (TypeDefinition, bool) {
	return b.r.get(typ, subType)
}
