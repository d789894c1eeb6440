package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Registrar is the registration surface handed to providers during discovery.
// Get sees the types registered by the providers that ran before.
type Registrar interface {
	Register(def TypeDefinition) error
	AddGlobalRequirement(parentType, parentSubType string, req ChildRequirement)
	Extend(typ, subType string, reqs ...ChildRequirement) error
	Get(typ, subType string) (TypeDefinition, bool)
}

// Provider registers a group of types. Providers are discovered through
// RegisterProvider and run once per registry.
//
// RegisterTypes runs while the registry holds its load lock. It must only use
// the Registrar it is given: calling any method of the Registry itself from
// RegisterTypes blocks forever.
type Provider interface {
	ID() string
	Dependencies() []string
	Priority() int
	Description() string
	RegisterTypes(r Registrar) error
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc struct {
	Name      string
	DependsOn []string
	Order     int
	Desc      string
	Fn        func(r Registrar) error
}

func (p ProviderFunc) ID() string             { return p.Name }
func (p ProviderFunc) Dependencies() []string { return p.DependsOn }
func (p ProviderFunc) Priority() int          { return p.Order }
func (p ProviderFunc) Description() string    { return p.Desc }

func (p ProviderFunc) RegisterTypes(r Registrar) error {
	if p.Fn == nil {
		return nil
	}
	return p.Fn(r)
}

// orderProviders sorts providers so that every provider runs after its
// dependencies. Among providers that are ready at the same time, lower
// priority runs first, then lower id.
func orderProviders(providers []Provider) ([]Provider, error) {
	byID := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := byID[p.ID()]; dup {
			continue
		}
		byID[p.ID()] = p
	}

	pending := make(map[string]int, len(byID))
	dependents := make(map[string][]string)
	for id, p := range byID {
		for _, dep := range p.Dependencies() {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: provider %s depends on %s", ErrMissingProvider, id, dep)
			}
			pending[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []Provider
	for id, p := range byID {
		if pending[id] == 0 {
			ready = append(ready, p)
		}
	}

	result := make([]Provider, 0, len(byID))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority() != ready[j].Priority() {
				return ready[i].Priority() < ready[j].Priority()
			}
			return ready[i].ID() < ready[j].ID()
		})

		p := ready[0]
		ready = ready[1:]
		result = append(result, p)

		for _, dependent := range dependents[p.ID()] {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = append(ready, byID[dependent])
			}
		}
	}

	if len(result) != len(byID) {
		var stuck []string
		for id := range byID {
			if pending[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrProviderCycle, strings.Join(stuck, ", "))
	}

	return result, nil
}
