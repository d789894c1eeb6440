package registry

import (
	"fmt"
	"sort"
	"strings"
)

// CoreBaseTypes are the base types every complete registry is expected to
// provide.
var CoreBaseTypes = []string{"field.base", "object.base", "attr.base", "validator.base", "key.base"}

// Stats summarizes the registry contents.
type Stats struct {
	TotalTypes         int
	TypesByBase        map[string]int
	TotalRequirements  int
	GlobalRequirements int
	TypesWithParents   int
	Providers          []string
}

// Stats returns statistics about the registry.
func (r *Registry) Stats() *Stats {
	_ = r.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{
		TotalTypes:  len(r.types),
		TypesByBase: make(map[string]int),
		Providers:   append([]string(nil), r.loadedProviders...),
	}
	for _, d := range r.types {
		stats.TypesByBase[strings.ToLower(d.Type)]++
		stats.TotalRequirements += len(d.Children)
		if d.HasParent() {
			stats.TypesWithParents++
		}
	}
	for _, reqs := range r.global {
		stats.GlobalRequirements += len(reqs)
	}
	return stats
}

// HealthReport is the result of ValidateConsistency.
type HealthReport struct {
	TotalTypes          int
	MissingBaseTypes    []string
	UnresolvedParents   []string
	RegistryLoadFailure string
}

// Healthy reports whether no problems were found.
func (h *HealthReport) Healthy() bool {
	return len(h.MissingBaseTypes) == 0 && len(h.UnresolvedParents) == 0 && h.RegistryLoadFailure == ""
}

// Problems returns one line per problem found.
func (h *HealthReport) Problems() []string {
	var out []string
	if h.RegistryLoadFailure != "" {
		out = append(out, "registry load failed: "+h.RegistryLoadFailure)
	}
	for _, t := range h.MissingBaseTypes {
		out = append(out, fmt.Sprintf("missing core base type %s", t))
	}
	out = append(out, h.UnresolvedParents...)
	return out
}

// ValidateConsistency checks that the core base types exist and that every
// declared parent has been registered.
func (r *Registry) ValidateConsistency() *HealthReport {
	report := &HealthReport{}
	if err := r.Load(); err != nil {
		report.RegistryLoadFailure = err.Error()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	report.TotalTypes = len(r.types)
	for _, base := range CoreBaseTypes {
		if _, ok := r.types[base]; !ok {
			report.MissingBaseTypes = append(report.MissingBaseTypes, base)
		}
	}

	for key, d := range r.types {
		if !d.HasParent() {
			continue
		}
		if _, ok := r.types[d.ParentQualifiedName()]; !ok {
			report.UnresolvedParents = append(report.UnresolvedParents,
				fmt.Sprintf("%s extends unregistered %s", key, d.ParentQualifiedName()))
		}
	}
	sort.Strings(report.UnresolvedParents)
	return report
}
