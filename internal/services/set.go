package services

import (
	"fmt"
	"slices"
	"sort"
)

// Set is an immutable, name-unique collection of services for one side of a
// comparison. The zero value is an empty, present set.
type Set struct {
	byName map[string]Service
	absent bool
}

// Absent is the sentinel for "no source document exists". It differs from an
// empty Set: planning against it never removes anything.
func Absent() Set {
	return Set{absent: true}
}

// NewSet builds a Set, rejecting duplicate names. Domains are stored sorted.
func NewSet(svcs ...Service) (Set, error) {
	byName := make(map[string]Service, len(svcs))
	for _, svc := range svcs {
		if _, exists := byName[svc.Name]; exists {
			return Set{}, fmt.Errorf("%w: %s", ErrDuplicateService, svc.Name)
		}
		svc.Domains = normalizeDomains(svc.Domains)
		byName[svc.Name] = svc
	}
	return Set{byName: byName}, nil
}

func (s Set) IsAbsent() bool {
	return s.absent
}

func (s Set) Len() int {
	return len(s.byName)
}

// Get returns a copy of the named service.
func (s Set) Get(name string) (Service, bool) {
	svc, ok := s.byName[name]
	if !ok {
		return Service{}, false
	}
	return svc.clone(), true
}

// Names returns service names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Services returns copies of all services sorted by name.
func (s Set) Services() []Service {
	out := make([]Service, 0, len(s.byName))
	for _, name := range s.Names() {
		out = append(out, s.byName[name].clone())
	}
	return out
}

// Ports maps each remote port to the service bound to it.
func (s Set) Ports() map[int]string {
	out := make(map[int]string, len(s.byName))
	for name, svc := range s.byName {
		out[svc.RemotePort] = name
	}
	return out
}

// Equal reports whether both sets hold the same services.
func (s Set) Equal(other Set) bool {
	if s.absent != other.absent || s.Len() != other.Len() {
		return false
	}
	return slices.EqualFunc(s.Services(), other.Services(), Service.Equal)
}

func sortByName(svcs []Service) {
	sort.Slice(svcs, func(i, j int) bool {
		return svcs[i].Name < svcs[j].Name
	})
}
