package services

import (
	"strconv"
	"strings"
)

// Field names a compared Service attribute.
type Field string

const (
	FieldLocalAddress Field = "local_address"
	FieldRemotePort   Field = "remote_port"
	FieldDomains      Field = "domains"
)

// FieldChange is one differing attribute, rendered as text.
type FieldChange struct {
	Field Field
	Old   string
	New   string
}

// Change is a service present on both sides with at least one differing field.
type Change struct {
	Name   string
	Old    Service
	New    Service
	Fields []FieldChange
}

// Delta is the difference from base to target. Every slice is sorted by name.
type Delta struct {
	Added     []Service
	Removed   []Service
	Changed   []Change
	Unchanged []Service

	// Set when the corresponding input was the Absent sentinel; no
	// categories are computed in that case.
	BaseAbsent   bool
	TargetAbsent bool
}

// Empty reports whether target needs nothing applied relative to base.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Absent reports whether either side was the Absent sentinel.
func (d Delta) Absent() bool {
	return d.BaseAbsent || d.TargetAbsent
}

// Target rebuilds the target side's services, sorted by name.
func (d Delta) Target() []Service {
	out := make([]Service, 0, len(d.Added)+len(d.Changed)+len(d.Unchanged))
	out = append(out, d.Added...)
	for _, c := range d.Changed {
		out = append(out, c.New)
	}
	out = append(out, d.Unchanged...)
	sortByName(out)
	return out
}

// Diff compares base and target by name. Output depends only on set contents,
// never on map iteration order.
func Diff(base, target Set) Delta {
	if base.IsAbsent() || target.IsAbsent() {
		return Delta{BaseAbsent: base.IsAbsent(), TargetAbsent: target.IsAbsent()}
	}

	var d Delta
	for _, name := range target.Names() {
		next, _ := target.Get(name)
		prev, ok := base.Get(name)
		if !ok {
			d.Added = append(d.Added, next)
			continue
		}
		fields := compareFields(prev, next)
		if len(fields) == 0 {
			d.Unchanged = append(d.Unchanged, next)
			continue
		}
		d.Changed = append(d.Changed, Change{Name: name, Old: prev, New: next, Fields: fields})
	}
	for _, name := range base.Names() {
		if _, ok := target.Get(name); !ok {
			prev, _ := base.Get(name)
			d.Removed = append(d.Removed, prev)
		}
	}
	return d
}

func compareFields(prev, next Service) []FieldChange {
	var fields []FieldChange
	if prev.LocalAddress != next.LocalAddress {
		fields = append(fields, FieldChange{Field: FieldLocalAddress, Old: prev.LocalAddress, New: next.LocalAddress})
	}
	if prev.RemotePort != next.RemotePort {
		fields = append(fields, FieldChange{
			Field: FieldRemotePort,
			Old:   strconv.Itoa(prev.RemotePort),
			New:   strconv.Itoa(next.RemotePort),
		})
	}
	if !sameDomains(prev.Domains, next.Domains) {
		fields = append(fields, FieldChange{
			Field: FieldDomains,
			Old:   strings.Join(normalizeDomains(prev.Domains), ", "),
			New:   strings.Join(normalizeDomains(next.Domains), ", "),
		})
	}
	return fields
}
