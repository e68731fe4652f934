package services

import (
	"fmt"
	"strings"

	"github.com/danmuck/rcm/internal/caddyfile"
)

// ConflictPolicy decides which block wins when blocks sharing a name disagree
// on local address or remote port.
type ConflictPolicy string

const (
	ConflictFirstWins ConflictPolicy = "first"
	ConflictLastWins  ConflictPolicy = "last"
	ConflictReject    ConflictPolicy = "reject"
)

// ParseConflictPolicy accepts "first", "last" or "reject"; empty means first.
func ParseConflictPolicy(raw string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ConflictFirstWins:
		return ConflictFirstWins, nil
	case ConflictLastWins:
		return ConflictLastWins, nil
	case ConflictReject:
		return ConflictReject, nil
	default:
		return "", fmt.Errorf("services: unknown conflict policy %q (expected first, last or reject)", raw)
	}
}

// Options tunes normalization.
type Options struct {
	Conflicts ConflictPolicy
}

type group struct {
	name   string
	blocks []caddyfile.RawBlock
}

type candidate struct {
	svc  Service
	line int
}

// Normalize merges raw blocks into a name-unique Set. Content problems become
// warnings; blocks that cannot be deployed safely are left out of the Set.
func Normalize(blocks []caddyfile.RawBlock, opts Options) (Set, []caddyfile.Warning) {
	var warnings []caddyfile.Warning
	warn := func(line int, severity caddyfile.Severity, service, format string, args ...any) {
		warnings = append(warnings, caddyfile.Warning{
			Line:     line,
			Severity: severity,
			Service:  service,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	groups := make(map[string]*group)
	var order []*group
	for _, b := range blocks {
		if err := ValidateLocalAddress(b.LocalAddress); err != nil {
			warn(b.AnnotationLine, caddyfile.SeverityError, b.Name, "service %s excluded: %v", b.Name, err)
			continue
		}
		if !ValidPort(b.RemotePort) {
			warn(b.Line, caddyfile.SeverityError, b.Name, "service %s excluded: upstream port %d out of range", b.Name, b.RemotePort)
			continue
		}
		g, ok := groups[b.Name]
		if !ok {
			g = &group{name: b.Name}
			groups[b.Name] = g
			order = append(order, g)
		}
		g.blocks = append(g.blocks, b)
	}

	policy := opts.Conflicts
	if policy == "" {
		policy = ConflictFirstWins
	}

	merged := make([]candidate, 0, len(order))
	for _, g := range order {
		c, ok := mergeGroup(g, policy, warn)
		if ok {
			merged = append(merged, c)
		}
	}

	owners := make(map[int]string, len(merged))
	kept := make([]Service, 0, len(merged))
	for _, c := range merged {
		if owner, taken := owners[c.svc.RemotePort]; taken {
			warn(c.line, caddyfile.SeverityError, c.svc.Name,
				"service %s excluded: remote port %d already bound by service %s", c.svc.Name, c.svc.RemotePort, owner)
			continue
		}
		owners[c.svc.RemotePort] = c.svc.Name
		kept = append(kept, c.svc)
	}

	// Names are unique by construction of groups.
	set, _ := NewSet(kept...)
	caddyfile.SortWarnings(warnings)
	return set, warnings
}

func mergeGroup(
	g *group,
	policy ConflictPolicy,
	warn func(int, caddyfile.Severity, string, string, ...any),
) (candidate, bool) {
	winner := g.blocks[0]
	occurrence := "first"
	if policy == ConflictLastWins {
		winner = g.blocks[len(g.blocks)-1]
		occurrence = "last"
	}

	// Every block's domains still route through Caddy, conflicting or not.
	var domains []string
	var conflicts []caddyfile.RawBlock
	for _, b := range g.blocks {
		domains = append(domains, b.Domains...)
		if b.LocalAddress != winner.LocalAddress || b.RemotePort != winner.RemotePort {
			conflicts = append(conflicts, b)
		}
	}

	if len(conflicts) > 0 && policy == ConflictReject {
		warn(conflicts[0].Line, caddyfile.SeverityError, g.name,
			"service %s excluded: %d conflicting definitions", g.name, len(conflicts)+1)
		return candidate{}, false
	}
	for _, b := range conflicts {
		warn(b.Line, caddyfile.SeverityWarning, g.name,
			"conflicting definition for service %s, using %s occurrence (%s -> :%d ignored, domains kept)",
			g.name, occurrence, b.LocalAddress, b.RemotePort)
	}

	return candidate{
		svc: Service{
			Name:         g.name,
			LocalAddress: winner.LocalAddress,
			RemotePort:   winner.RemotePort,
			Domains:      normalizeDomains(domains),
		},
		line: winner.Line,
	}, true
}
