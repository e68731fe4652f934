package services

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrInvalidLocalAddress = errors.New("services: invalid local address")
	ErrInvalidRemotePort   = errors.New("services: invalid remote port")
	ErrMissingName         = errors.New("services: missing service name")
	ErrMissingDomains      = errors.New("services: service has no domains")
	ErrDuplicateService    = errors.New("services: duplicate service name")
)

const (
	minPort = 1
	maxPort = 65535
)

// Service is one tunnel endpoint mapping: domains served by the proxy on the
// server side, forwarded through RemotePort to LocalAddress on the client side.
type Service struct {
	Name         string
	LocalAddress string
	RemotePort   int
	Domains      []string
}

// PrimaryDomain is the first domain in sorted order.
func (s Service) PrimaryDomain() string {
	if len(s.Domains) == 0 {
		return ""
	}
	return s.Domains[0]
}

// Validate checks the invariants the config emitter relies on.
func (s Service) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrMissingName
	}
	if err := ValidateLocalAddress(s.LocalAddress); err != nil {
		return err
	}
	if !ValidPort(s.RemotePort) {
		return fmt.Errorf("%w: %d", ErrInvalidRemotePort, s.RemotePort)
	}
	if len(s.Domains) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingDomains, s.Name)
	}
	return nil
}

// Equal compares all fields; domains compare as sets.
func (s Service) Equal(other Service) bool {
	return s.Name == other.Name &&
		s.LocalAddress == other.LocalAddress &&
		s.RemotePort == other.RemotePort &&
		sameDomains(s.Domains, other.Domains)
}

func (s Service) clone() Service {
	s.Domains = slices.Clone(s.Domains)
	return s
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p >= minPort && p <= maxPort
}

// ValidateLocalAddress requires host:port with a non-empty host and a port in [1,65535].
func ValidateLocalAddress(addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidLocalAddress, addr, err)
	}
	if host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidLocalAddress, addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || !ValidPort(p) {
		return fmt.Errorf("%w: %q: port out of range", ErrInvalidLocalAddress, addr)
	}
	return nil
}

// normalizeDomains returns a sorted copy without duplicates or blanks.
func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d != "" {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sameDomains(a, b []string) bool {
	return slices.Equal(normalizeDomains(a), normalizeDomains(b))
}
