package services

import (
	"strings"
	"testing"

	"github.com/danmuck/rcm/internal/caddyfile"
	"github.com/danmuck/rcm/internal/testutil/testlog"
)

func block(name, local string, port int, line int, domains ...string) caddyfile.RawBlock {
	return caddyfile.RawBlock{
		Name:           name,
		LocalAddress:   local,
		RemotePort:     port,
		Domains:        domains,
		AnnotationLine: line - 1,
		Line:           line,
	}
}

func warningWith(ws []caddyfile.Warning, fragment string) (caddyfile.Warning, bool) {
	for _, w := range ws {
		if strings.Contains(w.Message, fragment) {
			return w, true
		}
	}
	return caddyfile.Warning{}, false
}

func TestNormalizeMergesDuplicateNames(t *testing.T) {
	testlog.Start(t)

	set, warnings := Normalize([]caddyfile.RawBlock{
		block("app", "10.0.0.1:80", 5001, 2, "b.example.com"),
		block("app", "10.0.0.1:80", 5001, 8, "a.example.com", "b.example.com"),
	}, Options{})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if set.Len() != 1 {
		t.Fatalf("expected one service, got %d", set.Len())
	}
	svc, _ := set.Get("app")
	if strings.Join(svc.Domains, ",") != "a.example.com,b.example.com" {
		t.Fatalf("expected unioned sorted domains, got %v", svc.Domains)
	}
}

func TestNormalizeConflictPolicies(t *testing.T) {
	blocks := []caddyfile.RawBlock{
		block("app", "10.0.0.1:80", 5001, 2, "one.example.com"),
		block("app", "10.0.0.9:80", 5009, 6, "two.example.com"),
	}

	cases := []struct {
		policy   ConflictPolicy
		present  bool
		local    string
		port     int
		line     int
		fragment string
		level    caddyfile.Severity
	}{
		{ConflictFirstWins, true, "10.0.0.1:80", 5001, 6, "using first occurrence", caddyfile.SeverityWarning},
		{ConflictLastWins, true, "10.0.0.9:80", 5009, 2, "using last occurrence", caddyfile.SeverityWarning},
		{ConflictReject, false, "", 0, 6, "conflicting definitions", caddyfile.SeverityError},
	}

	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			set, warnings := Normalize(blocks, Options{Conflicts: tc.policy})
			w, ok := warningWith(warnings, tc.fragment)
			if !ok {
				t.Fatalf("expected warning %q, got %v", tc.fragment, warnings)
			}
			if w.Severity != tc.level || w.Service != "app" || w.Line != tc.line {
				t.Fatalf("unexpected warning: %+v", w)
			}
			svc, present := set.Get("app")
			if present != tc.present {
				t.Fatalf("presence = %v, want %v", present, tc.present)
			}
			if !present {
				return
			}
			if svc.LocalAddress != tc.local || svc.RemotePort != tc.port {
				t.Fatalf("unexpected winner: %+v", svc)
			}
			if strings.Join(svc.Domains, ",") != "one.example.com,two.example.com" {
				t.Fatalf("expected domains from every block, got %v", svc.Domains)
			}
		})
	}
}

func TestNormalizeExcludesLaterPortCollision(t *testing.T) {
	testlog.Start(t)

	set, warnings := Normalize([]caddyfile.RawBlock{
		block("first", "10.0.0.1:80", 5001, 2, "first.example.com"),
		block("second", "10.0.0.2:80", 5001, 6, "second.example.com"),
		block("third", "10.0.0.3:80", 5003, 10, "third.example.com"),
	}, Options{})

	if _, ok := set.Get("second"); ok {
		t.Fatalf("colliding service must be excluded")
	}
	if set.Len() != 2 {
		t.Fatalf("expected two services, got %v", set.Names())
	}
	w, ok := warningWith(warnings, "already bound by service first")
	if !ok || w.Severity != caddyfile.SeverityError || w.Line != 6 {
		t.Fatalf("expected error warning on line 6, got %v", warnings)
	}
	for _, svc := range set.Services() {
		if err := svc.Validate(); err != nil {
			t.Fatalf("emitted service violates invariants: %v", err)
		}
	}
}

func TestNormalizeCollisionWarningPointsAtWinningBlock(t *testing.T) {
	set, warnings := Normalize([]caddyfile.RawBlock{
		block("other", "10.0.0.2:80", 5009, 2, "other.example.com"),
		block("app", "10.0.0.1:80", 5001, 6, "one.example.com"),
		block("app", "10.0.0.9:80", 5009, 10, "two.example.com"),
	}, Options{Conflicts: ConflictLastWins})

	if _, ok := set.Get("app"); ok {
		t.Fatalf("app collides with other on 5009 and must be excluded")
	}
	w, ok := warningWith(warnings, "already bound by service other")
	if !ok || w.Line != 10 {
		t.Fatalf("expected collision warning on the winning block line 10, got %v", warnings)
	}
}

func TestNormalizeRejectsInvalidAddresses(t *testing.T) {
	set, warnings := Normalize([]caddyfile.RawBlock{
		block("badlocal", "10.0.0.1:70000", 5001, 2, "a.example.com"),
		block("badport", "10.0.0.1:80", 0, 6, "b.example.com"),
		block("ok", "10.0.0.1:80", 5003, 10, "c.example.com"),
	}, Options{})
	if strings.Join(set.Names(), ",") != "ok" {
		t.Fatalf("expected only ok, got %v", set.Names())
	}
	if len(warnings) != 2 || !caddyfile.HasErrors(warnings) {
		t.Fatalf("expected two error warnings, got %v", warnings)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	if p, err := ParseConflictPolicy(""); err != nil || p != ConflictFirstWins {
		t.Fatalf("empty policy: %v %v", p, err)
	}
	if p, err := ParseConflictPolicy("LAST"); err != nil || p != ConflictLastWins {
		t.Fatalf("last policy: %v %v", p, err)
	}
	if _, err := ParseConflictPolicy("newest"); err == nil {
		t.Fatalf("expected unknown policy error")
	}
}
