// Package caddyfile reads the two-channel proxy document: Caddy site blocks
// plus a sidecar `# name: host:port` annotation line per managed block.
//
// Ownership boundary:
// - line grammar for annotations, site-block openers and reverse_proxy upstreams
// - brace-depth tracking for block bodies
// - content warnings with line numbers
//
// The package never merges, validates or deduplicates services; see package services.
package caddyfile
