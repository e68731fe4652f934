package services

import "github.com/danmuck/rcm/internal/caddyfile"

// Parse extracts and normalizes one proxy document. Warnings from both stages
// are returned in line order.
func Parse(text string, opts Options) (Set, []caddyfile.Warning) {
	res := caddyfile.Extract(text)
	set, normWarnings := Normalize(res.Blocks, opts)
	warnings := append(res.Warnings, normWarnings...)
	caddyfile.SortWarnings(warnings)
	return set, warnings
}
