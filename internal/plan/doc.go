// Package plan turns a service delta into an ordered, reviewable action list.
//
// Ownership boundary:
// - action ordering per endpoint
// - destructive-change detection and confirmation gating
// - bootstrap handling when no local source exists
//
// Plan performs no I/O. Execution belongs to the deploy package.
package plan
