// Package deploy executes action plans against endpoint hosts.
//
// Ownership boundary:
// - one connection and one deadline per endpoint
// - serial action execution within an endpoint
// - partial-progress reports when an endpoint fails or times out
//
// Deploy does not decide what to run; plans come from the plan package.
package deploy
