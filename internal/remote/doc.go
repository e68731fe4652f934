// Package remote runs commands and moves files on endpoint hosts over SSH.
//
// Ownership boundary:
// - connection setup and dial retries
// - command execution bounded by a context
// - remote home expansion for "~" paths
//
// Remote knows nothing about services or plans.
package remote
