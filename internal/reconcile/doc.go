// Package reconcile wires the local proxy file, the server's copy of it and
// the endpoint hosts into one sync workflow.
//
// Ownership boundary:
// - reading local and remote proxy documents
// - building and gating the deployment plan
// - mapping configuration onto deploy targets and SSH endpoints
//
// Confirmation prompts and rendering belong to the CLI.
package reconcile
