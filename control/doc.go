// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for wsclient connections.
//
// Provides concurrent-safe state handling primitives including:
//   - Counter snapshots published by the connection and its dispatcher
//   - Named debug probes evaluated on demand
package control
