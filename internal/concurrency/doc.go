// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the WebSocket client: the ordered event
// dispatcher that hands connection events to user handlers off the
// protocol goroutines.
package concurrency
