// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the byte-stream transport consumed by the protocol core.

package api

// Transport is a full-duplex byte stream opened by the caller.
//
// Send writes every buffer in order; a batch is never interleaved with
// another Send. Recv blocks until at least one chunk is available and may
// return partial frames. Close unblocks a pending Recv.
type Transport interface {
	Send(buffers [][]byte) error
	Recv() ([][]byte, error)
	Close() error
}
