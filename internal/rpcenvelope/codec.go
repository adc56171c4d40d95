// Package rpcenvelope implements the binary request/response envelope
// shared by the RPC client and server: a self-describing msgpack map per
// action call, plus the error taxonomy carried over HTTP status codes.
//
// msgpack's native distinction between its "str" and "bin" wire types means
// []byte payloads round-trip distinctly from string payloads without any
// extra bookkeeping on our part, satisfying the "Binary encoding" design
// note calling for exactly that property.
package rpcenvelope

import (
	"github.com/vmihailenco/msgpack/v5"
)

// ContentType is the Content-Type both client and server require for the
// request and response bodies.
const ContentType = "application/vnd.msgpack"

// Encode serializes v to the wire envelope format.
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes the wire envelope format into out.
func Decode(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}

// DecodeMap decodes the wire envelope into a generic map, used by the
// server when it needs to validate a request body against a schema before
// committing to a concrete Go type.
func DecodeMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
