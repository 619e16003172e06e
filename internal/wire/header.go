// Package wire implements the length-prefixed, partially-enciphered framing
// used on the client-facing authentication segment of the protocol: a
// 6-byte client->server header (u16 big-endian size, u32 little-endian
// opcode) and a 4-byte server->client header (u16 big-endian size, u16
// little-endian opcode). `size` always counts the opcode plus the body,
// never the size field itself.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// ClientHeaderSize is the fixed size of a client->server header.
	ClientHeaderSize = 6
	// ClientOpcodeSize is the opcode portion of the client->server header,
	// and therefore the minimum legal value of a client header's Size field.
	ClientOpcodeSize = 4

	// ServerHeaderSize is the fixed size of a server->client header.
	ServerHeaderSize = 4
	// ServerOpcodeSize is the opcode portion of the server->client header.
	ServerOpcodeSize = 2

	// MaxClientFrameSize bounds a client->server frame's declared Size
	// field. Anything larger is a protocol violation.
	MaxClientFrameSize = 10 * 1024
)

// ClientHeader is the 6-byte header prefixing every client->server frame.
type ClientHeader struct {
	Size   uint16
	Opcode uint32
}

// ServerHeader is the 4-byte header prefixing every server->client frame.
type ServerHeader struct {
	Size   uint16
	Opcode uint16
}

// DecodeClientHeader parses a 6-byte client header. It does not validate
// the Size field against any bound; callers (the Framer) do that.
func DecodeClientHeader(b []byte) (ClientHeader, error) {
	if len(b) < ClientHeaderSize {
		return ClientHeader{}, fmt.Errorf("wire: short client header (%d bytes)", len(b))
	}
	return ClientHeader{
		Size:   binary.BigEndian.Uint16(b[0:2]),
		Opcode: binary.LittleEndian.Uint32(b[2:6]),
	}, nil
}

// EncodeClientHeader writes a ClientHeader to its 6-byte wire form. Used by
// tests acting as the client peer.
func EncodeClientHeader(h ClientHeader) []byte {
	b := make([]byte, ClientHeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.Size)
	binary.LittleEndian.PutUint32(b[2:6], h.Opcode)
	return b
}

// DecodeServerHeader parses a 4-byte server header. Used by tests acting as
// the client peer.
func DecodeServerHeader(b []byte) (ServerHeader, error) {
	if len(b) < ServerHeaderSize {
		return ServerHeader{}, fmt.Errorf("wire: short server header (%d bytes)", len(b))
	}
	return ServerHeader{
		Size:   binary.BigEndian.Uint16(b[0:2]),
		Opcode: binary.LittleEndian.Uint16(b[2:4]),
	}, nil
}

// EncodeServerHeader writes a ServerHeader to its 4-byte wire form.
func EncodeServerHeader(h ServerHeader) []byte {
	b := make([]byte, ServerHeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.Size)
	binary.LittleEndian.PutUint16(b[2:4], h.Opcode)
	return b
}
