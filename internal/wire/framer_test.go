package wire

import (
	"bytes"
	"testing"

	gocipher "github.com/kongor-project/loginway/internal/cipher"
)

func buildClientFrame(opcode uint32, body []byte) []byte {
	hdr := ClientHeader{Size: uint16(ClientOpcodeSize + len(body)), Opcode: opcode}
	return append(EncodeClientHeader(hdr), body...)
}

func TestFramerSingleFrameAllAtOnce(t *testing.T) {
	f := NewFramer(gocipher.New(), MaxClientFrameSize)
	frame := buildClientFrame(CMSGAuthSession, []byte("hello"))

	if err := f.Ingest(frame); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !f.Ready() {
		t.Fatalf("expected frame to be ready")
	}
	if f.Opcode() != CMSGAuthSession {
		t.Fatalf("opcode mismatch: got %x", f.Opcode())
	}
	if !bytes.Equal(f.Body(), []byte("hello")) {
		t.Fatalf("body mismatch: got %q", f.Body())
	}

	f.Advance()
	if f.State() != ReadStateHeader {
		t.Fatalf("expected reset to HEADER, got %v", f.State())
	}
}

func TestFramerByteAtATime(t *testing.T) {
	f := NewFramer(gocipher.New(), MaxClientFrameSize)
	frame := buildClientFrame(CMSGAuthSession, []byte("world"))

	for i, b := range frame {
		if err := f.Ingest([]byte{b}); err != nil {
			t.Fatalf("Ingest at byte %d: %v", i, err)
		}
		if i < len(frame)-1 && f.Ready() {
			t.Fatalf("framer became ready before all bytes were ingested (at byte %d)", i)
		}
	}
	if !f.Ready() {
		t.Fatalf("expected frame to be ready after full ingest")
	}
	if !bytes.Equal(f.Body(), []byte("world")) {
		t.Fatalf("body mismatch: got %q", f.Body())
	}
}

func TestFramerRejectsUndersizedFrame(t *testing.T) {
	f := NewFramer(gocipher.New(), MaxClientFrameSize)
	hdr := ClientHeader{Size: ClientOpcodeSize - 1, Opcode: CMSGAuthSession}
	if err := f.Ingest(EncodeClientHeader(hdr)); err == nil {
		t.Fatalf("expected error for frame size below opcode size")
	}
}

func TestFramerRejectsOversizedFrame(t *testing.T) {
	f := NewFramer(gocipher.New(), MaxClientFrameSize)
	hdr := ClientHeader{Size: MaxClientFrameSize + 1, Opcode: CMSGAuthSession}
	if err := f.Ingest(EncodeClientHeader(hdr)); err == nil {
		t.Fatalf("expected error for oversized frame")
	}
}

func TestFramerHandlesBackToBackFrames(t *testing.T) {
	f := NewFramer(gocipher.New(), MaxClientFrameSize)
	first := buildClientFrame(CMSGAuthSession, []byte("aa"))
	second := buildClientFrame(CMSGAuthSession, []byte("bbb"))

	if err := f.Ingest(append(first, second...)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !f.Ready() || !bytes.Equal(f.Body(), []byte("aa")) {
		t.Fatalf("expected first frame ready with body 'aa', got ready=%v body=%q", f.Ready(), f.Body())
	}
	f.Advance()
	if !f.Ready() || !bytes.Equal(f.Body(), []byte("bbb")) {
		t.Fatalf("expected second frame ready with body 'bbb', got ready=%v body=%q", f.Ready(), f.Body())
	}
}

func TestFramerDecryptsHeaderWhenCipherEnabled(t *testing.T) {
	c := gocipher.New()
	key := make([]byte, 40)
	for i := range key {
		key[i] = byte(i)
	}
	if err := c.SetKey(key); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	body := []byte("ciphered")
	hdr := ClientHeader{Size: uint16(ClientOpcodeSize + len(body)), Opcode: CMSGAuthSession}
	plainHdr := EncodeClientHeader(hdr)
	cipheredHdr := append([]byte(nil), plainHdr...)
	c.EncryptInPlace(cipheredHdr) // simulate the client enciphering with the matching send state

	// The framer's cipher is the connection's receive state; key it
	// identically so decrypting reproduces the plaintext header.
	recvSide := gocipher.New()
	if err := recvSide.SetKey(key); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	f := NewFramer(recvSide, MaxClientFrameSize)

	frame := append(cipheredHdr, body...)
	if err := f.Ingest(frame); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !f.Ready() {
		t.Fatalf("expected frame ready")
	}
	if f.Opcode() != CMSGAuthSession {
		t.Fatalf("opcode mismatch after decrypt: got %x", f.Opcode())
	}
	if !bytes.Equal(f.Body(), body) {
		t.Fatalf("body should remain plaintext (only headers are ciphered): got %q", f.Body())
	}
}
