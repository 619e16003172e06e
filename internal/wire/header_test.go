package wire

import "testing"

func TestClientHeaderRoundTrip(t *testing.T) {
	cases := []ClientHeader{
		{Size: ClientOpcodeSize, Opcode: 0},
		{Size: 1000, Opcode: CMSGAuthSession},
		{Size: MaxClientFrameSize, Opcode: 0xFFFFFFFF},
	}
	for _, want := range cases {
		got, err := DecodeClientHeader(EncodeClientHeader(want))
		if err != nil {
			t.Fatalf("DecodeClientHeader: %v", err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestServerHeaderRoundTrip(t *testing.T) {
	cases := []ServerHeader{
		{Size: ServerOpcodeSize, Opcode: 0},
		{Size: 500, Opcode: SMSGAuthResponse},
	}
	for _, want := range cases {
		got, err := DecodeServerHeader(EncodeServerHeader(want))
		if err != nil {
			t.Fatalf("DecodeServerHeader: %v", err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestDecodeClientHeaderShort(t *testing.T) {
	if _, err := DecodeClientHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding short header")
	}
}
