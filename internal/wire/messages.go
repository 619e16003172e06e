package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// authSessionFixedTail is the fixed-size part of a CMSG_AUTH_SESSION body
// that follows the username terminator: client_seed and digest. The addon
// blob comes after it.
const authSessionFixedTail = 4 /* client_seed */ + 20 /* digest */

// AuthSession is the parsed body of CMSG_AUTH_SESSION.
type AuthSession struct {
	Build       uint32
	Unknown     uint32
	Username    string
	ClientSeed  uint32
	Digest      [20]byte
	AddonData   []byte
}

// ParseAuthSession decodes a CMSG_AUTH_SESSION body: build:u32,
// unk:u32, username:cstring, client_seed:u32, digest:u8[20], addon_data:blob.
func ParseAuthSession(body []byte) (*AuthSession, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("wire: auth session body too short (%d bytes)", len(body))
	}
	build := binary.LittleEndian.Uint32(body[0:4])
	unk := binary.LittleEndian.Uint32(body[4:8])

	rest := body[8:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return nil, fmt.Errorf("wire: auth session username not null-terminated")
	}
	username := string(rest[:nul])
	rest = rest[nul+1:]

	if len(rest) < authSessionFixedTail {
		return nil, fmt.Errorf("wire: auth session truncated after username")
	}
	clientSeed := binary.LittleEndian.Uint32(rest[0:4])
	var digest [20]byte
	copy(digest[:], rest[4:24])
	addon := rest[24:]

	return &AuthSession{
		Build:      build,
		Unknown:    unk,
		Username:   username,
		ClientSeed: clientSeed,
		Digest:     digest,
		AddonData:  append([]byte(nil), addon...),
	}, nil
}

// AddonData is the parsed form of CMSG_AUTH_SESSION's addon_data blob:
// three null-terminated strings identifying the client's locale, CPU
// architecture, and OS family — the inputs find_patch buckets patches by.
type AddonData struct {
	Locale string
	Arch   string
	OS     string
}

// ParseAddonData decodes the trailing addon_data blob of a CMSG_AUTH_SESSION
// body into locale/arch/os cstrings.
func ParseAddonData(blob []byte) (AddonData, error) {
	var out AddonData
	rest := blob

	for _, field := range []*string{&out.Locale, &out.Arch, &out.OS} {
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return AddonData{}, fmt.Errorf("wire: addon data field not null-terminated")
		}
		*field = string(rest[:nul])
		rest = rest[nul+1:]
	}
	return out, nil
}

// BuildAuthChallenge encodes the SMSG_AUTH_CHALLENGE body: seed:u32.
func BuildAuthChallenge(seed uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, seed)
	return b
}

// BuildAuthResponse encodes the SMSG_AUTH_RESPONSE body: result:u8.
func BuildAuthResponse(result uint8) []byte {
	return []byte{result}
}

// BuildAuthSurveyMeta encodes the SMSG_AUTH_SURVEY_META body the client
// compares against its local survey probe before running it:
// name:cstring, size:u32, md5:u8[16].
func BuildAuthSurveyMeta(name string, size uint32, md5 [16]byte) []byte {
	buf := make([]byte, 0, len(name)+1+4+16)
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0)
	sizeBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBytes, size)
	buf = append(buf, sizeBytes...)
	buf = append(buf, md5[:]...)
	return buf
}

// BuildKeepAlive encodes the SMSG_KEEP_ALIVE body: empty. The opcode alone
// is the signal; there is nothing for the client to act on beyond resetting
// its own idle timer.
func BuildKeepAlive() []byte {
	return nil
}

// AuthSurveyResult is the parsed body of CMSG_AUTH_SURVEY_RESULT.
type AuthSurveyResult struct {
	SurveyID uint32
	Ran      bool
}

// ParseAuthSurveyResult decodes a CMSG_AUTH_SURVEY_RESULT body:
// survey_id:u32, ran:u8. The gateway only logs and emits this outcome; it
// never blocks progress on it.
func ParseAuthSurveyResult(body []byte) (*AuthSurveyResult, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("wire: auth survey result body too short (%d bytes)", len(body))
	}
	return &AuthSurveyResult{
		SurveyID: binary.LittleEndian.Uint32(body[0:4]),
		Ran:      body[4] != 0,
	}, nil
}

// OutboundCipher enciphers outbound header bytes in place. Bodies are never
// ciphered in this protocol version.
type OutboundCipher interface {
	EncryptInPlace(b []byte)
}

// WriteFrame assembles a full server->client frame: a 4-byte header
// (enciphered in place if cipher has a key installed) followed by the
// plaintext body.
func WriteFrame(opcode uint16, body []byte, cipher OutboundCipher) []byte {
	hdr := ServerHeader{
		Size:   uint16(ServerOpcodeSize + len(body)),
		Opcode: opcode,
	}
	hdrBytes := EncodeServerHeader(hdr)
	cipher.EncryptInPlace(hdrBytes)

	frame := make([]byte, 0, len(hdrBytes)+len(body))
	frame = append(frame, hdrBytes...)
	frame = append(frame, body...)
	return frame
}
