package conn

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kongor-project/loginway/internal/accountsvc"
	"github.com/kongor-project/loginway/internal/cipher"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/registry"
	"github.com/kongor-project/loginway/internal/wire"
)

func testDeps(q *queue.AdmissionQueue, eventBus *events.EventBus, p *patch.Patcher, svc accountsvc.AccountService) Deps {
	return Deps{
		Patcher:          p,
		AccountSvc:       svc,
		Queue:            q,
		Registry:         registry.New(),
		EventBus:         eventBus,
		HandshakeTimeout: 2 * time.Second,
		MaxFrameSize:     4096,
	}
}

func proofFor(username string, clientSeed, serverSeed uint32, sessionKey []byte) [20]byte {
	h := sha1.New()
	h.Write([]byte(username))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 0)
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], clientSeed)
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], serverSeed)
	h.Write(buf[:])
	h.Write(sessionKey)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

func authSessionBody(build uint32, username string, clientSeed uint32, digest [20]byte) []byte {
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, build)
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint32(tmp, 0)
	buf = append(buf, tmp...)
	buf = append(buf, []byte(username)...)
	buf = append(buf, 0)
	binary.LittleEndian.PutUint32(tmp, clientSeed)
	buf = append(buf, tmp...)
	buf = append(buf, digest[:]...)
	buf = append(buf, []byte("enUS\x00x86\x00Win\x00")...)
	return buf
}

func clientFrame(opcode uint32, body []byte) []byte {
	buf := make([]byte, 6, 6+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(wire.ClientOpcodeSize+len(body)))
	binary.LittleEndian.PutUint32(buf[2:6], opcode)
	return append(buf, body...)
}

func readServerFrame(t *testing.T, c net.Conn) (uint16, []byte) {
	t.Helper()
	return readServerFrameWith(t, c, nil)
}

// readServerFrameWith reads one server frame, deciphering its header
// through dec when dec is non-nil (the server enciphers every header it
// sends once the session key is installed).
func readServerFrameWith(t *testing.T, c net.Conn, dec *cipher.StreamCipher) (uint16, []byte) {
	t.Helper()
	hdr := make([]byte, wire.ServerHeaderSize)
	if _, err := readFull(c, hdr); err != nil {
		t.Fatalf("reading server header: %v", err)
	}
	if dec != nil {
		dec.DecryptInPlace(hdr)
	}
	h, err := wire.DecodeServerHeader(hdr)
	if err != nil {
		t.Fatalf("decoding server header: %v", err)
	}
	bodyLen := int(h.Size) - wire.ServerOpcodeSize
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := readFull(c, body); err != nil {
			t.Fatalf("reading server body: %v", err)
		}
	}
	return h.Opcode, body
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestConnectionFSMHappyPathReachesCharacterList(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	q := queue.New(10, events.NewEventBus())
	eventBus := events.NewEventBus()
	p := patch.NewPatcher([]patch.GameVersion{{Build: 5875}}, nil)
	svc := accountsvc.NewFixtureAccountService(map[string]accountsvc.Status{"ALICE": accountsvc.StatusOK})

	fsm := New("conn-1", server, testDeps(q, eventBus, p, svc), 0x258)
	go fsm.Run(context.Background())

	opcode, body := readServerFrame(t, client)
	if opcode != wire.SMSGAuthChallenge {
		t.Fatalf("expected SMSG_AUTH_CHALLENGE, got %x", opcode)
	}
	serverSeed := binary.LittleEndian.Uint32(body)

	sessionKey := accountsvc.DeterministicSessionKey("ALICE")
	clientCipher := cipher.New()
	if err := clientCipher.SetKey(sessionKey); err != nil {
		t.Fatalf("keying client cipher: %v", err)
	}
	digest := proofFor("ALICE", 0x11111111, serverSeed, sessionKey)
	body = authSessionBody(5875, "ALICE", 0x11111111, digest)
	if _, err := client.Write(clientFrame(wire.CMSGAuthSession, body)); err != nil {
		t.Fatalf("writing auth session: %v", err)
	}

	opcode, body = readServerFrameWith(t, client, clientCipher)
	if opcode != wire.SMSGAuthResponse {
		t.Fatalf("expected SMSG_AUTH_RESPONSE, got %x", opcode)
	}
	if len(body) != 1 || body[0] != uint8(events.AuthOK) {
		t.Fatalf("expected AuthOK response, got %v", body)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for CHARACTER_LIST transition")
		default:
		}
		done := make(chan State, 1)
		fsm.post(func() { done <- fsm.state })
		if <-done == StateCharacterList {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	fsm.Close()
}

func TestConnectionFSMBadProofClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	q := queue.New(10, events.NewEventBus())
	eventBus := events.NewEventBus()
	p := patch.NewPatcher([]patch.GameVersion{{Build: 5875}}, nil)
	svc := accountsvc.NewFixtureAccountService(map[string]accountsvc.Status{"ALICE": accountsvc.StatusOK})

	fsm := New("conn-2", server, testDeps(q, eventBus, p, svc), 0x258)
	go fsm.Run(context.Background())

	_, _ = readServerFrame(t, client) // challenge

	var badDigest [20]byte
	body := authSessionBody(5875, "ALICE", 0x11111111, badDigest)
	if _, err := client.Write(clientFrame(wire.CMSGAuthSession, body)); err != nil {
		t.Fatalf("writing auth session: %v", err)
	}

	opcode, respBody := readServerFrame(t, client)
	if opcode != wire.SMSGAuthResponse {
		t.Fatalf("expected SMSG_AUTH_RESPONSE, got %x", opcode)
	}
	if respBody[0] != uint8(events.AuthBadServerProof) {
		t.Fatalf("expected AuthBadServerProof, got %v", respBody[0])
	}

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after bad proof")
	}
}

func TestConnectionFSMHandshakeWatchdogClosesIdleConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	q := queue.New(10, events.NewEventBus())
	eventBus := events.NewEventBus()
	p := patch.NewPatcher(nil, nil)

	deps := testDeps(q, eventBus, p, accountsvc.NewFixtureAccountService(nil))
	deps.HandshakeTimeout = 50 * time.Millisecond

	fsm := New("conn-3", server, deps, 0x258)
	go fsm.Run(context.Background())

	_, _ = readServerFrame(t, client) // challenge

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected watchdog to close the idle connection")
	}
}

func TestConnectionFSMUnknownAccountClosesAfterResponse(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	q := queue.New(10, events.NewEventBus())
	eventBus := events.NewEventBus()
	p := patch.NewPatcher([]patch.GameVersion{{Build: 5875}}, nil)
	svc := accountsvc.NewFixtureAccountService(nil) // unknown usernames resolve to SessionNotFound

	fsm := New("conn-4", server, testDeps(q, eventBus, p, svc), 0x258)
	go fsm.Run(context.Background())

	_, challengeBody := readServerFrame(t, client)
	serverSeed := binary.LittleEndian.Uint32(challengeBody)

	digest := proofFor("GHOST", 1, serverSeed, nil)
	body := authSessionBody(5875, "GHOST", 1, digest)
	if _, err := client.Write(clientFrame(wire.CMSGAuthSession, body)); err != nil {
		t.Fatalf("writing auth session: %v", err)
	}

	opcode, respBody := readServerFrame(t, client)
	if opcode != wire.SMSGAuthResponse {
		t.Fatalf("expected SMSG_AUTH_RESPONSE, got %x", opcode)
	}
	if respBody[0] != uint8(events.AuthUnknownAccount) {
		t.Fatalf("expected AuthUnknownAccount, got %v", respBody[0])
	}
}

func TestConnectionFSMOffersSurveyOnMatchingPlatform(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	q := queue.New(10, events.NewEventBus())
	eventBus := events.NewEventBus()
	p := patch.NewPatcher([]patch.GameVersion{{Build: 5875}}, nil)
	surveyPath := filepath.Join(t.TempDir(), "survey.bin")
	if err := os.WriteFile(surveyPath, []byte("probe"), 0o600); err != nil {
		t.Fatalf("writing survey fixture: %v", err)
	}
	if err := p.SetSurvey(surveyPath, 42); err != nil {
		t.Fatalf("loading survey: %v", err)
	}
	svc := accountsvc.NewFixtureAccountService(map[string]accountsvc.Status{"ALICE": accountsvc.StatusOK})

	fsm := New("conn-5", server, testDeps(q, eventBus, p, svc), 0x258)
	go fsm.Run(context.Background())
	defer fsm.Close()

	_, challengeBody := readServerFrame(t, client)
	serverSeed := binary.LittleEndian.Uint32(challengeBody)

	sessionKey := accountsvc.DeterministicSessionKey("ALICE")
	clientCipher := cipher.New()
	if err := clientCipher.SetKey(sessionKey); err != nil {
		t.Fatalf("keying client cipher: %v", err)
	}
	digest := proofFor("ALICE", 0x11111111, serverSeed, sessionKey)
	body := authSessionBody(5875, "ALICE", 0x11111111, digest)
	if _, err := client.Write(clientFrame(wire.CMSGAuthSession, body)); err != nil {
		t.Fatalf("writing auth session: %v", err)
	}

	opcode, surveyBody := readServerFrameWith(t, client, clientCipher)
	if opcode != wire.SMSGAuthSurveyMeta {
		t.Fatalf("expected SMSG_AUTH_SURVEY_META, got %x", opcode)
	}
	if len(surveyBody) == 0 {
		t.Fatal("expected non-empty survey meta body")
	}

	opcode, _ = readServerFrameWith(t, client, clientCipher)
	if opcode != wire.SMSGAuthResponse {
		t.Fatalf("expected SMSG_AUTH_RESPONSE after survey offer, got %x", opcode)
	}
}

func TestConnectionFSMSendsKeepAliveInCharacterList(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	q := queue.New(10, events.NewEventBus())
	eventBus := events.NewEventBus()
	p := patch.NewPatcher([]patch.GameVersion{{Build: 5875}}, nil)
	svc := accountsvc.NewFixtureAccountService(map[string]accountsvc.Status{"ALICE": accountsvc.StatusOK})

	deps := testDeps(q, eventBus, p, svc)
	deps.KeepAliveInterval = 20 * time.Millisecond

	fsm := New("conn-6", server, deps, 0x258)
	go fsm.Run(context.Background())
	defer fsm.Close()

	_, challengeBody := readServerFrame(t, client)
	serverSeed := binary.LittleEndian.Uint32(challengeBody)

	sessionKey := accountsvc.DeterministicSessionKey("ALICE")
	clientCipher := cipher.New()
	if err := clientCipher.SetKey(sessionKey); err != nil {
		t.Fatalf("keying client cipher: %v", err)
	}
	digest := proofFor("ALICE", 0x11111111, serverSeed, sessionKey)
	body := authSessionBody(5875, "ALICE", 0x11111111, digest)
	if _, err := client.Write(clientFrame(wire.CMSGAuthSession, body)); err != nil {
		t.Fatalf("writing auth session: %v", err)
	}

	opcode, _ := readServerFrameWith(t, client, clientCipher)
	if opcode != wire.SMSGAuthResponse {
		t.Fatalf("expected SMSG_AUTH_RESPONSE, got %x", opcode)
	}

	opcode, _ = readServerFrameWith(t, client, clientCipher)
	if opcode != wire.SMSGKeepAlive {
		t.Fatalf("expected SMSG_KEEP_ALIVE, got %x", opcode)
	}
}
