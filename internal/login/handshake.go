// Package login implements the authentication segment of a connection's
// lifecycle: issuing the challenge, verifying the client's session proof
// against a key fetched from the account service, and placing the
// connection into the admission queue.
package login

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/accountsvc"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/wire"
)

// LastLoginRecorder is the narrow contract Handshake needs to perform the
// one persistence write this gateway is allowed: stamping an account's
// most recent successful login time. *store.UserDAO satisfies this
// directly.
type LastLoginRecorder interface {
	StampLogin(username string, at time.Time) error
}

// KeyInstaller is the narrow contract Handshake needs to key the
// connection's stream cipher once the proof checks out. *cipher.StreamCipher
// satisfies this directly.
type KeyInstaller interface {
	SetKey(key []byte) error
}

// Outcome is the terminal decision of an authentication attempt.
type Outcome struct {
	// Result is always set; AuthOK means the connection should proceed.
	Result events.AuthResult
	// Queued is only meaningful when Result == AuthOK: true means the
	// connection was placed in IN_QUEUE, false means it went straight to
	// CHARACTER_LIST.
	Queued bool
	// PatchOffer is never set by CompleteAuth and is always nil; a
	// client's patch requirement is reported by CheckPatch instead.
	PatchOffer *patch.PatchMeta
}

// Handshake drives one connection's authentication exchange. It is not
// safe for concurrent use; the owning ConnectionFSM only ever touches it
// from its own strand.
type Handshake struct {
	patcher    *patch.Patcher
	accountSvc accountsvc.AccountService
	queue      *queue.AdmissionQueue
	eventBus   *events.EventBus
	lastLogin  LastLoginRecorder

	serverSeed uint32
	username   string
	clientSeed uint32
}

// New builds a Handshake bound to a freshly chosen server seed. lastLogin
// may be nil, in which case a successful auth simply skips the last-login
// stamp (tests that don't care about persistence).
func New(patcher *patch.Patcher, accountSvc accountsvc.AccountService, q *queue.AdmissionQueue, eventBus *events.EventBus, lastLogin LastLoginRecorder, serverSeed uint32) *Handshake {
	return &Handshake{
		patcher:    patcher,
		accountSvc: accountSvc,
		queue:      q,
		eventBus:   eventBus,
		lastLogin:  lastLogin,
		serverSeed: serverSeed,
	}
}

// ChallengeBody encodes the SMSG_AUTH_CHALLENGE body to send immediately
// on accept.
func (h *Handshake) ChallengeBody() []byte {
	return wire.BuildAuthChallenge(h.serverSeed)
}

// CheckPatch evaluates whether sess's declared build needs a patch before
// authentication can proceed, using the locale/arch/os carried in the
// session's addon data. A nil PatchMeta with ok==true means the client's
// build is current; ok==false means no compatible patch could be found in
// this bucket at all.
func (h *Handshake) CheckPatch(sess *wire.AuthSession) (offer *patch.PatchMeta, current bool, ok bool) {
	addon, err := wire.ParseAddonData(sess.AddonData)
	if err != nil {
		return nil, false, false
	}

	version := patch.GameVersion{Build: sess.Build}
	if h.patcher.CheckVersion(version) == patch.VersionOK {
		return nil, true, true
	}

	meta, found := h.patcher.FindPatch(version, addon.Locale, addon.Arch, addon.OS)
	if !found {
		return nil, false, false
	}
	return meta, false, true
}

// SurveyOffer returns the SMSG_AUTH_SURVEY_META body to send right after a
// successful proof check, or ok==false if there is no survey loaded or sess's
// platform isn't the one the telemetry probe targets.
func (h *Handshake) SurveyOffer(sess *wire.AuthSession) (body []byte, ok bool) {
	addon, err := wire.ParseAddonData(sess.AddonData)
	if err != nil || !patch.SurveyPlatform(addon.Arch, addon.OS) {
		return nil, false
	}
	info, found := h.patcher.SurveyMeta()
	if !found {
		return nil, false
	}
	return wire.BuildAuthSurveyMeta(info.Name, info.Size, info.MD5), true
}

// BeginLocateSession starts the asynchronous locate_session RPC in its own
// goroutine and hands the result to deliver once it completes. deliver is
// expected to re-enter the connection's own strand rather than touch
// connection state directly, since it runs on the RPC's goroutine.
func (h *Handshake) BeginLocateSession(ctx context.Context, sess *wire.AuthSession, deliver func(accountsvc.LocateResult, error)) {
	h.username = sess.Username
	h.clientSeed = sess.ClientSeed

	go func() {
		result, err := h.accountSvc.LocateSession(ctx, sess.Username)
		deliver(result, err)
	}()
}

// CompleteAuth applies the account service's result: on OK it verifies the
// client's proof, keys installer on success, and performs the population
// admission decision. handle is the queue.Handle representing this
// connection, used only if the outcome admits it.
func (h *Handshake) CompleteAuth(sess *wire.AuthSession, result accountsvc.LocateResult, rpcErr error, installer KeyInstaller, handle queue.Handle) Outcome {
	if rpcErr != nil {
		log.Warn().Err(rpcErr).Str("username", sess.Username).Msg("locate_session rpc failed")
		return Outcome{Result: events.AuthSystemError}
	}

	switch result.Status {
	case accountsvc.StatusAlreadyLoggedIn:
		return Outcome{Result: events.AuthAlreadyOnline}
	case accountsvc.StatusSessionNotFound:
		return Outcome{Result: events.AuthUnknownAccount}
	case accountsvc.StatusOK:
		// fall through to proof verification
	default:
		return Outcome{Result: events.AuthSystemError}
	}

	if !verifyProof(sess.Username, sess.ClientSeed, h.serverSeed, result.SessionKey, sess.Digest) {
		return Outcome{Result: events.AuthBadServerProof}
	}

	if err := installer.SetKey(result.SessionKey); err != nil {
		log.Error().Err(err).Str("username", sess.Username).Msg("failed to install session cipher key")
		return Outcome{Result: events.AuthSystemError}
	}

	if h.lastLogin != nil {
		if err := h.lastLogin.StampLogin(sess.Username, time.Now()); err != nil {
			log.Warn().Err(err).Str("username", sess.Username).Msg("failed to stamp last login")
		}
	}

	admitted := h.queue.TryAdmit(handle)
	return Outcome{Result: events.AuthOK, Queued: !admitted}
}

// verifyProof checks the client-supplied digest against
// SHA1(username || 0u32 || client_seed || server_seed || session_key).
func verifyProof(username string, clientSeed, serverSeed uint32, sessionKey []byte, digest [20]byte) bool {
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

	var got [20]byte
	copy(got[:], h.Sum(nil))
	return got == digest
}
