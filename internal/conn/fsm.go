// Package conn implements the per-connection state machine: the part of
// the gateway that owns a client socket end to end, from the moment it
// clears the ban check to the moment it closes.
package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/accountsvc"
	"github.com/kongor-project/loginway/internal/cipher"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/login"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/registry"
	"github.com/kongor-project/loginway/internal/wire"
)

// State is one of the connection lifecycle states named in the FSM
// diagram: HANDSHAKING -> AUTHENTICATING -> (IN_QUEUE | CHARACTER_LIST) ->
// IN_WORLD -> CLOSED.
type State int

const (
	StateHandshaking State = iota
	StateAuthenticating
	StateInQueue
	StateCharacterList
	StateInWorld
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateInQueue:
		return "IN_QUEUE"
	case StateCharacterList:
		return "CHARACTER_LIST"
	case StateInWorld:
		return "IN_WORLD"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Deps bundles the shared, read-mostly collaborators every connection
// needs. They are constructed once at gateway startup and handed to every
// ConnectionFSM; none of them are connection-specific.
type Deps struct {
	Patcher           *patch.Patcher
	AccountSvc        accountsvc.AccountService
	Queue             *queue.AdmissionQueue
	Registry          *registry.SessionRegistry
	EventBus          *events.EventBus
	LastLogin         login.LastLoginRecorder
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	MaxFrameSize      int
}

// ConnectionFSM owns one client socket: the WireFramer that turns its byte
// stream into frames, the StreamCipher keyed once authentication succeeds,
// and the state transitions the authentication and queueing flow drives it
// through. Every callback that touches its state — socket reads, timer
// firings, the account-service RPC result — is serialized through its own
// task channel (its "strand"), so the FSM itself never needs a lock: only
// one goroutine ever executes its methods at a time.
type ConnectionFSM struct {
	id         string
	remoteAddr string
	nc         net.Conn
	log        zerolog.Logger

	framer *wire.Framer
	cipher *cipher.StreamCipher
	hs     *login.Handshake
	deps   Deps

	tasks chan func()
	done  chan struct{}
	once  sync.Once

	state    State
	username string

	watchdog  *time.Timer
	keepAlive *time.Ticker
}

// New wraps an accepted socket in a fresh ConnectionFSM. id should be
// unique among live connections (the gateway uses a per-accept counter or
// a UUID); it is this connection's key in the SessionRegistry and
// AdmissionQueue.
func New(id string, nc net.Conn, deps Deps, serverSeed uint32) *ConnectionFSM {
	sc := cipher.New()
	f := &ConnectionFSM{
		id:         id,
		remoteAddr: nc.RemoteAddr().String(),
		nc:         nc,
		cipher:     sc,
		framer:     wire.NewFramer(sc, deps.MaxFrameSize),
		deps:       deps,
		tasks:      make(chan func(), 32),
		done:       make(chan struct{}),
		state:      StateHandshaking,
	}
	f.hs = login.New(deps.Patcher, deps.AccountSvc, deps.Queue, deps.EventBus, deps.LastLogin, serverSeed)
	f.log = log.With().Str("component", "conn").Str("id", id).Str("remote", f.remoteAddr).Logger()
	return f
}

// ID identifies this connection for the SessionRegistry and AdmissionQueue.
func (c *ConnectionFSM) ID() string { return c.id }

// Admit is called by the AdmissionQueue once this connection reaches the
// head of the queue and the population has room for it. Decrement invokes
// it after releasing the queue's lock, on the goroutine that called
// Decrement rather than this connection's strand, so it only ever posts a
// task rather than touching state directly.
func (c *ConnectionFSM) Admit() {
	c.post(func() { c.enterCharacterList() })
}

// Run starts the connection's strand and its blocking read loop. It
// returns once the socket is closed for any reason.
func (c *ConnectionFSM) Run(ctx context.Context) {
	c.deps.Registry.Register(c)
	c.deps.EventBus.Emit(ctx, events.Event{
		Type:    events.EventConnectionAccepted,
		Source:  "conn",
		Payload: events.ConnectionAcceptedPayload{RemoteAddr: c.remoteAddr},
	})

	go c.strandLoop()
	c.post(func() { c.onStart(ctx) })

	c.readLoop(ctx)
}

func (c *ConnectionFSM) strandLoop() {
	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-c.done:
			return
		}
	}
}

// post enqueues fn to run on this connection's strand. It never blocks
// past the connection's lifetime: once Close has run, posts are dropped.
func (c *ConnectionFSM) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

func (c *ConnectionFSM) onStart(ctx context.Context) {
	c.send(wire.SMSGAuthChallenge, c.hs.ChallengeBody())
	c.state = StateAuthenticating
	c.watchdog = time.AfterFunc(c.deps.HandshakeTimeout, func() {
		c.post(func() {
			if c.state == StateHandshaking || c.state == StateAuthenticating {
				c.log.Warn().Msg("handshake watchdog fired, closing connection")
				c.closeLocked(ctx, "handshake_timeout")
			}
		})
	})
}

func (c *ConnectionFSM) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			done := make(chan struct{})
			c.post(func() {
				c.handleRead(ctx, data)
				close(done)
			})
			select {
			case <-done:
			case <-c.done:
				return
			}
		}
		if err != nil {
			c.post(func() { c.closeLocked(ctx, "read_error") })
			return
		}
	}
}

func (c *ConnectionFSM) handleRead(ctx context.Context, data []byte) {
	if c.state == StateClosed {
		return
	}
	if err := c.framer.Ingest(data); err != nil {
		c.log.Warn().Err(err).Msg("frame protocol violation")
		c.closeLocked(ctx, "protocol_violation")
		return
	}
	for c.framer.Ready() {
		opcode := c.framer.Opcode()
		body := append([]byte(nil), c.framer.Body()...)
		c.framer.Advance()
		c.dispatch(ctx, opcode, body)
		if c.state == StateClosed {
			return
		}
	}
}

func (c *ConnectionFSM) dispatch(ctx context.Context, opcode uint32, body []byte) {
	switch c.state {
	case StateAuthenticating:
		if opcode != wire.CMSGAuthSession {
			c.log.Warn().Uint32("opcode", opcode).Msg("unexpected opcode while authenticating")
			c.closeLocked(ctx, "protocol_violation")
			return
		}
		c.handleAuthSession(ctx, body)

	case StateInQueue:
		// Inbound frames are accepted but ignored pending dequeue.

	case StateCharacterList, StateInWorld:
		if opcode == wire.CMSGAuthSurveyResult {
			c.handleAuthSurveyResult(ctx, body)
			return
		}
		c.log.Debug().Uint32("opcode", opcode).Msg("frame received past authentication scope")

	default:
		c.log.Warn().Str("state", c.state.String()).Msg("frame dispatched in unexpected state")
		c.closeLocked(ctx, "protocol_violation")
	}
}

func (c *ConnectionFSM) handleAuthSession(ctx context.Context, body []byte) {
	sess, err := wire.ParseAuthSession(body)
	if err != nil {
		c.log.Warn().Err(err).Msg("malformed auth session")
		c.closeLocked(ctx, "protocol_violation")
		return
	}
	c.username = sess.Username

	if offer, current, ok := c.hs.CheckPatch(sess); ok && !current {
		c.log.Info().Str("username", sess.Username).Str("patch", offer.File.Name).Msg("offering patch before auth proceeds")
		c.deps.EventBus.Emit(ctx, events.Event{
			Type:   events.EventPatchOffered,
			Source: "conn",
			Payload: events.PatchOfferPayload{
				Username: sess.Username, PatchName: offer.File.Name,
				BuildFrom: offer.BuildFrom, BuildTo: offer.BuildTo, Rollup: offer.Rollup,
			},
		})
		c.closeLocked(ctx, "patch_required")
		return
	}

	c.hs.BeginLocateSession(ctx, sess, func(result accountsvc.LocateResult, err error) {
		c.post(func() { c.completeAuth(ctx, sess, result, err) })
	})
}

func (c *ConnectionFSM) completeAuth(ctx context.Context, sess *wire.AuthSession, result accountsvc.LocateResult, rpcErr error) {
	if c.state != StateAuthenticating {
		return // connection moved on (closed) before the RPC returned
	}

	outcome := c.hs.CompleteAuth(sess, result, rpcErr, c.cipher, c)
	c.deps.EventBus.Emit(ctx, events.Event{
		Type:    authEventType(outcome.Result),
		Source:  "conn",
		Payload: events.AuthOutcomePayload{Username: sess.Username, Result: outcome.Result},
	})

	if outcome.Result != events.AuthOK {
		c.send(wire.SMSGAuthResponse, wire.BuildAuthResponse(uint8(outcome.Result)))
		c.closeLocked(ctx, "auth_failed")
		return
	}

	if survey, ok := c.hs.SurveyOffer(sess); ok {
		c.send(wire.SMSGAuthSurveyMeta, survey)
		c.deps.EventBus.Emit(ctx, events.Event{
			Type:    events.EventSurveyOffered,
			Source:  "conn",
			Payload: events.AuthOutcomePayload{Username: sess.Username, Result: outcome.Result},
		})
	}

	c.send(wire.SMSGAuthResponse, wire.BuildAuthResponse(uint8(outcome.Result)))
	if c.watchdog != nil {
		c.watchdog.Stop()
	}

	if outcome.Queued {
		c.state = StateInQueue
	} else {
		c.enterCharacterList()
	}
}

func authEventType(result events.AuthResult) events.EventType {
	if result == events.AuthOK {
		return events.EventAuthSucceeded
	}
	return events.EventAuthFailed
}

func (c *ConnectionFSM) enterCharacterList() {
	c.state = StateCharacterList
	c.log.Info().Msg("connection admitted to character list")
	c.armKeepAlive()
}

// armKeepAlive starts the periodic no-op ping that keeps the send-order
// guarantee exercised for the rest of the connection's life, not just
// during the handshake. Grounded on the teacher's chatKeepAliveInterval
// ticker in internal/connector/chatserver.go.
func (c *ConnectionFSM) armKeepAlive() {
	interval := c.deps.KeepAliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	c.keepAlive = time.NewTicker(interval)
	ticker := c.keepAlive
	go func() {
		for {
			select {
			case <-ticker.C:
				c.post(func() {
					if c.state == StateCharacterList || c.state == StateInWorld {
						c.send(wire.SMSGKeepAlive, wire.BuildKeepAlive())
						c.log.Trace().Msg("keep-alive sent")
					}
				})
			case <-c.done:
				return
			}
		}
	}()
}

func (c *ConnectionFSM) handleAuthSurveyResult(ctx context.Context, body []byte) {
	result, err := wire.ParseAuthSurveyResult(body)
	if err != nil {
		c.log.Debug().Err(err).Msg("malformed auth survey result, ignoring")
		return
	}
	c.log.Debug().Uint32("survey_id", result.SurveyID).Bool("ran", result.Ran).Msg("survey result received")
	c.deps.EventBus.Emit(ctx, events.Event{
		Type:   events.EventSurveyCompleted,
		Source: "conn",
		Payload: events.SurveyResultPayload{
			Username: c.username, SurveyID: result.SurveyID, Ran: result.Ran,
		},
	})
}

func (c *ConnectionFSM) send(opcode uint16, body []byte) {
	frame := wire.WriteFrame(opcode, body, c.cipher)
	c.nc.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.nc.Write(frame); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
	}
}

// Close is the public, idempotent teardown entry point: it posts a
// shutdown task and returns immediately rather than blocking on the
// strand.
func (c *ConnectionFSM) Close() {
	c.post(func() { c.closeLocked(context.Background(), "closed") })
}

// closeLocked performs the actual teardown; it must only run on this
// connection's own strand. Calling it more than once is a no-op.
func (c *ConnectionFSM) closeLocked(ctx context.Context, reason string) {
	if c.state == StateClosed {
		return
	}
	fromState := c.state
	c.state = StateClosed

	c.once.Do(func() { close(c.done) })
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	c.nc.Close()
	c.deps.Registry.Unregister(c.id)

	switch fromState {
	case StateInQueue:
		c.deps.Queue.Dequeue(c.id)
	case StateCharacterList, StateInWorld:
		c.deps.Queue.Decrement()
	}

	c.deps.EventBus.Emit(ctx, events.Event{
		Type:   events.EventConnectionClosed,
		Source: "conn",
		Payload: events.ConnectionClosedPayload{
			RemoteAddr: c.remoteAddr,
			FromState:  fromState.String(),
		},
	})
	c.log.Debug().Str("reason", reason).Str("from_state", fromState.String()).Msg("connection closed")
}

var _ fmt.Stringer = State(0)
