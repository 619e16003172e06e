package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/conn"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/ipban"
	"github.com/kongor-project/loginway/internal/netutil"
)

// Listener accepts client connections, drops banned IPs before a single
// byte is read from the socket, and hands everything else off to a fresh
// ConnectionFSM. Grounded on the teacher's internal/network/tcp_listener.go
// accept loop.
type Listener struct {
	addr string
	deps conn.Deps
	bans *ipban.Cache

	listener net.Listener
}

// NewListener builds a Listener bound to addr (host:port).
func NewListener(addr string, deps conn.Deps, bans *ipban.Cache) *Listener {
	return &Listener{addr: addr, deps: deps, bans: bans}
}

// Run binds the listen socket and accepts connections until ctx is
// canceled.
func (l *Listener) Run(ctx context.Context) error {
	lc := netutil.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", l.addr, err)
	}
	l.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Str("addr", l.addr).Msg("gateway listener started")

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("gateway listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go l.handleAccept(ctx, nc)
	}
}

func (l *Listener) handleAccept(ctx context.Context, nc net.Conn) {
	remoteIP := remoteIP(nc)
	if remoteIP != nil && l.bans.IsBanned(remoteIP) {
		log.Warn().Str("remote", nc.RemoteAddr().String()).Msg("rejecting banned ip before handshake")
		l.deps.EventBus.Emit(ctx, events.Event{
			Type:   events.EventConnectionBanned,
			Source: "gateway",
			Payload: events.ConnectionBannedPayload{
				RemoteAddr: nc.RemoteAddr().String(),
				Rule:       "ip_ban_cache",
			},
		})
		nc.Close()
		return
	}

	id := uuid.NewString()
	serverSeed := rand.Uint32()
	fsm := conn.New(id, nc, l.deps, serverSeed)
	fsm.Run(ctx)
}

func remoteIP(nc net.Conn) net.IP {
	addr, ok := nc.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}
