// Package gateway wires every component into a running login gateway:
// config, patch resolver, account-service client, admission queue,
// session registry, ban cache, telemetry, health monitor, and the client
// listener itself.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kongor-project/loginway/internal/accountsvc"
	"github.com/kongor-project/loginway/internal/adminapi"
	"github.com/kongor-project/loginway/internal/conn"
	"github.com/kongor-project/loginway/internal/config"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/ipban"
	"github.com/kongor-project/loginway/internal/obs"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/registry"
	"github.com/kongor-project/loginway/internal/store"
)

// Gateway owns every long-lived component and coordinates their startup
// and shutdown as one unit.
type Gateway struct {
	cfg *config.Config

	db        *store.Database
	patcher   *patch.Patcher
	queue     *queue.AdmissionQueue
	sessions  *registry.SessionRegistry
	bans      *ipban.Cache
	eventBus  *events.EventBus
	account   accountsvc.AccountService
	health    *obs.Manager
	telemetry *obs.Telemetry
	admin     *adminapi.Server
	listener  *Listener

	loadGroup singleflight.Group
}

// New constructs a Gateway from configuration. It opens the store and
// builds every collaborator but does not yet bind the listen socket or
// start any goroutines — call Run for that.
func New(cfg *config.Config) (*Gateway, error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("gateway: opening store: %w", err)
	}

	eventBus := events.NewEventBus()

	banDAO := store.NewIpBanDAO(db)
	bans, err := ipban.New(banDAO, 4096)
	if err != nil {
		return nil, fmt.Errorf("gateway: building ban cache: %w", err)
	}

	allowed, err := parseAllowedVersions(cfg.Patch.AllowedBuilds)
	if err != nil {
		return nil, fmt.Errorf("gateway: parsing allowed versions: %w", err)
	}
	patcher := patch.NewPatcher(allowed, nil)

	q := queue.New(cfg.Admission.PopulationCap, eventBus)
	sessions := registry.New()
	account := accountsvc.New(cfg.Account)
	users := store.NewUserDAO(db)

	health := obs.NewManager(obs.HealthConfig{
		DiskPath:          cfg.Patch.Directory,
		HeartbeatInterval: 0, // Manager applies its own default
	}, eventBus, q, sessions)

	admin := adminapi.New(cfg.Admin, q, sessions, patcher, bans)

	var telemetry *obs.Telemetry
	if cfg.MQTT.Enabled {
		telemetry, err = obs.NewTelemetry(cfg.MQTT, eventBus)
		if err != nil {
			return nil, fmt.Errorf("gateway: building telemetry: %w", err)
		}
	}

	deps := conn.Deps{
		Patcher:           patcher,
		AccountSvc:        account,
		Queue:             q,
		Registry:          sessions,
		EventBus:          eventBus,
		LastLogin:         users,
		HandshakeTimeout:  time.Duration(cfg.Listen.HandshakeTimeoutS) * time.Second,
		KeepAliveInterval: time.Duration(cfg.Listen.KeepAliveIntervalS) * time.Second,
		MaxFrameSize:      cfg.Listen.MaxHeaderBytes,
	}
	listenAddr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	listener := NewListener(listenAddr, deps, bans)

	return &Gateway{
		cfg:       cfg,
		db:        db,
		patcher:   patcher,
		queue:     q,
		sessions:  sessions,
		bans:      bans,
		eventBus:  eventBus,
		account:   account,
		health:    health,
		telemetry: telemetry,
		admin:     admin,
		listener:  listener,
	}, nil
}

// EventBus returns the gateway's shared event bus, for wiring the operator
// CLI's shutdown command and any other external subscriber.
func (g *Gateway) EventBus() *events.EventBus { return g.eventBus }

// Queue returns the admission queue, for the operator CLI's status display.
func (g *Gateway) Queue() *queue.AdmissionQueue { return g.queue }

// Sessions returns the session registry, for the operator CLI's status and
// session-listing commands.
func (g *Gateway) Sessions() *registry.SessionRegistry { return g.sessions }

// Patcher returns the patch resolver, for the operator CLI's patch-bucket
// table.
func (g *Gateway) Patcher() *patch.Patcher { return g.patcher }

// Bans returns the ban cache, for the operator CLI's status display and
// for cmd/gateway's SIGHUP-triggered reload.
func (g *Gateway) Bans() *ipban.Cache { return g.bans }

// LoadPatches loads the patch set and reload the ban cache exactly once
// even if called concurrently; singleflight collapses overlapping calls.
// Run calls it at boot.
func (g *Gateway) LoadPatches(ctx context.Context) error {
	_, err, _ := g.loadGroup.Do("load_patches", func() (interface{}, error) {
		if err := g.patcher.LoadPatches(g.cfg.Patch.Directory, store.NewPatchDAO(g.db)); err != nil {
			return nil, err
		}
		if g.cfg.Patch.SurveyPath != "" {
			if err := g.patcher.SetSurvey(g.cfg.Patch.SurveyPath, g.cfg.Patch.SurveyID); err != nil {
				return nil, err
			}
		}
		if err := g.bans.Reload(); err != nil {
			return nil, err
		}
		if err := g.health.CheckBootDisk(); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Run starts every goroutine (listener, health monitor, admin API) and
// blocks until ctx is canceled or one of them fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.LoadPatches(ctx); err != nil {
		return fmt.Errorf("gateway: boot load failed: %w", err)
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return g.listener.Run(gctx) })
	grp.Go(func() error { g.health.Run(gctx); return nil })
	grp.Go(func() error { return g.admin.Run(gctx) })
	if g.telemetry != nil {
		grp.Go(func() error {
			if err := g.telemetry.Run(gctx); err != nil {
				log.Warn().Err(err).Msg("telemetry stopped (non-fatal)")
			}
			return nil
		})
	}

	log.Info().Msg("gateway running")
	err := grp.Wait()
	g.sessions.Shutdown()
	return err
}

// Close releases the gateway's own resources (the database handle) once
// Run has returned. It does not touch the collaborators Run already tore
// down via ctx cancellation.
func (g *Gateway) Close() error {
	return g.db.Close()
}
