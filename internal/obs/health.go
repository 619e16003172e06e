package obs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/events"
)

// PopulationSource is the narrow contract health needs from the
// AdmissionQueue to report heartbeat vitals.
type PopulationSource interface {
	Population() int
	Len() int
}

// SessionSource is the narrow contract health needs from the
// SessionRegistry.
type SessionSource interface {
	Count() int
}

// HealthConfig controls the boot-time disk check and heartbeat cadence.
type HealthConfig struct {
	DiskPath          string
	HeartbeatInterval time.Duration
}

// Manager runs the gateway's two standing health checks: a boot-time disk
// space check, and a periodic heartbeat that republishes population,
// queue, and session counts onto the EventBus for Telemetry to pick up.
type Manager struct {
	cfg      HealthConfig
	eventBus *events.EventBus
	queue    PopulationSource
	sessions SessionSource
}

// NewManager builds a health Manager.
func NewManager(cfg HealthConfig, eventBus *events.EventBus, queue PopulationSource, sessions SessionSource) *Manager {
	return &Manager{cfg: cfg, eventBus: eventBus, queue: queue, sessions: sessions}
}

// CheckBootDisk runs the one-shot disk space check at startup and returns
// an error only if the disk usage could not be determined at all; a full
// disk is logged, not treated as fatal.
func (m *Manager) CheckBootDisk() error {
	usage, err := GetDiskUsage(m.cfg.DiskPath)
	if err != nil {
		return fmt.Errorf("obs: boot disk check: %w", err)
	}

	m.alertOnThreshold(context.Background(), usage)
	return nil
}

// Run launches the periodic heartbeat loop. It blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.HeartbeatInterval <= 0 {
		m.cfg.HeartbeatInterval = 30 * time.Second
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.cfg.HeartbeatInterval).Msg("health manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health manager stopped")
			return
		case <-ticker.C:
			m.heartbeat(ctx)
			if usage, err := GetDiskUsage(m.cfg.DiskPath); err == nil {
				m.alertOnThreshold(ctx, usage)
			}
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHeartbeat,
		Source: "health",
		Payload: events.HeartbeatPayload{
			Population: m.queue.Population(),
			QueueDepth: m.queue.Len(),
			Sessions:   m.sessions.Count(),
		},
	})
}

// alertOnThreshold emits a DiskAlert at 80/90/95/100% usage thresholds,
// mirroring the escalating severity the teacher's disk check used.
func (m *Manager) alertOnThreshold(ctx context.Context, usage DiskUsage) {
	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	case usage.UsedPercent >= 80:
		level = "info"
	default:
		return
	}

	log.Warn().
		Str("path", m.cfg.DiskPath).
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.FreeGB).
		Str("level", level).
		Msg("disk utilization threshold crossed")

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventDiskAlert,
		Source: "health",
		Payload: events.DiskAlertPayload{
			Path:        m.cfg.DiskPath,
			UsedPercent: usage.UsedPercent,
			FreeGB:      usage.FreeGB,
			Level:       level,
		},
	})
}
