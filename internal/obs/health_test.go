package obs

import (
	"context"
	"testing"
	"time"

	"github.com/kongor-project/loginway/internal/events"
)

type fakePopulation struct {
	population int
	depth      int
}

func (f *fakePopulation) Population() int { return f.population }
func (f *fakePopulation) Len() int         { return f.depth }

type fakeSessions struct{ count int }

func (f *fakeSessions) Count() int { return f.count }

func TestHeartbeatEmitsSnapshot(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.HeartbeatPayload, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, ev events.Event) error {
		got <- ev.Payload.(events.HeartbeatPayload)
		return nil
	})

	mgr := NewManager(HealthConfig{DiskPath: "/"}, bus, &fakePopulation{population: 5, depth: 2}, &fakeSessions{count: 7})
	mgr.heartbeat(context.Background())

	select {
	case p := <-got:
		if p.Population != 5 || p.QueueDepth != 2 || p.Sessions != 7 {
			t.Fatalf("unexpected heartbeat payload: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat event")
	}
}

func TestAlertOnThresholdBelowThresholdEmitsNothing(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.DiskAlertPayload, 1)
	bus.Subscribe(events.EventDiskAlert, "test", func(_ context.Context, ev events.Event) error {
		got <- ev.Payload.(events.DiskAlertPayload)
		return nil
	})

	mgr := NewManager(HealthConfig{DiskPath: "/"}, bus, &fakePopulation{}, &fakeSessions{})
	mgr.alertOnThreshold(context.Background(), DiskUsage{TotalGB: 100, FreeGB: 50, UsedPercent: 50})

	select {
	case p := <-got:
		t.Fatalf("expected no alert below threshold, got %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAlertOnThresholdCriticalLevel(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.DiskAlertPayload, 1)
	bus.Subscribe(events.EventDiskAlert, "test", func(_ context.Context, ev events.Event) error {
		got <- ev.Payload.(events.DiskAlertPayload)
		return nil
	})

	mgr := NewManager(HealthConfig{DiskPath: "/data"}, bus, &fakePopulation{}, &fakeSessions{})
	mgr.alertOnThreshold(context.Background(), DiskUsage{TotalGB: 100, FreeGB: 0, UsedPercent: 100})

	select {
	case p := <-got:
		if p.Level != "critical" || p.Path != "/data" {
			t.Fatalf("unexpected alert payload: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disk alert event")
	}
}
