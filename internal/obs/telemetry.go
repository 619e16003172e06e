package obs

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/config"
	"github.com/kongor-project/loginway/internal/events"
)

const (
	topicPopulation = "loginway/population"
	topicQueue      = "loginway/queue"
	topicAuth       = "loginway/auth"
	topicAdmin      = "loginway/admin"
)

// Telemetry publishes gateway events to an MQTT broker. It is the one
// consumer of the EventBus that crosses the process boundary; every other
// subscriber stays in-process.
type Telemetry struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	metadata map[string]interface{}
}

// NewTelemetry builds an MQTT client from cfg but does not connect yet.
func NewTelemetry(cfg config.MQTTConfig, eventBus *events.EventBus) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("obs: telemetry disabled in config")
	}

	sysInfo := GetSystemInfo()
	t := &Telemetry{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
			"arch":     sysInfo.Arch,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("loginway-%s", sysInfo.Hostname)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	t.client = mqtt.NewClient(opts)
	return t, nil
}

// Run connects, subscribes to gateway events, and blocks until ctx is
// cancelled.
func (t *Telemetry) Run(ctx context.Context) error {
	token := t.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("obs: mqtt connect: %w", token.Error())
	}

	t.eventBus.Subscribe(events.EventPopulationGrew, "telemetry.population", t.onPopulation)
	t.eventBus.Subscribe(events.EventPopulationFell, "telemetry.population", t.onPopulation)
	t.eventBus.Subscribe(events.EventQueued, "telemetry.queue", t.onQueue)
	t.eventBus.Subscribe(events.EventDequeued, "telemetry.queue", t.onQueue)
	t.eventBus.Subscribe(events.EventAuthSucceeded, "telemetry.auth", t.onAuth)
	t.eventBus.Subscribe(events.EventAuthFailed, "telemetry.auth", t.onAuth)
	defer func() {
		t.eventBus.Unsubscribe(events.EventPopulationGrew, "telemetry.population")
		t.eventBus.Unsubscribe(events.EventPopulationFell, "telemetry.population")
		t.eventBus.Unsubscribe(events.EventQueued, "telemetry.queue")
		t.eventBus.Unsubscribe(events.EventDequeued, "telemetry.queue")
		t.eventBus.Unsubscribe(events.EventAuthSucceeded, "telemetry.auth")
		t.eventBus.Unsubscribe(events.EventAuthFailed, "telemetry.auth")
	}()

	<-ctx.Done()

	t.publish(topicAdmin, map[string]interface{}{"event": "shutdown"})
	t.client.Disconnect(5000)
	log.Info().Msg("mqtt disconnected")
	return nil
}

func (t *Telemetry) onPopulation(_ context.Context, ev events.Event) error {
	t.publish(topicPopulation, ev.Payload)
	return nil
}

func (t *Telemetry) onQueue(_ context.Context, ev events.Event) error {
	t.publish(topicQueue, ev.Payload)
	return nil
}

func (t *Telemetry) onAuth(_ context.Context, ev events.Event) error {
	t.publish(topicAuth, ev.Payload)
	return nil
}

func (t *Telemetry) publish(topic string, payload interface{}) {
	if !t.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(t.metadata)+2)
	for k, v := range t.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal mqtt message")
		return
	}

	token := t.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}
