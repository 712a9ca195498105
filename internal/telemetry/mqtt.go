// Package telemetry publishes lobby lifecycle events to an MQTT broker,
// grounded on the teacher's internal/telemetry/mqtt.go MQTTHandler. It
// never touches session state; it only ever subscribes to the event bus
// internal/hostloop publishes to, matching spec §5's rule that ambient
// side-services never mutate session state directly.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/w3gshost/w3gshost/internal/config"
	"github.com/w3gshost/w3gshost/internal/events"
	"github.com/w3gshost/w3gshost/internal/util"
)

// Topic prefixes. Every topic is namespaced under the lobby's host
// counter so one broker can carry telemetry for several concurrent hosts
// on the same machine.
const (
	topicStatus    = "status"
	topicLobby     = "lobby"
	topicPlayer    = "player"
	topicCountdown = "countdown"
	topicLag       = "lag"
	topicAdmin     = "admin"
)

// Publisher owns the MQTT connection and forwards EventBus events to it.
type Publisher struct {
	cfg      config.MQTTConfig
	hostCounter uint32
	bus      *events.EventBus
	client   mqtt.Client
	metadata map[string]interface{}
}

// NewPublisher builds a Publisher bound to bus. It does not connect until
// Start is called.
func NewPublisher(cfg config.MQTTConfig, hostCounter uint32, bus *events.EventBus) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("telemetry: mqtt disabled (no broker_url configured)")
	}

	sysInfo := util.GetSystemInfo()
	p := &Publisher{
		cfg:         cfg,
		hostCounter: hostCounter,
		bus:         bus,
		metadata: map[string]interface{}{
			"hostname":     sysInfo.Hostname,
			"platform":     string(sysInfo.Platform),
			"host_counter": hostCounter,
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
		clientID = fmt.Sprintf("w3gshost-%d", hostCounter)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("telemetry: load mqtt tls cert: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("telemetry: mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("telemetry: mqtt connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p, nil
}

// topic builds a host-counter-scoped topic name.
func (p *Publisher) topic(suffix string) string {
	return fmt.Sprintf("w3gshost/%d/%s", p.hostCounter, suffix)
}

// Start connects to the broker, subscribes to the event bus, and blocks
// until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	log.Info().Str("broker", p.cfg.BrokerURL).Int("port", p.cfg.Port).Msg("telemetry: connecting to mqtt broker")

	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: mqtt connect: %w", token.Error())
	}

	p.subscribeEvents()
	p.publish(p.topic(topicAdmin), map[string]interface{}{"event": "lobby_online"})

	<-ctx.Done()

	p.publish(p.topic(topicAdmin), map[string]interface{}{"event": "lobby_offline"})
	p.client.Disconnect(500)
	log.Info().Msg("telemetry: mqtt disconnected")
	return nil
}

func (p *Publisher) subscribeEvents() {
	p.bus.Subscribe(events.EventSessionStatus, "mqtt.status", p.onSessionStatus)
	p.bus.Subscribe(events.EventPlayerJoined, "mqtt.playerJoined", p.onPlayerJoined)
	p.bus.Subscribe(events.EventPlayerLeft, "mqtt.playerLeft", p.onPlayerLeft)
	p.bus.Subscribe(events.EventCountDownStarted, "mqtt.countdownStarted", p.onCountDown)
	p.bus.Subscribe(events.EventCountDownAborted, "mqtt.countdownAborted", p.onCountDown)
	p.bus.Subscribe(events.EventGameStarted, "mqtt.gameStarted", p.onCountDown)
	p.bus.Subscribe(events.EventLagStarted, "mqtt.lagStarted", p.onLag)
	p.bus.Subscribe(events.EventLagStopped, "mqtt.lagStopped", p.onLag)
	p.bus.Subscribe(events.EventLobbyCreated, "mqtt.lobbyCreated", p.onLobbyLifecycle)
	p.bus.Subscribe(events.EventLobbyClosed, "mqtt.lobbyClosed", p.onLobbyLifecycle)
}

func (p *Publisher) onLobbyLifecycle(_ context.Context, event events.Event) error {
	p.publish(p.topic(topicLobby), map[string]interface{}{"event": string(event.Type), "payload": event.Payload})
	return nil
}

func (p *Publisher) onSessionStatus(_ context.Context, event events.Event) error {
	p.publish(p.topic(topicStatus), event.Payload)
	return nil
}

func (p *Publisher) onPlayerJoined(_ context.Context, event events.Event) error {
	p.publish(p.topic(topicPlayer), map[string]interface{}{"event": "joined", "payload": event.Payload})
	return nil
}

func (p *Publisher) onPlayerLeft(_ context.Context, event events.Event) error {
	p.publish(p.topic(topicPlayer), map[string]interface{}{"event": "left", "payload": event.Payload})
	return nil
}

func (p *Publisher) onCountDown(_ context.Context, event events.Event) error {
	p.publish(p.topic(topicCountdown), map[string]interface{}{"event": string(event.Type)})
	return nil
}

func (p *Publisher) onLag(_ context.Context, event events.Event) error {
	p.publish(p.topic(topicLag), map[string]interface{}{"event": string(event.Type), "payload": event.Payload})
	return nil
}

func (p *Publisher) publish(topic string, payload interface{}) {
	if !p.client.IsConnected() {
		return
	}
	msg := make(map[string]interface{}, len(p.metadata)+2)
	for k, v := range p.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("telemetry: failed to marshal mqtt message")
		return
	}
	token := p.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("telemetry: mqtt publish failed")
		}
	}()
}
