package main

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const mqttConnectTimeout = 10 * time.Second

// mqttBridge republishes lifecycle events and zone snapshots to an MQTT
// broker so external automation can follow the receivers without polling
// the HTTP API.
type mqttBridge struct {
	client  paho.Client
	prefix  string
	devices map[string]*Device
	zone2   bool
	unsub   func()
	log     zerolog.Logger
}

func startMQTTBridge(cfg MQTTConfig, bus *Bus, devices map[string]*Device, zone2Enabled bool, log zerolog.Logger) (*mqttBridge, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("arcam-control-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	bridge := &mqttBridge{
		client:  client,
		prefix:  cfg.TopicPrefix,
		devices: devices,
		zone2:   zone2Enabled,
		log:     log,
	}
	bridge.unsub = bus.Subscribe(bridge.onEvent)
	log.Info().Str("broker", cfg.Broker).Msg("MQTT bridge connected")
	return bridge, nil
}

func (b *mqttBridge) stop() {
	b.unsub()
	b.client.Disconnect(250)
}

func (b *mqttBridge) onEvent(ev Event) {
	device, ok := b.devices[ev.Host]
	if !ok {
		return
	}
	switch ev.Kind {
	case EventStarted:
		b.publishAvailability(ev.Host, "online")
		b.publishZones(device)
	case EventStopped:
		b.publishAvailability(ev.Host, "offline")
	case EventData:
		b.publishZones(device)
	}
}

func (b *mqttBridge) publishAvailability(host, state string) {
	topic := fmt.Sprintf("%s/%s/availability", b.prefix, host)
	token := b.client.Publish(topic, 0, true, state)
	go b.logToken(topic, token)
}

func (b *mqttBridge) publishZones(device *Device) {
	status := device.status(b.zone2)
	for zone, zs := range status.Zones {
		payload, err := json.Marshal(zs)
		if err != nil {
			b.log.Debug().Err(err).Msg("Failed to marshal zone snapshot")
			continue
		}
		topic := fmt.Sprintf("%s/%s/zone%s/state", b.prefix, device.Host(), zone)
		token := b.client.Publish(topic, 0, false, payload)
		go b.logToken(topic, token)
	}
}

func (b *mqttBridge) logToken(topic string, token paho.Token) {
	token.Wait()
	if err := token.Error(); err != nil {
		b.log.Debug().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}
