// Package mqttsink publishes sensors as Home Assistant MQTT discovery
// entities.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"parcelwatch/internal/model"
)

type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	DiscoveryPrefix string
	BaseTopic       string
	AccountID       string
	Timeout         time.Duration
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Publisher struct {
	cfg    Config
	client publisher
	closer func()
}

// Connect dials the broker and announces availability. A last-will message
// marks the entities unavailable if the process dies.
func Connect(cfg Config) (*Publisher, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetWill(availabilityTopic(cfg), "offline", 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	p := &Publisher{cfg: cfg, client: client, closer: func() { client.Disconnect(250) }}
	if err := p.publish(availabilityTopic(cfg), "online"); err != nil {
		client.Disconnect(0)
		return nil, err
	}
	return p, nil
}

func withDefaults(cfg Config) Config {
	if cfg.ClientID == "" {
		cfg.ClientID = "parcelwatch"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "parcelwatch"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return cfg
}

type discoveryConfig struct {
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	ObjectID            string `json:"object_id"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic"`
	AvailabilityTopic   string `json:"availability_topic"`
	StateClass          string `json:"state_class"`
	Icon                string `json:"icon"`
	Device              device `json:"device"`
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	EntryType    string   `json:"entry_type"`
}

func (p *Publisher) SensorAdded(_ context.Context, v model.SensorView) {
	cfg := discoveryConfig{
		Name:                v.Name,
		UniqueID:            v.UniqueID,
		ObjectID:            v.Key,
		StateTopic:          p.sensorTopic(v, "state"),
		JSONAttributesTopic: p.sensorTopic(v, "attributes"),
		AvailabilityTopic:   availabilityTopic(p.cfg),
		StateClass:          "total",
		Icon:                "mdi:package-down",
		Device: device{
			Identifiers:  []string{"parcelwatch_" + p.cfg.AccountID},
			Name:         "Nova Poshta",
			Manufacturer: "Nova Poshta",
			EntryType:    "service",
		},
	}
	body, _ := json.Marshal(cfg)
	topic := fmt.Sprintf("%s/sensor/%s/config", p.cfg.DiscoveryPrefix, v.UniqueID)
	if err := p.publish(topic, body); err != nil {
		log.Printf("mqttsink: discovery key=%s err=%v", v.Key, err)
	}
}

// SensorUpdated republishes state and attributes on every poll; retained
// messages let late subscribers see the current value.
func (p *Publisher) SensorUpdated(_ context.Context, v model.SensorView, _ bool) {
	if err := p.publish(p.sensorTopic(v, "state"), fmt.Sprintf("%d", v.DeliveredCount)); err != nil {
		log.Printf("mqttsink: state key=%s err=%v", v.Key, err)
		return
	}
	attrs, _ := json.Marshal(map[string]any{"parcels": v.Parcels, "stale": v.Stale})
	if err := p.publish(p.sensorTopic(v, "attributes"), attrs); err != nil {
		log.Printf("mqttsink: attributes key=%s err=%v", v.Key, err)
	}
}

func (p *Publisher) Close() {
	if p.closer == nil {
		return
	}
	_ = p.publish(availabilityTopic(p.cfg), "offline")
	p.closer()
}

func (p *Publisher) publish(topic string, payload any) error {
	tok := p.client.Publish(topic, 1, true, payload)
	if !tok.WaitTimeout(p.cfg.Timeout) {
		return errors.New("publish timed out")
	}
	return tok.Error()
}

func (p *Publisher) sensorTopic(v model.SensorView, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.BaseTopic, v.UniqueID, leaf)
}

func availabilityTopic(cfg Config) string { return cfg.BaseTopic + "/availability" }
