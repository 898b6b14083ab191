package mqtt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"face-attendance-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Payloads für das Availability-Topic
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Client ist der MQTT-Client für Anwesenheits- und Presence-Nachrichten
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected atomic.Bool
	onConnect   []func()
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// AvailabilityTopic liefert das Topic für den Online-Status
func (c *Client) AvailabilityTopic() string {
	return c.config.TopicPrefix + "/status"
}

// Topic setzt ein Topic unterhalb des konfigurierten Präfix zusammen
func (c *Client) Topic(parts ...string) string {
	topic := c.config.TopicPrefix
	for _, p := range parts {
		topic += "/" + p
	}
	return topic
}

// OnConnect registriert eine Funktion, die nach jedem (Wieder-)Verbinden läuft
func (c *Client) OnConnect(fn func()) {
	c.onConnect = append(c.onConnect, fn)
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Home Assistant sieht den Dienst als offline, wenn die Verbindung abreißt
	opts.SetWill(c.AvailabilityTopic(), PayloadOffline, 1, true)
	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}
	log.Info("MQTT client connected successfully")
	return nil
}

// Stop meldet den Dienst offline und trennt die Verbindung
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		if err := c.PublishRetain(c.AvailabilityTopic(), PayloadOffline); err != nil {
			log.WithError(err).Debug("Failed to publish offline status")
		}
		c.client.Disconnect(250)
		c.isConnected.Store(false)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	c.isConnected.Store(true)

	token := client.Publish(c.AvailabilityTopic(), 1, true, PayloadOnline)
	if token.Wait() && token.Error() != nil {
		log.Errorf("Failed to publish availability: %v", token.Error())
	}
	for _, fn := range c.onConnect {
		go fn()
	}
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	c.isConnected.Store(false)
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// encodePayload wandelt Strings, Bytes und Zahlen direkt um, alles andere als JSON
func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}
