package homeassistant

import (
	"fmt"
	"strings"
	"unicode"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// Konstanten für Home Assistant MQTT Discovery
const (
	DefaultDiscoveryPrefix = "homeassistant"
	ComponentSensor        = "sensor"
	NodeID                 = "face_attendance"
)

// Broker ist der Teil des MQTT-Clients, den die Integration braucht
type Broker interface {
	Publish(topic string, payload interface{}) error
	PublishRetain(topic string, payload interface{}) error
	Topic(parts ...string) string
	AvailabilityTopic() string
}

var _ Broker = (*mqtt.Client)(nil)

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	broker Broker
	prefix string
	device *Device
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(broker Broker, discoveryPrefix string) *DiscoveryManager {
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryManager{
		broker: broker,
		prefix: discoveryPrefix,
		device: &Device{
			Identifiers:  []string{NodeID},
			Name:         "Face Attendance",
			Manufacturer: "face-attendance-go",
			Model:        "Camera attendance",
		},
	}
}

// RegisterPersons veröffentlicht je Person einen Anwesenheitssensor
func (dm *DiscoveryManager) RegisterPersons(persons []models.Person) error {
	var failed int
	for _, p := range persons {
		if err := dm.registerPersonSensor(p); err != nil {
			log.Errorf("Failed to register sensor for %s: %v", p.Name, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sensors could not be registered", failed, len(persons))
	}
	log.Infof("Registered %d Home Assistant attendance sensors", len(persons))
	return nil
}

func (dm *DiscoveryManager) registerPersonSensor(p models.Person) error {
	slug := Slug(p.Name)
	sensor := SensorConfig{
		Name:                fmt.Sprintf("Attendance %s", p.Name),
		UniqueID:            fmt.Sprintf("%s_%d", NodeID, p.ID),
		StateTopic:          StateTopic(dm.broker, slug),
		JSONAttributesTopic: AttributesTopic(dm.broker, slug),
		Icon:                "mdi:account-clock",
		AvailabilityTopic:   dm.broker.AvailabilityTopic(),
		PayloadAvailable:    mqtt.PayloadOnline,
		PayloadNotAvailable: mqtt.PayloadOffline,
		Device:              dm.device,
	}

	topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.prefix, ComponentSensor, NodeID, slug)
	if err := dm.broker.PublishRetain(topic, sensor); err != nil {
		return fmt.Errorf("failed to publish discovery configuration: %w", err)
	}
	return nil
}

// StateTopic liefert das Status-Topic einer Person
func StateTopic(b Broker, slug string) string {
	return b.Topic("persons", slug, "state")
}

// AttributesTopic liefert das Attribut-Topic einer Person
func AttributesTopic(b Broker, slug string) string {
	return b.Topic("persons", slug, "attributes")
}

// Slug normalisiert einen Namen für Topics (Kleinbuchstaben, Unterstriche)
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
