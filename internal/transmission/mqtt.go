package transmission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/derive"
	"github.com/fleeti/fleeti-sensors/internal/mqtt"
	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// MQTTTransmitter publishes derived results and their Home Assistant discovery configs.
type MQTTTransmitter struct {
	client          Publisher
	discoveryPrefix string
	swVersion       string
	logger          *logrus.Logger

	mu        sync.Mutex
	published map[string]bool // discovery topics already sent
	online    map[string]bool // assets announced online
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration.
type HADiscoveryConfig struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	ObjectID          string   `json:"object_id,omitempty"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	Device            HADevice `json:"device"`
}

// HADevice represents the device information for Home Assistant.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// entity is one Home Assistant entity derived from an accessory.
type entity struct {
	component string // binary_sensor or sensor
	objectID  string
	name      string
	class     string
	unit      string
}

// statePayload is the retained JSON document on the state topic. Readings
// flattens every value by entity object id for discovery value templates.
type statePayload struct {
	AssetID       string                     `json:"asset_id"`
	LastUpdatedAt time.Time                  `json:"last_updated_at"`
	Readings      map[string]float64         `json:"readings"`
	Magnet        []sensors.MagnetEntry      `json:"magnet"`
	Environment   []sensors.EnvironmentEntry `json:"environment"`
}

// NewMQTTTransmitter creates a transmitter on top of an MQTT publisher.
func NewMQTTTransmitter(client Publisher, discoveryPrefix, swVersion string, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:          client,
		discoveryPrefix: discoveryPrefix,
		swVersion:       swVersion,
		logger:          logger,
		published:       make(map[string]bool),
		online:          make(map[string]bool),
	}
}

// Transmit publishes discovery configs for new entities, the retained state
// and, the first time an asset is seen, its availability.
func (t *MQTTTransmitter) Transmit(_ context.Context, res *derive.Result) error {
	if res == nil {
		return nil
	}
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entities(res) {
		if err := t.publishDiscovery(res.AssetID, e); err != nil {
			// Keep going, the state is still useful without the config.
			t.logger.WithError(err).WithField("entity", e.objectID).Error("Failed to publish discovery config")
		}
	}

	payload, err := json.Marshal(buildState(res))
	if err != nil {
		return fmt.Errorf("failed to build state payload: %w", err)
	}
	topic := mqtt.StateTopic(res.AssetID)
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish sensor data to %s: %w", topic, err)
	}
	t.logger.WithFields(logrus.Fields{
		"topic":       topic,
		"magnet":      len(res.Magnet),
		"environment": len(res.Environment),
	}).Info("Published sensor data")

	if !t.online[res.AssetID] {
		if err := t.publishAvailability(res.AssetID, true); err != nil {
			return err
		}
		t.online[res.AssetID] = true
	}
	return nil
}

// Close marks every announced asset offline.
func (t *MQTTTransmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.client.IsConnected() {
		return nil
	}
	var firstErr error
	for assetID := range t.online {
		if err := t.publishAvailability(assetID, false); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.online, assetID)
	}
	return firstErr
}

// IsConnected checks if the MQTT client is connected.
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *MQTTTransmitter) publishDiscovery(assetID string, e entity) error {
	topic := mqtt.DiscoveryTopic(t.discoveryPrefix, e.component, assetID, e.objectID)
	if t.published[topic] {
		return nil
	}

	uniqueID := fmt.Sprintf("fleeti_%s_%s", mqtt.TopicSegment(assetID), e.objectID)
	cfg := HADiscoveryConfig{
		Name:              e.name,
		UniqueID:          uniqueID,
		ObjectID:          uniqueID,
		StateTopic:        mqtt.StateTopic(assetID),
		ValueTemplate:     fmt.Sprintf("{{ value_json.readings['%s'] | default('unknown') }}", e.objectID),
		DeviceClass:       e.class,
		UnitOfMeasurement: e.unit,
		AvailabilityTopic: mqtt.AvailabilityTopic(assetID),
		Device: HADevice{
			Identifiers:  []string{"fleeti_" + mqtt.TopicSegment(assetID)},
			Name:         "Fleeti " + assetID,
			Model:        "Asset",
			Manufacturer: "Fleeti",
			SWVersion:    t.swVersion,
		},
	}
	if e.component == "binary_sensor" {
		cfg.ValueTemplate = fmt.Sprintf("{{ value_json.readings['%s'] | int(-1) }}", e.objectID)
		cfg.PayloadOn = "1"
		cfg.PayloadOff = "0"
	} else {
		cfg.StateClass = "measurement"
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish discovery config to %s: %w", topic, err)
	}
	t.published[topic] = true

	t.logger.WithFields(logrus.Fields{
		"entity": e.objectID,
		"topic":  topic,
	}).Info("Published discovery config")
	return nil
}

func (t *MQTTTransmitter) publishAvailability(assetID string, online bool) error {
	payload := "online"
	if !online {
		payload = "offline"
	}
	topic := mqtt.AvailabilityTopic(assetID)
	if err := t.client.Publish(topic, []byte(payload), true); err != nil {
		return fmt.Errorf("failed to publish availability to %s: %w", topic, err)
	}
	return nil
}

// entities lists the Home Assistant entities backed by res.
func entities(res *derive.Result) []entity {
	var out []entity
	for _, m := range res.Magnet {
		out = append(out, entity{
			component: "binary_sensor",
			objectID:  objectID(sensors.FamilyMagnet, m.ID),
			name:      displayName(m.Name, m.Label, m.ID),
			class:     "door",
		})
	}
	for _, e := range res.Environment {
		for _, f := range sensors.EnvironmentFamilies {
			m := e.Get(f)
			if m == nil {
				continue
			}
			out = append(out, entity{
				component: "sensor",
				objectID:  objectID(f, e.ID),
				name:      displayName(e.Name, e.Label, e.ID) + " " + string(f),
				class:     string(f),
				unit:      m.Unit,
			})
		}
	}
	return out
}

func buildState(res *derive.Result) statePayload {
	readings := make(map[string]float64)
	for _, m := range res.Magnet {
		if m.State != nil {
			readings[objectID(sensors.FamilyMagnet, m.ID)] = float64(*m.State)
		}
	}
	for _, e := range res.Environment {
		for _, f := range sensors.EnvironmentFamilies {
			if m := e.Get(f); m != nil {
				readings[objectID(f, e.ID)] = m.Value
			}
		}
	}
	return statePayload{
		AssetID:       res.AssetID,
		LastUpdatedAt: res.LastUpdatedAt,
		Readings:      readings,
		Magnet:        res.Magnet,
		Environment:   res.Environment,
	}
}

func objectID(f sensors.Family, accessoryID string) string {
	return mqtt.TopicSegment(string(f) + "_" + accessoryID)
}

func displayName(name, label, id string) string {
	switch {
	case name != "":
		return name
	case label != "":
		return label
	}
	return id
}
