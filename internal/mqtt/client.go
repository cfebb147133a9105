package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fleeti/fleeti-sensors/internal/config"
	"github.com/sirupsen/logrus"
)

// BaseTopic is the root of every state and availability topic.
const BaseTopic = "fleeti"

// Client wraps the paho client with QoS 1 publishing and bounded waits.
type Client struct {
	client mqtt.Client
	logger *logrus.Logger
}

// Options controls broker connection details.
type Options struct {
	ClientID    string
	InsecureTLS bool
	// WillTopic receives a retained "offline" if the connection drops. Optional.
	WillTopic string
}

// NewClient connects to the broker at mqttURL (ws, wss, mqtt or mqtts).
func NewClient(mqttURL string, o Options, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}
	clientID := fmt.Sprintf("fleeti-sensors-%s", o.ClientID)

	opts := mqtt.NewClientOptions()
	tlsConfig := &tls.Config{InsecureSkipVerify: o.InsecureTLS, MinVersion: tls.VersionTLS12} //nolint:gosec // opt-in

	var brokerURL string
	switch parsedURL.Scheme {
	case "ws":
		brokerURL = mqttURL
	case "wss":
		brokerURL = mqttURL
		opts.SetTLSConfig(tlsConfig)
	case "mqtt":
		brokerURL = strings.Replace(mqttURL, "mqtt://", "tcp://", 1)
	case "mqtts":
		brokerURL = strings.Replace(mqttURL, "mqtts://", "ssl://", 1)
		opts.SetTLSConfig(tlsConfig)
	default:
		return nil, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}
	logger.WithField("protocol", parsedURL.Scheme).Debug("Using MQTT broker")

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(time.Second)
	opts.SetConnectTimeout(config.MQTTTimeout)
	opts.SetMaxReconnectInterval(10 * time.Second)
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, "offline", 1, true)
	}

	if parsedURL.User != nil {
		password, _ := parsedURL.User.Password()
		opts.SetUsername(parsedURL.User.Username())
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})
	firstConnect := true
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if firstConnect {
			firstConnect = false
			return
		}
		logger.Info("MQTT reconnected")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(2 * config.MQTTTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker timed out")
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"client_id": clientID,
	}).Info("MQTT client connected")

	return &Client{client: client, logger: logger}, nil
}

// Publish publishes payload with QoS 1, waiting at most config.MQTTTimeout.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(config.MQTTTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, config.MQTTTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect waits up to quiesce milliseconds for pending work, then disconnects.
func (c *Client) Disconnect(quiesce uint) {
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// cleanURL removes credentials from URL for logging.
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}
	return parsed.String()
}

// TopicSegment makes s safe to use as one topic level.
func TopicSegment(s string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "+", "plus", "#", "hash")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// StateTopic is the retained JSON state topic of an asset.
func StateTopic(assetID string) string {
	return fmt.Sprintf("%s/%s/sensors", BaseTopic, TopicSegment(assetID))
}

// AvailabilityTopic carries "online"/"offline" for an asset.
func AvailabilityTopic(assetID string) string {
	return fmt.Sprintf("%s/%s/availability", BaseTopic, TopicSegment(assetID))
}

// BridgeAvailabilityTopic carries the connection state of this process.
func BridgeAvailabilityTopic(clientID string) string {
	return fmt.Sprintf("%s/bridge/%s/availability", BaseTopic, TopicSegment(clientID))
}

// DiscoveryTopic returns the Home Assistant discovery topic of one entity.
func DiscoveryTopic(prefix, component, assetID, objectID string) string {
	return fmt.Sprintf("%s/%s/fleeti_%s/%s/config", prefix, component, TopicSegment(assetID), TopicSegment(objectID))
}
