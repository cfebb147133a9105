package transmission

import (
	"context"

	"github.com/fleeti/fleeti-sensors/internal/derive"
)

// Transmitter delivers derived sensor results downstream.
type Transmitter interface {
	Transmit(ctx context.Context, res *derive.Result) error
	IsConnected() bool
}

// Publisher is the subset of the MQTT client used by MQTTTransmitter.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}
