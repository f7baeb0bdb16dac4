package nats

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// Bus publishes engine events to NATS subjects. It satisfies both the
// repository and engine bus interfaces.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}

func (b *Bus) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.nc.Publish(topic, data)
}
