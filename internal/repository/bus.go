package repository

// MessageBus decouples repositories from the transport publishing their
// events (NATS in production, a fake in tests).
type MessageBus interface {
	Publish(topic string, data []byte) error
}
