package interfaces

// EventPublisher pushes reconciliation events to downstream consumers.
// Publishing is best-effort from the engine's point of view: a failed
// publish never rolls back a committed reconciliation.
type EventPublisher interface {
	Publish(topic string, key string, event any) error
}

// NopPublisher discards all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, any) error { return nil }
