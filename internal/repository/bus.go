package repository

// MessageBus is the outbound event port. Publishing is best-effort: the
// ledger never rolls back a committed mutation because a publish failed.
type MessageBus interface {
	Publish(topic string, data []byte) error
}