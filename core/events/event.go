package events

// Event is a structured state change produced by a settlement or registry
// operation.
type Event interface {
	EventType() string
}

// Emitter delivers events to downstream consumers (RPC streams, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding everything. Components use
// it as the default so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
