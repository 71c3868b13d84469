package event

// Event is the interface all emitted payloads implement. Payloads are
// JSON-serialized for the outbound stream.
type Event interface {
	// EventName returns the discriminator used for routing.
	EventName() string

	// MarketID returns the market context (nil for global events).
	MarketID() *string
}

func marketRef(market string) *string {
	s := market
	return &s
}

// Emitter receives every state-changing event the engine produces.
// Implementations must not block the engine loop.
type Emitter interface {
	Emit(e Event)
}

// NopEmitter discards events. Used in tests and as a default.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// MultiEmitter fans each event out to every sink in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(e Event) {
	for _, sink := range m {
		sink.Emit(e)
	}
}
