package progress

import "context"

// Sink receives batches of events from the Hub. Consume may be called
// concurrently; implementations must be safe for parallel use.
type Sink interface {
	Consume(ctx context.Context, events []Event) error
	Close(ctx context.Context) error
}

// Emitter is the producer-facing side of the hub.
type Emitter interface {
	Emit(e Event)
}

// Nop is an Emitter that discards every event. Useful where progress
// reporting is optional.
type Nop struct{}

// Emit discards the event.
func (Nop) Emit(Event) {}
