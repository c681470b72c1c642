// Package outputs implements the six output adapters of spec.md §6: a
// single push contract — push(event_or_batch) -> ok|err — fronting screen,
// file, redis, amqp, socket, and lumberjack-client transports.
//
// Adapter shape (small struct + Connect/Push/Close) is grounded on
// plugins/outputs/cratedb/cratedb.go's Connect/Init pattern; the static
// type registry is grounded on plugins/inputs.Add (reconstructed from the
// call site in plugins/inputs/logparser/logparser.go, per DESIGN.md).
package outputs

import (
	"encoding/json"
	"fmt"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
)

// Output is the push-contract adapter of spec.md §6. Push receives up to
// MaxWindowSize() events; if MaxWindowSize is 0, the pipeline always
// passes a single event and the adapter encodes it as one JSON string,
// per spec.md "If max_window_size is 0/absent, the adapter receives a
// single JSON string; otherwise it receives a sequence of event objects
// of length <= max_window_size."
type Output struct {
	Cfg  *config.OutputConfig
	impl adapter
}

// adapter is the minimal contract every concrete transport implements.
// Any falsy return from Push is a failure; the pipeline stashes and
// retries (spec.md §6, §7).
type adapter interface {
	Connect() error
	Push(events []*event.Event) error
	Close() error
}

// Factory builds a concrete adapter from an output descriptor.
type Factory func(cfg *config.OutputConfig, log *logging.Logger) (adapter, error)

var registry = map[string]Factory{}

// Register adds a factory to the static type registry (Design Note 3).
// Called from each adapter file's init().
func Register(typ string, f Factory) {
	registry[typ] = f
}

// New looks up cfg's concrete adapter type (distinct from cfg.Type, which
// is the comma-separated routing key set) in the static registry. Unknown
// types are a configuration error, surfaced at startup per spec.md §7.
func New(kind string, cfg *config.OutputConfig, log *logging.Logger) (*Output, error) {
	factory, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("outputs: unknown output kind %q", kind)
	}
	impl, err := factory(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("outputs: constructing %q: %w", kind, err)
	}
	return &Output{Cfg: cfg, impl: impl}, nil
}

// NewTestOutput wraps a pre-built adapter (e.g. a *testutil.Sink) as an
// *Output without going through the registry, for tests that want to
// exercise the pipeline against an in-memory double.
func NewTestOutput(cfg *config.OutputConfig, impl adapter) *Output {
	return &Output{Cfg: cfg, impl: impl}
}

// Connect opens the underlying transport.
func (o *Output) Connect() error { return o.impl.Connect() }

// Close releases the underlying transport.
func (o *Output) Close() error { return o.impl.Close() }

// MaxWindowSize reports the largest batch this output accepts per Push;
// zero means the pipeline must push one event at a time, JSON-encoded.
func (o *Output) MaxWindowSize() int { return o.Cfg.MaxWindowSize }

// Push ships events downstream. Any error is a transient transport error
// per spec.md §7: the caller stashes the remaining un-pushed events.
func (o *Output) Push(events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	return o.impl.Push(events)
}

// encodeJSON renders one event's Fields as the wire-visible JSON string
// used by the JSON-oriented adapters (screen, file, socket) and by the
// single-event fallback when MaxWindowSize is 0.
func encodeJSON(e *event.Event) ([]byte, error) {
	return json.Marshal(e.Fields)
}
