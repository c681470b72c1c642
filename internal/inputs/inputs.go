// Package inputs implements the pull-contract drivers of spec.md §6: file
// tailing (single-line, multi-line, Oracle-XML) and the Lumberjack
// network listener. Both are fronted by the same Pull contract so
// internal/pipeline never needs to know which kind of input it is
// pulling from.
//
// The static type registry mirrors plugins/inputs.Add, reconstructed
// from its call site in plugins/inputs/logparser/logparser.go (the
// registry file itself was not retrieved; see DESIGN.md).
package inputs

import (
	"errors"
	"fmt"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/logging"
)

// Pulled is one logical event pulled from an input, before pipeline
// enrichment. Line is the raw/joined text payload for plain-text and
// multi-line inputs; Fields carries already-structured data (Oracle-XML
// ora.* fields, or fully-decoded Lumberjack server frames) that the
// pipeline merges on top of the mandatory fields it constructs.
type Pulled struct {
	Line   string
	Fields map[string]interface{}

	commit func() error
}

// Commit advances whatever committed position backs this input (a
// tailer's byte offset, §3 "Invariants": "advanced only after a complete
// logical event has been emitted downstream-or-stashed"). Network inputs
// have no position to commit and use a no-op.
func (p Pulled) Commit() error {
	if p.commit == nil {
		return nil
	}
	return p.commit()
}

// NewPulled builds a Pulled value with an explicit commit callback, for
// fake Input implementations (tests) that need to observe when the
// pipeline considers a line fully delivered.
func NewPulled(line string, fields map[string]interface{}, commit func() error) Pulled {
	return Pulled{Line: line, Fields: fields, commit: commit}
}

// Input is the pull contract of spec.md §6: pull(lines=N) ->
// list_of_events_or_nil. A nil error with a nil/empty slice means idle;
// ErrFatal signals the pipeline to destroy this input on the next tick.
type Input interface {
	Pull(max int) ([]Pulled, error)
	Removable() bool
	Close() error
}

// ErrFatal is returned by Pull when the input has failed unrecoverably
// and should be destroyed, per spec.md §6/§7.
var ErrFatal = errors.New("inputs: fatal pull error")

// Context carries the agent-wide settings an input factory needs beyond
// its own descriptor: the host label stamped into every event's source
// URI (§3) and the directory position files live under (§6).
type Context struct {
	Host   string
	LibDir string
}

// Factory builds an Input from its config and the path discovered for it
// (file inputs are instantiated once per watcher-discovered path; network
// inputs ignore path and bind once).
type Factory func(cfg *config.InputConfig, path string, ctx Context, log *logging.Logger) (Input, error)

var registry = map[string]Factory{}

// Register adds a factory to the static type registry (Design Note 3).
func Register(typ string, f Factory) {
	registry[typ] = f
}

// New looks up cfg.Type in the static registry. Unknown types are a
// configuration error, surfaced at startup per spec.md §7.
func New(cfg *config.InputConfig, path string, ctx Context, log *logging.Logger) (Input, error) {
	factory, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("inputs: unknown input type %q", cfg.Type)
	}
	return factory(cfg, path, ctx, log)
}

// IsWildcard reports whether cfg.Path contains glob metacharacters,
// meaning it must go through the wildcard watcher rather than being
// opened once at startup, per spec.md §4.1.
func IsWildcard(path string) bool {
	for _, c := range path {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
