package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/inputs"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/outputs"
	"github.com/awesant/awesant-go/internal/tailer"
)

// BoundOutput pairs a constructed output adapter with the routing keys
// (or "*") its descriptor's comma-separated Type names, per spec.md §3.
type BoundOutput struct {
	out  *outputs.Output
	keys []string
}

func (b *BoundOutput) matches(typ string) bool {
	for _, k := range b.keys {
		if k == "*" || k == typ {
			return true
		}
	}
	return false
}

// Close releases the underlying output adapter's transport, exposed for
// callers (internal/supervisor) that bind outputs outside a Worker's
// lifecycle.
func (b *BoundOutput) Close() error { return b.out.Close() }

// NewBoundOutput wraps an already-constructed *outputs.Output (e.g. one
// built with outputs.NewTestOutput around a testutil.Sink) with its
// routing keys, for tests that want to drive a Worker without the output
// registry.
func NewBoundOutput(out *outputs.Output, routingType string) *BoundOutput {
	return &BoundOutput{out: out, keys: parseRoutingKeys(routingType)}
}

func parseRoutingKeys(typ string) []string {
	parts := strings.Split(typ, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// inputEntry is one worker-owned input: either a literal path or a
// wildcard pattern backed by a tailer.Watcher, per spec.md §4.1
// "Wildcard expansion is performed by the worker, not the tailer."
type inputEntry struct {
	cfg  *config.InputConfig
	impl inputs.Input // nil for a not-yet-resolved wildcard entry

	pattern string
	watcher *tailer.Watcher // non-nil only for wildcard entries

	addFieldRules []compiledAddFieldRule

	nextPoll  time.Time
	destroyed bool
}

// counters are the "benchmark counters" spec.md §4.7 names but leaves
// unspecified; this implementation tracks pulled/pushed/stashed/dropped
// per input-type and logs a summary periodically (SPEC_FULL.md §3).
type counters struct {
	mu      sync.Mutex
	pulled  map[string]int64
	pushed  map[string]int64
	stashed map[string]int64
	dropped map[string]int64
}

func newCounters() *counters {
	return &counters{
		pulled:  map[string]int64{},
		pushed:  map[string]int64{},
		stashed: map[string]int64{},
		dropped: map[string]int64{},
	}
}

func (c *counters) add(m map[string]int64, typ string, n int64) {
	c.mu.Lock()
	m[typ] += n
	c.mu.Unlock()
}

// Worker runs the single-threaded pull -> enrich -> dispatch -> stash/retry
// loop of spec.md §4.7 for one process group's inputs.
type Worker struct {
	log    *logging.Logger
	host   string
	libDir string

	entries []*inputEntry
	bound   []*BoundOutput

	failed map[string][]*stashEntry // keyed by input-type, spec.md §3

	logWatchInterval time.Duration
	lastWatch        time.Time

	counters       *counters
	lastCounterLog time.Time

	stop chan struct{}
	done chan struct{}
}

// Config configures a Worker.
type Config struct {
	Host   string
	LibDir string
}

// SharedInput is one already-constructed input, built once by the
// supervisor per spec.md §4.8: a group declaring workers=N gets N Worker
// instances, but each underlying Input is constructed exactly once and
// shared across them. This is safe because the only input kind that
// supports workers>1 is the network (Lumberjack) listener, whose Pull
// drains a mutex-protected queue; file-based inputs are always forced to
// a single worker (§4.8), so their (non-reentrant) tailer is never pulled
// concurrently.
type SharedInput struct {
	Cfg  *config.InputConfig
	Impl inputs.Input // nil for a wildcard pattern, resolved per-worker by its own watcher
}

// BuildSharedInputs constructs one SharedInput per literal-path or
// network InputConfig; wildcard file patterns are left unresolved here
// (Impl nil) so each owning Worker runs its own watcher, matching
// spec.md §4.1's "wildcard expansion is performed by the worker."
func BuildSharedInputs(cfg Config, inputCfgs []*config.InputConfig, log *logging.Logger) []*SharedInput {
	out := make([]*SharedInput, 0, len(inputCfgs))
	for _, ic := range inputCfgs {
		si := &SharedInput{Cfg: ic}
		if ic.Path == "" || !inputs.IsWildcard(ic.Path) {
			impl, err := inputs.New(ic, ic.Path, inputs.Context{Host: cfg.Host, LibDir: cfg.LibDir}, log)
			if err != nil {
				log.Errorf("pipeline: constructing input %s: %v", ic.Type, err)
				continue
			}
			si.Impl = impl
		}
		out = append(out, si)
	}
	return out
}

// New builds a Worker over already-constructed shared inputs and bound
// outputs. Multiple Workers may be built over the same shared slice for
// a workers=N group (spec.md §4.8); see SharedInput.
func New(cfg Config, shared []*SharedInput, boundOutputs []*BoundOutput, log *logging.Logger) *Worker {
	w := &Worker{
		log:              log,
		host:             cfg.Host,
		libDir:           cfg.LibDir,
		bound:            boundOutputs,
		failed:           map[string][]*stashEntry{},
		logWatchInterval: 10 * time.Second,
		counters:         newCounters(),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	for _, si := range shared {
		ic := si.Cfg
		rules, _ := compileAddFieldRules(ic.AddFieldRules)
		entry := &inputEntry{cfg: ic, impl: si.Impl, addFieldRules: rules}
		if si.Impl == nil && ic.Path != "" && inputs.IsWildcard(ic.Path) {
			entry.pattern = ic.Path
			entry.watcher = tailer.NewWatcher(ic.Path)
		}
		if ic.LogWatchInterval.Duration() > 0 {
			w.logWatchInterval = ic.LogWatchInterval.Duration()
		}
		w.entries = append(w.entries, entry)
	}

	return w
}

// NewFromConfigs is a convenience constructor for tests and single-worker
// callers: it builds the shared inputs and the Worker in one call.
func NewFromConfigs(cfg Config, inputCfgs []*config.InputConfig, boundOutputs []*BoundOutput, log *logging.Logger) *Worker {
	return New(cfg, BuildSharedInputs(cfg, inputCfgs, log), boundOutputs, log)
}

// BindOutput constructs and binds an output adapter for an output
// descriptor + its concrete adapter kind, exported for the supervisor's
// wiring code.
func BindOutput(kind string, cfg *config.OutputConfig, log *logging.Logger) (*BoundOutput, error) {
	out, err := outputs.New(kind, cfg, log)
	if err != nil {
		return nil, err
	}
	return &BoundOutput{out: out, keys: parseRoutingKeys(cfg.Type)}, nil
}

// Run drives the worker loop until Stop is called, sleeping the
// remaining fraction of each input's poll interval, per spec.md §4.7
// step 4. Each input in the group is served once per pass; the loop as a
// whole paces itself to the fastest-poll input's remaining budget.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		start := time.Now()
		select {
		case <-w.stop:
			return
		default:
		}

		w.tick()

		// Pace to the fastest configured poll among this group's inputs,
		// matching spec.md §4.7's per-input poll/sleep cadence collapsed
		// onto one worker loop.
		var minPoll time.Duration
		for _, e := range w.entries {
			if d := e.cfg.Poll.Duration(); d > 0 && (minPoll == 0 || d < minPoll) {
				minPoll = d
			}
		}
		if minPoll == 0 {
			minPoll = config.DefaultPoll
		}
		elapsed := time.Since(start)
		if remaining := minPoll - elapsed; remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-w.stop:
				return
			}
		}
	}
}

// Stop requests a soft stop and waits for the current pass to finish,
// per spec.md §5 "Soft termination drains the current pull, completes
// in-flight pushes if possible, then exits." Calling Stop again after the
// worker has stopped returns immediately.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *Worker) tick() {
	w.rotateWatchers()
	w.dropDestroyed()

	now := time.Now()
	for _, e := range w.entries {
		if e.destroyed || e.impl == nil {
			continue
		}
		if now.Before(e.nextPoll) {
			continue
		}
		w.serve(e)
	}

	if time.Since(w.lastCounterLog) >= 60*time.Second {
		w.logCounters()
		w.lastCounterLog = time.Now()
	}
}

// rotateWatchers re-globs each wildcard input's pattern once per
// log_watch_interval and instantiates a new input per newly discovered
// file, with start_position=begin (spec.md §4.1).
func (w *Worker) rotateWatchers() {
	if time.Since(w.lastWatch) < w.logWatchInterval {
		return
	}
	w.lastWatch = time.Now()

	for _, e := range w.entries {
		if e.watcher == nil {
			continue
		}
		fresh, err := e.watcher.Poll()
		if err != nil {
			w.log.Errorf("pipeline: watching %s: %v", e.pattern, err)
			continue
		}
		for _, path := range fresh {
			cfg := *e.cfg
			cfg.StartPosition = "begin"
			impl, err := inputs.New(&cfg, path, inputs.Context{Host: w.host, LibDir: w.libDir}, w.log)
			if err != nil {
				w.log.Errorf("pipeline: instantiating discovered file %s: %v", path, err)
				continue
			}
			child := &inputEntry{cfg: &cfg, impl: impl, addFieldRules: e.addFieldRules}
			w.entries = append(w.entries, child)
		}
	}
}

// dropDestroyed removes inputs flagged for destruction, per spec.md §4.7
// step 2.
func (w *Worker) dropDestroyed() {
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.destroyed {
			if e.impl != nil {
				e.impl.Close()
			}
			continue
		}
		kept = append(kept, e)
	}
	w.entries = kept
}

// serve implements one input's pass of spec.md §4.7 step 3.
func (w *Worker) serve(e *inputEntry) {
	if e.impl.Removable() {
		e.destroyed = true
		return
	}

	// "If failed is non-empty and the input has no type, skip (cannot
	// route uncertain events in the presence of failures)." config.Load
	// always rejects a Type-less descriptor (Config.Validate), so this
	// only fires for a Worker built directly from a literal InputConfig
	// that skipped validation (tests, or a future programmatic caller).
	if len(w.failed) > 0 && e.cfg.Type == "" {
		return
	}

	if entries, ok := w.failed[e.cfg.Type]; ok && len(entries) > 0 {
		remaining := w.drain(e.cfg.Type, entries)
		if len(remaining) > 0 {
			w.failed[e.cfg.Type] = remaining
			return
		}
		delete(w.failed, e.cfg.Type)
	}

	pulled, err := e.impl.Pull(e.cfg.Lines)
	if err != nil {
		w.log.Errorf("pipeline: pulling %s (%s): %v", e.cfg.Type, e.cfg.Path, err)
		// Only an unrecoverable input error destroys the entry; an error
		// kind this loader doesn't recognize is logged and retried next
		// tick rather than torn down on a guess.
		if errors.Is(err, inputs.ErrFatal) {
			e.destroyed = true
		}
		return
	}
	if len(pulled) == 0 {
		e.nextPoll = time.Now().Add(e.cfg.Poll.Duration())
		return
	}

	w.counters.add(w.counters.pulled, e.cfg.Type, int64(len(pulled)))

	groups := map[string][]*unit{}
	for _, p := range pulled {
		ev, err := w.enrich(e, p)
		if err != nil {
			if errors.Is(err, ErrInputCorruption) {
				w.log.Errorf("pipeline: dropping corrupt input on %s: %v", e.cfg.Path, err)
				w.counters.add(w.counters.dropped, e.cfg.Type, 1)
			}
			continue
		}
		typ := ev.Type()
		u := &unit{event: ev, commit: p.Commit}
		groups[typ] = append(groups[typ], u)
	}

	for typ, units := range groups {
		w.dispatch(e.cfg.Type, typ, units)
	}
}

// enrich builds the mandatory-field event from a pulled line per spec.md
// §4.7's Enrich step. A non-nil error wraps ErrInputCorruption (malformed
// JSON on a format=json input, §7); the caller logs and drops the line
// rather than stashing it, since re-delivery would never fix the
// corruption.
func (w *Worker) enrich(e *inputEntry, p inputs.Pulled) (*event.Event, error) {
	tags := e.cfg.Tags.Values
	ev := event.New(w.host, e.cfg.Path, e.cfg.Type, tags, p.Line)
	if p.Fields != nil {
		ev.Merge(p.Fields)
	}

	if e.cfg.Format == "json" && p.Fields == nil {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(p.Line), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputCorruption, err)
		}
		if typ, ok := parsed["type"].(string); ok && typ != "" {
			ev.SetType(typ)
		}
		if rawTags, ok := parsed["tags"].([]interface{}); ok {
			for _, t := range rawTags {
				if s, ok := t.(string); ok {
					ev.AddTags(s)
				}
			}
			delete(parsed, "tags")
		}
		ev.Merge(parsed)
	}

	for k, v := range e.cfg.AddField {
		ev.Fields[k] = v
	}
	for _, rule := range e.addFieldRules {
		rule.apply(ev)
	}

	return ev, nil
}

// dispatch ships one type-group of events to every output bound to typ
// (or "*"), chunking into windows for outputs that support batching,
// pushing one-at-a-time JSON otherwise, per spec.md §4.7 and §6.
func (w *Worker) dispatch(itype, typ string, units []*unit) {
	matched := false
	for _, b := range w.bound {
		if !b.matches(typ) {
			continue
		}
		matched = true
		for _, u := range units {
			u.pending++
		}
		w.pushToOutput(b, itype, typ, units)
	}

	if !matched {
		// No output is bound to this type (or "*"): there is nothing to
		// wait for, so the position commits immediately rather than
		// stalling forever behind a pending count that can never reach
		// zero.
		for _, u := range units {
			if u.commit != nil {
				if err := u.commit(); err != nil {
					w.log.Errorf("pipeline: committing position for unrouted type %s: %v", typ, err)
				}
			}
		}
	}
}

// pushToOutput pushes units to b, windowed per b.out.MaxWindowSize(). On
// the first failed chunk, the remaining un-pushed units are stashed in
// failed[itype] under (b, typ) and no further chunks are attempted this pass, per
// spec.md §4.7: "On first failure from an output, append the remaining
// un-pushed events to failed[itype] under that (output, type) and stop
// pushing to that output for this pass."
func (w *Worker) pushToOutput(b *BoundOutput, itype, typ string, units []*unit) {
	window := b.out.MaxWindowSize()
	if window <= 0 {
		window = 1
	}

	for i := 0; i < len(units); i += window {
		end := i + window
		if end > len(units) {
			end = len(units)
		}
		chunk := units[i:end]

		events := make([]*event.Event, len(chunk))
		for j, u := range chunk {
			events[j] = u.event
		}

		if err := b.out.Push(events); err != nil {
			// Every output-adapter failure (connect refused, write error,
			// ack mismatch, timeout) is treated as transient: the events
			// are stashed for a later drain rather than dropped, per
			// spec.md §7's "transient transport error" kind.
			err = fmt.Errorf("%w: %v", ErrTransientTransport, err)
			w.log.Errorf("pipeline: push to output failed, stashing %d event(s) for type %s: %v", len(units)-i, typ, err)
			if errors.Is(err, ErrTransientTransport) {
				w.stashRemaining(b, itype, typ, units[i:])
			}
			return
		}
		for _, u := range chunk {
			if err := u.settle(); err != nil {
				w.log.Errorf("pipeline: committing position after delivery: %v", err)
			}
		}
		w.counters.add(w.counters.pushed, typ, int64(len(chunk)))
	}
}

func (w *Worker) stashRemaining(b *BoundOutput, itype, typ string, units []*unit) {
	w.counters.add(w.counters.stashed, typ, int64(len(units)))
	w.failed[itype] = append(w.failed[itype], &stashEntry{
		output:     b,
		outputType: typ,
		units:      units,
	})
}

// drain retries every stash entry for typ in order, preserving per-entry
// order (spec.md §3); an entry that still fails stays in the returned
// slice, in place, so the caller keeps w.failed[typ] pointed at it.
func (w *Worker) drain(typ string, entries []*stashEntry) []*stashEntry {
	var remaining []*stashEntry
	for _, se := range entries {
		window := se.output.out.MaxWindowSize()
		if window <= 0 {
			window = 1
		}

		i := 0
		for ; i < len(se.units); i += window {
			end := i + window
			if end > len(se.units) {
				end = len(se.units)
			}
			chunk := se.units[i:end]
			events := make([]*event.Event, len(chunk))
			for j, u := range chunk {
				events[j] = u.event
			}
			if err := se.output.out.Push(events); err != nil {
				break
			}
			for _, u := range chunk {
				if err := u.settle(); err != nil {
					w.log.Errorf("pipeline: committing position after drain delivery: %v", err)
				}
			}
			w.counters.add(w.counters.pushed, typ, int64(len(chunk)))
		}

		if i < len(se.units) {
			remaining = append(remaining, &stashEntry{
				output:     se.output,
				outputType: se.outputType,
				units:      se.units[i:],
			})
		}
	}
	return remaining
}

func (w *Worker) logCounters() {
	w.counters.mu.Lock()
	defer w.counters.mu.Unlock()
	for typ := range w.counters.pulled {
		w.log.Debugf("pipeline counters type=%s pulled=%d pushed=%d stashed=%d dropped=%d",
			typ, w.counters.pulled[typ], w.counters.pushed[typ], w.counters.stashed[typ], w.counters.dropped[typ])
	}
}
