// Package pipeline implements the per-worker pull -> enrich -> dispatch ->
// stash/retry loop of spec.md §4.7, and the error taxonomy of §7.
package pipeline

import "errors"

// Error kinds, spec.md §7. These are sentinels the worker loop switches on
// with errors.Is; both are logged and handled locally inside one input's
// pass (pipeline.Worker.serve/enrich/pushToOutput), never surfaced to a
// caller. The third member of §7's taxonomy, an input that has failed
// unrecoverably, is inputs.ErrFatal: it causes per-entry destruction
// (Worker.serve), not a worker crash, so there is nothing for the
// supervisor to respawn on — a group's worker goroutine keeps running
// across any number of its own inputs being destroyed one at a time.
var (
	// ErrTransientTransport covers connect failure, write failure, read
	// timeout, ack mismatch: the event(s) are stashed, the worker
	// continues.
	ErrTransientTransport = errors.New("pipeline: transient transport error")

	// ErrInputCorruption covers malformed JSON on a format=json input:
	// the offending line is logged and dropped, no stash.
	ErrInputCorruption = errors.New("pipeline: input corruption")
)
