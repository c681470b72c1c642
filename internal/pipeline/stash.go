package pipeline

import "github.com/awesant/awesant-go/internal/event"

// unit tracks one logical event's delivery across every output bound to
// its type (spec.md §3 invariant: "Byte offset is advanced only after a
// complete logical event has been emitted downstream-or-stashed" — read
// together with §8 scenario 6, "position commit advances only after the
// drain", offset commit is deferred until the event has actually been
// *delivered* to every bound output, not merely stashed).
type unit struct {
	event   *event.Event
	commit  func() error
	pending int // outputs still owing delivery
	err     error
}

// settle records that one bound output has finished with this event
// (delivered, successfully, from either the first attempt or a later
// stash drain) and commits once every bound output has settled. The
// returned error, if any, is the position-commit error, for the caller
// to log.
func (u *unit) settle() error {
	u.pending--
	if u.pending == 0 && u.commit != nil {
		if err := u.commit(); err != nil {
			u.err = err
			return err
		}
	}
	return nil
}

// stashEntry is the Stash entry of spec.md §3: a triple of
// {output-ref, output-type, pending-events[]} held per input-type. Order
// within units is preserved and is drained before new pulls for that
// input-type proceed.
type stashEntry struct {
	output     *BoundOutput
	outputType string
	units      []*unit
}
