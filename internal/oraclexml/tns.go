package oraclexml

import (
	"regexp"
	"strings"
)

// tnsMarkerAsterisks is the literal marker that opens a TNS multi-message:
// "the text of an envelope begins with 71 asterisks" (spec.md §4.3).
const tnsMarkerAsterisks = 71

func isTNSMarker(text string) bool {
	return strings.HasPrefix(text, strings.Repeat("*", tnsMarkerAsterisks))
}

var tnsContinuationRe = regexp.MustCompile(`^(\s+|TNS|Fatal NI connect error)`)

// isTNSContinuation reports whether text looks like part of an
// already-open TNS block: "indented, or TNS…, or Fatal NI connect
// error…" (spec.md §4.3).
func isTNSContinuation(text string) bool {
	return tnsContinuationRe.MatchString(text)
}

// tnsKey is one entry of the canonical TNS sub-message key ordering,
// spec.md §4.3: "NI → VERSION INFORMATION → Time → Tracing → Tns error
// struct → (nr err, TNS-nr) → (ns main err, TNS-ns) → ns secondary →
// (nt main, TNS-nt) → nt secondary → nt OS → Client address (states
// 10…150)".
type tnsKey struct {
	state    int
	name     string
	patterns []string
}

var tnsKeys = []tnsKey{
	{10, "NI", []string{"NI"}},
	{20, "VERSION INFORMATION", []string{"VERSION INFORMATION"}},
	{30, "Time", []string{"Time:"}},
	{40, "Tracing", []string{"Tracing"}},
	{50, "Tns error struct", []string{"Tns error struct"}},
	{70, "nr err", []string{"nr err", "TNS-nr"}},
	{90, "ns main err", []string{"ns main err", "TNS-ns"}},
	{100, "ns secondary", []string{"ns secondary"}},
	{120, "nt main", []string{"nt main", "TNS-nt"}},
	{130, "nt secondary", []string{"nt secondary"}},
	{140, "nt OS", []string{"nt OS"}},
	{150, "Client address", []string{"Client address"}},
}

// classify returns the canonical state for text, or (0, "") if text does
// not open a new keyed sub-section (in which case it belongs to whatever
// section is currently open, or to the preamble if none is open yet).
func classify(text string) (int, string) {
	for _, k := range tnsKeys {
		for _, p := range k.patterns {
			if strings.Contains(text, p) {
				return k.state, k.name
			}
		}
	}
	return 0, ""
}

// tnsSection is one keyed section of a TNS message being assembled.
type tnsSection struct {
	state int
	name  string
	lines []string
}

// tnsMessage accumulates sections in increasing state order. Feeding a
// continuation whose classified state is <= the last-seen state (and
// non-zero) indicates interleaving with another TNS message: tryAdd
// rejects it so the caller can hold it in the backlog instead.
type tnsMessage struct {
	firstEnv *envelope // attributes of the envelope that opened this message
	preamble []string  // unkeyed lines seen before the first keyed section
	sections []tnsSection
	last     int
}

// tryAdd attempts to place one continuation envelope's text into m. It
// returns false if text's classified state is out of order for m,
// meaning it belongs to a different, interleaved message.
func (m *tnsMessage) tryAdd(env *envelope) bool {
	if m.firstEnv == nil {
		m.firstEnv = env
	}

	state, name := classify(env.Text)
	if state == 0 {
		if len(m.sections) == 0 {
			m.preamble = append(m.preamble, env.Text)
		} else {
			last := &m.sections[len(m.sections)-1]
			last.lines = append(last.lines, env.Text)
		}
		return true
	}
	if m.last != 0 && state <= m.last {
		return false
	}
	m.sections = append(m.sections, tnsSection{state: state, name: name, lines: []string{env.Text}})
	m.last = state
	return true
}

// render joins m's preamble and sections in canonical state order into
// the final event text.
func (m *tnsMessage) render() string {
	parts := make([]string, 0, len(m.sections)+1)
	if len(m.preamble) > 0 {
		parts = append(parts, strings.Join(m.preamble, "\n"))
	}
	for _, s := range m.sections {
		parts = append(parts, strings.Join(s.lines, "\n"))
	}
	return strings.Join(parts, "\n")
}

// complete reports whether m has reached the "minimum completeness
// state" spec.md §4.3 requires before a closure may emit it: at least
// one keyed section beyond the bare marker line.
func (m *tnsMessage) complete() bool {
	return len(m.sections) > 0
}

// tnsBacklogEntry is one continuation envelope held back because it
// arrived out of order relative to the primary message being assembled.
type tnsBacklogEntry struct {
	env *envelope
}

// reconstructBacklog repeatedly scans the backlog greedily to rebuild as
// many additional TNS messages as possible, per spec.md §4.3: "the
// backlog is repeatedly scanned greedily to reconstruct additional TNS
// messages in order; any envelope that cannot be placed is emitted with
// ora.type = 'TNS mess'".
func reconstructBacklog(backlog []tnsBacklogEntry) (messages []*tnsMessage, leftover []tnsBacklogEntry) {
	remaining := backlog
	for len(remaining) > 0 {
		msg := &tnsMessage{}
		var unplaced []tnsBacklogEntry
		placedAny := false
		for _, entry := range remaining {
			if msg.tryAdd(entry.env) {
				placedAny = true
			} else {
				unplaced = append(unplaced, entry)
			}
		}
		if !placedAny {
			leftover = append(leftover, remaining...)
			break
		}
		messages = append(messages, msg)
		remaining = unplaced
	}
	return messages, leftover
}
