// Package grouper implements the multi-line grouping state machine of
// spec.md §4.2: single-line, indented, indented-group, prefix-garbage,
// and prefix-suffix modes, plus the shared 10s idle flush.
//
// The state-machine shape (buffer + "does this line belong to the
// current event" predicate + flush-on-close) is grounded directly on
// plugins/inputs/logparser/multiline.go's Previous/Next ProcessLine
// design, generalised from two modes to the five spec.md names.
package grouper

import (
	"regexp"
	"strings"
	"time"
)

// Mode selects one of the five grouping behaviours.
type Mode string

const (
	SingleLine     Mode = "single-line"
	Indented       Mode = "indented"
	IndentedGroup  Mode = "indented-group"
	PrefixGarbage  Mode = "prefix-garbage"
	PrefixSuffix   Mode = "prefix-suffix"
)

// Config configures a Grouper.
type Config struct {
	Mode Mode

	Prefix            string // multiline_prefix
	Suffix            string // multiline_suffix
	Garbage           string // multiline_garbage
	IndentedGroup     string // multiline_indented_group
	DropGarbage       bool   // multiline_drop_garbage

	IdleFlush time.Duration // caller-supplied; zero flushes on the next poll
}

// Event is one assembled logical event: the joined text and the offset
// to commit once it has been shipped-or-stashed.
type Event struct {
	Text   string
	Offset int64
}

// Grouper is a single-producer, single-consumer state machine that
// coalesces raw lines into logical events, emitting them in input order
// (spec.md §4.2 "Ordering").
type Grouper struct {
	cfg Config

	prefixRe        *regexp.Regexp
	suffixRe        *regexp.Regexp
	garbageRe       *regexp.Regexp
	indentedGroupRe *regexp.Regexp
	indentRe        *regexp.Regexp

	buf       []string
	bufOffset int64 // offset of the last line currently buffered
	open      bool
	lastInput time.Time
}

var defaultIndentRe = regexp.MustCompile(`^\s`)

// New compiles cfg's regexes and returns a ready Grouper. cfg.IdleFlush is
// used as given, including zero (which makes IdleFlush fire on the very
// next poll with anything buffered); callers that want the spec's 10s
// default pass tailer.IdleFlushDeadline explicitly.
func New(cfg Config) (*Grouper, error) {
	g := &Grouper{cfg: cfg, indentRe: defaultIndentRe}

	var err error
	compile := func(pattern string) *regexp.Regexp {
		if pattern == "" || err != nil {
			return nil
		}
		var re *regexp.Regexp
		re, err = regexp.Compile(pattern)
		return re
	}

	g.prefixRe = compile(cfg.Prefix)
	g.suffixRe = compile(cfg.Suffix)
	g.garbageRe = compile(cfg.Garbage)
	g.indentedGroupRe = compile(cfg.IndentedGroup)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Feed processes one raw line at the given tailer offset and returns any
// events that became complete as a result: zero or one in most cases, and
// two in indented-group mode when a line closes the open event and is
// itself emitted as a garbage singleton.
func (g *Grouper) Feed(line string, offset int64) []Event {
	g.lastInput = time.Now()

	switch g.cfg.Mode {
	case SingleLine, "":
		return []Event{{Text: line, Offset: offset}}
	case Indented:
		return g.feedIndented(line, offset)
	case IndentedGroup:
		return g.feedIndentedGroup(line, offset)
	case PrefixGarbage:
		return g.feedPrefixGarbage(line, offset)
	case PrefixSuffix:
		return g.feedPrefixSuffix(line, offset)
	default:
		return []Event{{Text: line, Offset: offset}}
	}
}

// IdleFlush emits whatever is buffered if no line has arrived for the
// configured idle duration, per spec.md §4.2 "Idle flush" / P7. It
// should be polled by the caller on every cycle in which Feed was not
// called.
func (g *Grouper) IdleFlush() []Event {
	if !g.open || len(g.buf) == 0 {
		return nil
	}
	if time.Since(g.lastInput) < g.cfg.IdleFlush {
		return nil
	}
	return g.closeBuffer()
}

func (g *Grouper) isIndented(line string) bool {
	return g.indentRe.MatchString(line)
}

func (g *Grouper) openBuffer(line string, offset int64) {
	g.buf = []string{line}
	g.bufOffset = offset
	g.open = true
}

func (g *Grouper) appendBuffer(line string, offset int64) {
	g.buf = append(g.buf, line)
	g.bufOffset = offset
}

func (g *Grouper) closeBuffer() []Event {
	if !g.open {
		return nil
	}
	ev := Event{Text: strings.Join(g.buf, "\n"), Offset: g.bufOffset}
	g.buf = nil
	g.open = false
	return []Event{ev}
}

// feedIndented: a non-indented line opens an event; subsequent indented
// lines append; the next non-indented line closes (and opens the next).
func (g *Grouper) feedIndented(line string, offset int64) []Event {
	if g.isIndented(line) && g.open {
		g.appendBuffer(line, offset)
		return nil
	}

	closed := g.closeBuffer()
	g.openBuffer(line, offset)
	return closed
}

// feedIndentedGroup: opens on multiline_prefix; absorbs indented lines; a
// non-indented line matching multiline_indented_group is also absorbed;
// anything else closes. Non-matching prelude lines are dropped or emitted
// as singletons per multiline_drop_garbage.
func (g *Grouper) feedIndentedGroup(line string, offset int64) []Event {
	if g.open {
		if g.isIndented(line) || (g.indentedGroupRe != nil && g.indentedGroupRe.MatchString(line)) {
			g.appendBuffer(line, offset)
			return nil
		}
		closed := g.closeBuffer()
		if g.prefixRe != nil && g.prefixRe.MatchString(line) {
			g.openBuffer(line, offset)
			return closed
		}
		return append(closed, g.garbageEvent(line, offset)...)
	}

	if g.prefixRe != nil && g.prefixRe.MatchString(line) {
		g.openBuffer(line, offset)
		return nil
	}
	return g.garbageEvent(line, offset)
}

// feedPrefixGarbage: opens on multiline_prefix; closes on the next
// multiline_prefix OR on multiline_garbage; optionally drops unmatched
// lines outside any open event.
func (g *Grouper) feedPrefixGarbage(line string, offset int64) []Event {
	isPrefix := g.prefixRe != nil && g.prefixRe.MatchString(line)
	isGarbage := g.garbageRe != nil && g.garbageRe.MatchString(line)

	if g.open {
		if isPrefix {
			closed := g.closeBuffer()
			g.openBuffer(line, offset)
			return closed
		}
		if isGarbage {
			g.appendBuffer(line, offset)
			return g.closeBuffer()
		}
		g.appendBuffer(line, offset)
		return nil
	}

	if isPrefix {
		g.openBuffer(line, offset)
		return nil
	}
	return g.garbageEvent(line, offset)
}

// feedPrefixSuffix: opens on multiline_prefix; closes (inclusive) on
// multiline_suffix.
func (g *Grouper) feedPrefixSuffix(line string, offset int64) []Event {
	if g.open {
		g.appendBuffer(line, offset)
		if g.suffixRe != nil && g.suffixRe.MatchString(line) {
			return g.closeBuffer()
		}
		return nil
	}

	if g.prefixRe != nil && g.prefixRe.MatchString(line) {
		g.openBuffer(line, offset)
		return nil
	}
	return g.garbageEvent(line, offset)
}

// garbageEvent implements multiline_drop_garbage: drop (nil) or emit the
// line as a singleton event, for the prelude lines that precede any
// recognised opening marker.
func (g *Grouper) garbageEvent(line string, offset int64) []Event {
	if g.cfg.DropGarbage {
		return nil
	}
	return []Event{{Text: line, Offset: offset}}
}
