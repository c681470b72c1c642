package oraclexml

import (
	"time"

	"github.com/awesant/awesant-go/internal/grouper"
)

// Result is one finished event: either an ordinary single-envelope
// message or a reassembled/residual TNS message.
type Result struct {
	Fields map[string]interface{}
	Offset int64
}

// Grouper parses a stream of <msg>...</msg> envelopes and reassembles
// TNS multi-message sequences, per spec.md §4.3. It is built on top of
// internal/grouper's prefix-suffix mode for the raw envelope-boundary
// detection (an envelope's opening tag may itself span several physical
// lines, same shape as any other prefix/suffix multi-line event), and
// adds the Oracle-specific XML parse and TNS state machine on top.
type Grouper struct {
	host, file string

	raw *grouper.Grouper

	inTNS         bool
	primary       *tnsMessage
	primaryOffset int64
	backlog       []tnsBacklogEntry

	idleFlush time.Duration
	lastInput time.Time
}

// New returns a ready Grouper for the given host/file, used to stamp
// emitted events' host/file fields. idleFlush is used as given, including
// zero; callers wanting the spec's 10s default pass
// tailer.IdleFlushDeadline explicitly.
func New(host, file string, idleFlush time.Duration) (*Grouper, error) {
	raw, err := grouper.New(grouper.Config{
		Mode:      grouper.PrefixSuffix,
		Prefix:    `<msg`,
		Suffix:    `</msg>`,
		IdleFlush: idleFlush,
	})
	if err != nil {
		return nil, err
	}
	return &Grouper{host: host, file: file, raw: raw, idleFlush: idleFlush}, nil
}

// Feed processes one raw physical line and returns any events that
// became complete as a result.
func (g *Grouper) Feed(line string, offset int64) []Result {
	g.lastInput = time.Now()

	var out []Result
	for _, raw := range g.raw.Feed(line, offset) {
		out = append(out, g.handleEnvelopeText(raw.Text, raw.Offset)...)
	}
	return out
}

// IdleFlush emits whatever is buffered — both at the raw envelope-
// assembly level and at the open-TNS-message level — if nothing has
// arrived for the idle duration, per spec.md §4.3 "10-second idle flush
// applies here as well".
func (g *Grouper) IdleFlush() []Result {
	var out []Result
	for _, raw := range g.raw.IdleFlush() {
		out = append(out, g.handleEnvelopeText(raw.Text, raw.Offset)...)
	}

	if g.inTNS && time.Since(g.lastInput) >= g.idleFlush {
		out = append(out, g.closeTNS()...)
	}
	return out
}

func (g *Grouper) handleEnvelopeText(text string, offset int64) []Result {
	env, err := parseEnvelope(text)
	if err != nil {
		// Malformed envelope text: not a complete-event failure per se,
		// skip it the way input corruption is handled elsewhere (§7:
		// "the offending line is logged and dropped; no stash").
		return nil
	}

	if g.inTNS {
		if isTNSContinuation(env.Text) {
			if g.primary.tryAdd(env) {
				g.primaryOffset = offset
			} else {
				g.backlog = append(g.backlog, tnsBacklogEntry{env: env})
			}
			return nil
		}

		results := g.closeTNS()
		return append(results, g.handleOrdinary(env, offset)...)
	}

	return g.handleOrdinary(env, offset)
}

func (g *Grouper) handleOrdinary(env *envelope, offset int64) []Result {
	if isTNSMarker(env.Text) {
		g.inTNS = true
		g.primary = &tnsMessage{}
		g.primary.tryAdd(env)
		g.primaryOffset = offset
		return nil
	}

	fields := env.fields(g.host, g.file)
	return []Result{{Fields: fields, Offset: offset}}
}

// closeTNS emits the primary TNS message (if it reached minimum
// completeness) and reconstructs as many additional messages from the
// backlog as possible, emitting any irreducible residue as "TNS mess"
// markers (spec.md §4.3).
func (g *Grouper) closeTNS() []Result {
	var out []Result

	if g.primary != nil && g.primary.complete() {
		out = append(out, g.renderTNS(g.primary, "TNS", g.primaryOffset))
	}

	messages, leftover := reconstructBacklog(g.backlog)
	for _, msg := range messages {
		out = append(out, g.renderTNS(msg, "TNS", g.primaryOffset))
	}
	for _, entry := range leftover {
		fields := entry.env.fields(g.host, g.file)
		fields["ora.type"] = "TNS mess"
		out = append(out, Result{Fields: fields, Offset: g.primaryOffset})
	}

	g.inTNS = false
	g.primary = nil
	g.backlog = nil
	return out
}

func (g *Grouper) renderTNS(msg *tnsMessage, oraType string, offset int64) Result {
	var fields map[string]interface{}
	if msg.firstEnv != nil {
		fields = msg.firstEnv.fields(g.host, g.file)
	} else {
		fields = map[string]interface{}{"host": g.host, "file": g.file}
	}
	fields["ora.type"] = oraType
	fields["line"] = msg.render()
	return Result{Fields: fields, Offset: offset}
}
