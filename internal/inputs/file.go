package inputs

import (
	"fmt"
	"regexp"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/grouper"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/oraclexml"
	"github.com/awesant/awesant-go/internal/tailer"
)

func init() {
	Register("file", newFileInput)
	Register("oracle-xml", newOracleXMLInput)
}

// fileInput owns one tailer and one plain/multi-line grouper for one
// concrete path. Worker-level wildcard expansion (one fileInput per
// discovered path, per spec.md §4.1) lives in internal/tailer.Watcher and
// is driven by internal/pipeline, not here: a fileInput never knows
// whether its path came from a literal config entry or a watcher match.
type fileInput struct {
	tl  *tailer.Tailer
	grp *grouper.Grouper

	skipRe *regexp.Regexp
	grepRe *regexp.Regexp
}

func newFileInput(cfg *config.InputConfig, path string, ctx Context, _ *logging.Logger) (Input, error) {
	tl, err := tailer.Open(tailer.Config{
		Path:          path,
		Host:          ctx.Host,
		LibDir:        ctx.LibDir,
		StartPosition: cfg.StartPosition,
	})
	if err != nil {
		return nil, err
	}

	dropGarbage := true
	if cfg.MultilineDropGarbage != nil {
		dropGarbage = *cfg.MultilineDropGarbage
	}

	grp, err := grouper.New(grouper.Config{
		Mode:          grouper.Mode(cfg.MultilineMode),
		Prefix:        cfg.MultilinePrefix,
		Suffix:        cfg.MultilineSuffix,
		Garbage:       cfg.MultilineGarbage,
		IndentedGroup: cfg.MultilineIndentedGroup,
		DropGarbage:   dropGarbage,
		IdleFlush:     tailer.IdleFlushDeadline,
	})
	if err != nil {
		tl.Close()
		return nil, err
	}

	fi := &fileInput{tl: tl, grp: grp}

	if cfg.SkipRegex != "" {
		re, err := regexp.Compile(cfg.SkipRegex)
		if err != nil {
			tl.Close()
			return nil, err
		}
		fi.skipRe = re
	}
	if cfg.GrepRegex != "" {
		re, err := regexp.Compile(cfg.GrepRegex)
		if err != nil {
			tl.Close()
			return nil, err
		}
		fi.grepRe = re
	}

	return fi, nil
}

func (fi *fileInput) Pull(max int) ([]Pulled, error) {
	lines, err := fi.tl.Pull(max)
	if err != nil {
		if err == tailer.ErrRemovable {
			return nil, nil
		}
		// Every other tailer.Pull error is a stat/read/seek failure on an
		// open file handle; none of them are known to self-heal on the
		// next poll the way a rotation or transient removal might.
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	var out []Pulled
	for _, ln := range lines {
		if fi.skip(ln.Text) {
			continue
		}
		for _, ev := range fi.grp.Feed(ln.Text, ln.Offset) {
			out = append(out, fi.toPulled(ev))
		}
	}

	if len(lines) == 0 {
		for _, ev := range fi.grp.IdleFlush() {
			out = append(out, fi.toPulled(ev))
		}
	}

	return out, nil
}

// skip applies the skip/grep regex filters before grouping: a skip match
// drops the line outright; a grep pattern, if configured, keeps only
// matching lines. Both act on raw physical lines, before multi-line
// assembly, matching awesant's documented filter semantics.
func (fi *fileInput) skip(line string) bool {
	if fi.skipRe != nil && fi.skipRe.MatchString(line) {
		return true
	}
	if fi.grepRe != nil && !fi.grepRe.MatchString(line) {
		return true
	}
	return false
}

func (fi *fileInput) toPulled(ev grouper.Event) Pulled {
	offset := ev.Offset
	return Pulled{
		Line:   ev.Text,
		commit: func() error { return fi.tl.Commit(offset) },
	}
}

func (fi *fileInput) Removable() bool { return fi.tl.Removable() }

func (fi *fileInput) Close() error { return fi.tl.Close() }

// oracleXMLInput is the Oracle alert-log variant: the grouper is
// internal/oraclexml instead of internal/grouper, producing already
// ora.*-prefixed Fields rather than a joined Line.
type oracleXMLInput struct {
	tl  *tailer.Tailer
	grp *oraclexml.Grouper
}

func newOracleXMLInput(cfg *config.InputConfig, path string, ctx Context, _ *logging.Logger) (Input, error) {
	tl, err := tailer.Open(tailer.Config{
		Path:          path,
		Host:          ctx.Host,
		LibDir:        ctx.LibDir,
		StartPosition: cfg.StartPosition,
	})
	if err != nil {
		return nil, err
	}

	grp, err := oraclexml.New(ctx.Host, path, tailer.IdleFlushDeadline)
	if err != nil {
		tl.Close()
		return nil, err
	}

	return &oracleXMLInput{tl: tl, grp: grp}, nil
}

func (oi *oracleXMLInput) Pull(max int) ([]Pulled, error) {
	lines, err := oi.tl.Pull(max)
	if err != nil {
		if err == tailer.ErrRemovable {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	var out []Pulled
	for _, ln := range lines {
		for _, res := range oi.grp.Feed(ln.Text, ln.Offset) {
			out = append(out, oi.toPulled(res))
		}
	}

	if len(lines) == 0 {
		for _, res := range oi.grp.IdleFlush() {
			out = append(out, oi.toPulled(res))
		}
	}

	return out, nil
}

func (oi *oracleXMLInput) toPulled(res oraclexml.Result) Pulled {
	offset := res.Offset
	return Pulled{
		Fields: res.Fields,
		Line:   "",
		commit: func() error { return oi.tl.Commit(offset) },
	}
}

func (oi *oracleXMLInput) Removable() bool { return oi.tl.Removable() }
func (oi *oracleXMLInput) Close() error    { return oi.tl.Close() }
