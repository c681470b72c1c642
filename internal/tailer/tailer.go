// Package tailer implements byte-accurate file tailing with inode-tracked
// rotation handling and position persistence, per spec.md §4.1.
package tailer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"gopkg.in/tomb.v1"
)

// maxEOFStreak is the number of consecutive EOF polls the tailer tolerates
// before treating a vanished/rotated path as settled and reopening, per
// spec.md §4.1: "up to 20 consecutive EOF polls (~10s at 500ms cadence)".
const maxEOFStreak = 20

// Line is one raw line pulled from the tailed file, along with the byte
// offset immediately after it (the "tell" candidate, §4.1). The tailer
// never advances its own committed offset past what Commit is called
// with; callers (the grouper/pipeline) decide when a logical event is
// complete and only then call Commit.
type Line struct {
	Text   string
	Offset int64
}

// Tailer owns one file and its read position.
type Tailer struct {
	Path   string
	Host   string
	libDir string

	file   *os.File
	reader *bufio.Reader
	offset int64 // next byte to read

	dev, inode uint64

	eofStreak int
	removable bool

	posFile  *os.File
	posState position

	t tomb.Tomb
}

// Config configures a new Tailer.
type Config struct {
	Path          string
	Host          string
	LibDir        string
	StartPosition string // "begin" | "end"; ignored if a matching position file exists
}

// Open opens path and seeks to the saved position if its inode matches,
// otherwise to EOF or 0 per StartPosition, per spec.md §4.1.
func Open(cfg Config) (*Tailer, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}

	dev, inode, err := fileIdentity(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", cfg.Path, err)
	}

	tl := &Tailer{
		Path:   cfg.Path,
		Host:   cfg.Host,
		libDir: cfg.LibDir,
		file:   f,
		dev:    dev,
		inode:  inode,
	}

	posPath := positionPath(cfg.LibDir, cfg.Path)
	posFile, err := openPositionFile(posPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	tl.posFile = posFile

	if saved, ok := readPosition(posPath); ok && saved.Inode == inode {
		if _, err := f.Seek(saved.Offset, io.SeekStart); err != nil {
			f.Close()
			posFile.Close()
			return nil, fmt.Errorf("seeking to saved offset: %w", err)
		}
		tl.offset = saved.Offset
		tl.posState = saved
	} else if cfg.StartPosition == "begin" {
		tl.offset = 0
		tl.posState = position{Inode: inode, Offset: 0}
	} else {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			posFile.Close()
			return nil, fmt.Errorf("seeking to end: %w", err)
		}
		tl.offset = end
		tl.posState = position{Inode: inode, Offset: end}
	}

	tl.reader = bufio.NewReader(tl.file)
	return tl, nil
}

// Pull checks for rotation/removal and then reads up to max complete
// lines from the current offset. It never advances the committed
// position; call Commit once the caller has decided a logical event is
// complete. A returned line whose Offset has not been committed may be
// re-delivered after a restart (at-least-once, per spec.md §5).
func (t *Tailer) Pull(max int) ([]Line, error) {
	if t.removable {
		return nil, ErrRemovable
	}

	settling, err := t.checkRotation()
	if err != nil {
		return nil, err
	}

	var lines []Line
	for len(lines) < max {
		text, err := t.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if text != "" {
					// Partial line at EOF: push it back by reopening the
					// reader at the position before the partial read, so
					// the next pull sees the same bytes once the writer
					// finishes the line. bufio has no unread-many, so we
					// seek the underlying file back.
					if _, serr := t.file.Seek(t.offset, io.SeekStart); serr == nil {
						t.reader.Reset(t.file)
					}
				}
				// checkRotation already counted this poll toward
				// maxEOFStreak when it's the one settling a
				// not-yet-confirmed removal/rotation; counting again here
				// would halve the documented ~10s tolerance window.
				if !settling {
					t.eofStreak++
				}
				break
			}
			return lines, fmt.Errorf("reading %s: %w", t.Path, err)
		}
		t.eofStreak = 0
		tell := t.offset + int64(len(text))
		t.offset = tell

		trimmed := trimLineEnding(text)
		lines = append(lines, Line{Text: trimmed, Offset: tell})
	}

	return lines, nil
}

func trimLineEnding(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		n--
	}
	if n > 0 && s[n-1] == '\r' {
		n--
	}
	return s[:n]
}

// Commit persists offset as the new committed position, provided offset
// belongs to the file identity currently open (it always does, since
// Commit is only ever called with an Offset value this Tailer produced).
func (t *Tailer) Commit(offset int64) error {
	t.posState = position{Inode: t.inode, Offset: offset}
	return writePosition(t.posFile, t.posState)
}

// CommittedOffset returns the last offset persisted via Commit.
func (t *Tailer) CommittedOffset() int64 {
	return t.posState.Offset
}

// Removable reports whether the tailed path has disappeared and the
// pipeline should destroy this input, per spec.md §4.1.
func (t *Tailer) Removable() bool {
	return t.removable
}

// Dying returns a channel closed once Close has been called, letting
// another goroutine notice a tailer being torn down without polling a
// boolean.
func (t *Tailer) Dying() <-chan struct{} {
	return t.t.Dying()
}

// Close releases the file handles. It does not remove the position file:
// position files persist across restarts by design.
func (t *Tailer) Close() error {
	t.t.Kill(nil)
	var err error
	if t.file != nil {
		err = t.file.Close()
	}
	if t.posFile != nil {
		if cerr := t.posFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ErrRemovable is returned by Pull once the tailed path has disappeared.
var ErrRemovable = errors.New("tailer: path removed")

// checkRotation implements the rotation protocol of spec.md §4.1: does
// the path still exist? has its inode changed? is its size smaller than
// the current offset (truncation)? Up to maxEOFStreak consecutive EOF
// polls are tolerated before the old handle is closed and a new one
// opened at offset 0, to avoid truncating an in-flight rotation.
//
// The returned settling flag reports whether this call already counted
// the poll toward eofStreak (the not-yet-confirmed removal/rotation
// branches below); Pull uses it to avoid bumping eofStreak a second time
// when the subsequent read also comes back EOF, which would otherwise
// compress the ~10s tolerance window to half its documented length.
func (t *Tailer) checkRotation() (settling bool, err error) {
	info, err := os.Stat(t.Path)
	if err != nil {
		if os.IsNotExist(err) {
			if t.eofStreak < maxEOFStreak {
				t.eofStreak++
				return true, nil
			}
			t.removable = true
			return false, ErrRemovable
		}
		return false, fmt.Errorf("stat %s: %w", t.Path, err)
	}

	_, inode, err := statIdentity(info)
	if err != nil {
		return false, fmt.Errorf("stat identity %s: %w", t.Path, err)
	}

	if inode != t.inode {
		if t.eofStreak < maxEOFStreak {
			t.eofStreak++
			return true, nil
		}
		return false, t.reopen(info, inode)
	}

	if info.Size() < t.offset {
		// Truncation in place (same inode, smaller size): reset to 0.
		t.offset = 0
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return false, fmt.Errorf("seeking after truncation: %w", err)
		}
		t.reader.Reset(t.file)
	}

	return false, nil
}

func (t *Tailer) reopen(info os.FileInfo, newInode uint64) error {
	newFile, err := os.Open(t.Path)
	if err != nil {
		return fmt.Errorf("reopening rotated file %s: %w", t.Path, err)
	}

	if err := t.file.Close(); err != nil {
		newFile.Close()
		return fmt.Errorf("closing rotated-out file: %w", err)
	}

	t.file = newFile
	t.reader = bufio.NewReader(newFile)
	t.dev, t.inode = dev(info), newInode
	t.offset = 0
	t.eofStreak = 0
	return nil
}

func fileIdentity(f *os.File) (dev, inode uint64, err error) {
	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	d, i, err := statIdentity(info)
	return d, i, err
}

func statIdentity(info os.FileInfo) (dev, inode uint64, err error) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("unsupported platform for inode tracking")
	}
	return uint64(sys.Dev), sys.Ino, nil
}

func dev(info os.FileInfo) uint64 {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(sys.Dev)
}

// IdleFlushDeadline is the grouper idle-flush interval shared across
// grouping modes, per spec.md §4.2/§4.3: "10 s".
const IdleFlushDeadline = 10 * time.Second
