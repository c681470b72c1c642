package tailer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// positionFieldWidth is the zero-padded width of each numeric field in a
// position file, per spec.md §6: "14-digit inode, colon, 14-digit offset".
const positionFieldWidth = 14

// positionPath builds <libdir>/awesant-<basename>.pos per spec.md §6.
func positionPath(libDir, file string) string {
	base := filepath.Base(file)
	return filepath.Join(libDir, fmt.Sprintf("awesant-%s.pos", base))
}

// position is the persisted (inode, offset) pair for a tailed file.
type position struct {
	Inode  uint64
	Offset int64
}

// readPosition loads a position file. A missing file is not an error: it
// simply means no position has ever been committed. A malformed file is
// treated the same as missing (§4.1: "A position file whose inode does
// not match the current file is ignored" generalises to "any position
// file we cannot parse is ignored").
func readPosition(path string) (position, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return position{}, false
	}
	s := strings.TrimSpace(string(data))
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return position{}, false
	}
	inode, err1 := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	offset, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return position{}, false
	}
	return position{Inode: inode, Offset: offset}, true
}

// writePosition rewrites the position file in place: seek-to-zero, full
// overwrite, fixed-width numeric fields. Fixed width keeps every write the
// same length so a crash mid-write cannot leave a file shorter than a
// previous valid write followed by garbage (§4.1).
func writePosition(f *os.File, p position) error {
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seeking position file: %w", err)
	}
	line := fmt.Sprintf("%0*d:%0*d", positionFieldWidth, p.Inode, positionFieldWidth, p.Offset)
	if err := f.Truncate(int64(len(line))); err != nil {
		return fmt.Errorf("truncating position file: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("writing position file: %w", err)
	}
	return f.Sync()
}

func openPositionFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating position dir: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
}
