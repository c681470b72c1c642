package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates name under dir with contents, failing the test
// on error, matching the teacher's t.TempDir()+os.WriteFile convention
// (see plugins/inputs/procstat/procstat_test.go).
func WriteFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o640); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// AppendFile appends contents to the file at path, failing the test on
// error. Used to simulate a log source growing between Tailer.Pull calls.
func AppendFile(t *testing.T, path, contents string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatalf("opening %s for append: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(contents); err != nil {
		t.Fatalf("appending to %s: %v", path, err)
	}
}
