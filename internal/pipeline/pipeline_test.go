package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/inputs"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/outputs"
	"github.com/awesant/awesant-go/internal/testutil"
	"github.com/sirupsen/logrus"
)

// fakeLine is one queued pull result for fakeInput.
type fakeLine struct {
	text   string
	fields map[string]interface{}
}

// fakeInput is a minimal inputs.Input double: it hands back whatever lines
// are queued and counts how many of them the pipeline later commits,
// mirroring the role a tailer plays without touching the filesystem.
type fakeInput struct {
	mu        sync.Mutex
	pending   []fakeLine
	committed int
	removable bool
	pullErr   error
}

func (f *fakeInput) Pull(max int) ([]inputs.Pulled, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := len(f.pending)
	if max > 0 && max < n {
		n = max
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]

	out := make([]inputs.Pulled, n)
	for i, fl := range batch {
		out[i] = inputs.NewPulled(fl.text, fl.fields, f.commit)
	}
	return out, nil
}

func (f *fakeInput) commit() error {
	f.mu.Lock()
	f.committed++
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

func (f *fakeInput) Removable() bool { return f.removable }
func (f *fakeInput) Close() error    { return nil }

func testLogger() *logging.Logger {
	return logging.New(logrus.ErrorLevel, nil)
}

func newTestWorker(t *testing.T, ic *config.InputConfig, impl inputs.Input, bound []*BoundOutput) *Worker {
	t.Helper()
	shared := []*SharedInput{{Cfg: ic, Impl: impl}}
	return New(Config{Host: "testhost", LibDir: t.TempDir()}, shared, bound, testLogger())
}

func TestWorkerPushesEnrichedEventAndCommits(t *testing.T) {
	ic := &config.InputConfig{
		Type:     "app",
		Path:     "/var/log/app.log",
		Format:   "plain",
		Tags:     config.OneOrMany[string]{Values: []string{"app"}},
		AddField: map[string]string{"env": "prod"},
		Lines:    100,
	}
	fi := &fakeInput{pending: []fakeLine{{text: "hello world"}}}

	sink := &testutil.Sink{}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "app"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "app")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	require.Equal(t, 1, sink.Len())
	ev := sink.Events[0]
	assert.Equal(t, "app", ev.Type())
	assert.Equal(t, "hello world", ev.Fields["line"])
	assert.Equal(t, "prod", ev.Fields["env"])
	assert.Equal(t, []string{"app"}, ev.Tags())
	assert.Equal(t, 1, fi.committedCount())
}

func TestWorkerJSONFormatOverridesTypeAndTags(t *testing.T) {
	ic := &config.InputConfig{
		Type:   "raw",
		Path:   "/var/log/app.json",
		Format: "json",
		Lines:  100,
	}
	fi := &fakeInput{pending: []fakeLine{{text: `{"type":"access","tags":["web"],"status":200}`}}}

	sink := &testutil.Sink{}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "*"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "*")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	require.Equal(t, 1, sink.Len())
	ev := sink.Events[0]
	assert.Equal(t, "access", ev.Type())
	assert.Equal(t, []string{"web"}, ev.Tags())
	assert.Equal(t, float64(200), ev.Fields["status"])
	assert.Equal(t, 1, fi.committedCount())
}

func TestWorkerDropsMalformedJSONLine(t *testing.T) {
	ic := &config.InputConfig{Type: "raw", Path: "/var/log/app.json", Format: "json", Lines: 100}
	fi := &fakeInput{pending: []fakeLine{{text: `not json`}}}

	sink := &testutil.Sink{}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "*"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "*")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 0, fi.committedCount(), "a dropped malformed line must not commit its offset")
}

func TestWorkerAddFieldRuleDerivesField(t *testing.T) {
	ic := &config.InputConfig{
		Type:   "app",
		Path:   "/var/log/app.log",
		Format: "plain",
		Lines:  100,
		AddFieldRules: []config.AddFieldRule{
			{Key: "level", MatchField: "line", MatchRegex: `^(\w+):`, Template: "$1", Default: "unknown"},
		},
	}
	fi := &fakeInput{pending: []fakeLine{{text: "ERROR: disk full"}, {text: "no colon here"}}}

	sink := &testutil.Sink{}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "app"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "app")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	require.Equal(t, 2, sink.Len())
	byLine := map[string]interface{}{}
	for _, ev := range sink.Events {
		byLine[ev.Fields["line"].(string)] = ev.Fields["level"]
	}
	assert.Equal(t, "ERROR", byLine["ERROR: disk full"])
	assert.Equal(t, "unknown", byLine["no colon here"])
}

func TestWorkerUnroutedTypeStillCommits(t *testing.T) {
	ic := &config.InputConfig{Type: "orphan", Path: "/var/log/orphan.log", Format: "plain", Lines: 100}
	fi := &fakeInput{pending: []fakeLine{{text: "nobody listens"}}}

	sink := &testutil.Sink{}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "other"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "other")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, 1, fi.committedCount(), "an event matching no bound output has nothing to wait for and commits immediately")
}

func TestWorkerStashesOnFailureAndDrainsOnNextPass(t *testing.T) {
	ic := &config.InputConfig{Type: "app", Path: "/var/log/app.log", Format: "plain", Lines: 100}
	fi := &fakeInput{pending: []fakeLine{{text: "first"}}}

	sink := &testutil.Sink{FailPush: true, FailErr: errors.New("connection refused")}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "app"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "app")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	require.Equal(t, 0, sink.Len())
	require.Equal(t, 0, fi.committedCount(), "a stashed event must not commit its offset yet")
	require.Len(t, w.failed["app"], 1)

	// Nothing new arrives; the next pass must drain the stash before
	// considering new input, per spec.md §3's Stash invariant.
	sink.FailPush = false
	w.serve(w.entries[0])

	assert.Equal(t, 1, sink.Len())
	assert.Equal(t, 1, fi.committedCount(), "draining the stash must commit the offset once delivery finally succeeds")
	assert.Empty(t, w.failed["app"])
}

func TestWorkerRemovableInputIsDestroyed(t *testing.T) {
	ic := &config.InputConfig{Type: "app", Path: "/var/log/app.log", Format: "plain", Lines: 100}
	fi := &fakeInput{removable: true}

	w := newTestWorker(t, ic, fi, nil)
	w.serve(w.entries[0])

	assert.True(t, w.entries[0].destroyed)
}

func TestWorkerDestroysInputOnFatalPullError(t *testing.T) {
	ic := &config.InputConfig{Type: "app", Path: "/var/log/app.log", Format: "plain", Lines: 100}
	fi := &fakeInput{pullErr: fmt.Errorf("%w: reading /var/log/app.log: permission denied", inputs.ErrFatal)}

	w := newTestWorker(t, ic, fi, nil)
	w.serve(w.entries[0])

	assert.True(t, w.entries[0].destroyed, "a Pull error wrapping inputs.ErrFatal must destroy the entry")
}

func TestWorkerRetriesInputOnNonFatalPullError(t *testing.T) {
	ic := &config.InputConfig{Type: "app", Path: "/var/log/app.log", Format: "plain", Lines: 100}
	fi := &fakeInput{pullErr: errors.New("some unclassified error")}

	w := newTestWorker(t, ic, fi, nil)
	w.serve(w.entries[0])

	assert.False(t, w.entries[0].destroyed, "a Pull error that doesn't wrap inputs.ErrFatal is retried, not torn down")
}

func TestEnrichWrapsMalformedJSONAsErrInputCorruption(t *testing.T) {
	ic := &config.InputConfig{Type: "raw", Path: "/var/log/app.json", Format: "json", Lines: 100}
	fi := &fakeInput{}
	w := newTestWorker(t, ic, fi, nil)

	_, err := w.enrich(w.entries[0], inputs.NewPulled("not json", nil, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInputCorruption))
}

func TestPushToOutputWrapsAdapterFailureAsErrTransientTransport(t *testing.T) {
	ic := &config.InputConfig{Type: "app", Path: "/var/log/app.log", Format: "plain", Lines: 100}
	fi := &fakeInput{pending: []fakeLine{{text: "line"}}}

	underlying := errors.New("connection refused")
	sink := &testutil.Sink{FailPush: true, FailErr: underlying}
	out := outputs.NewTestOutput(&config.OutputConfig{Type: "app"}, sink)
	bound := []*BoundOutput{NewBoundOutput(out, "app")}

	w := newTestWorker(t, ic, fi, bound)
	w.serve(w.entries[0])

	require.Len(t, w.failed["app"], 1, "the push failure must still stash the event, classified as transient")
}
