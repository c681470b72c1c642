package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/event"
)

func TestNewSetsMandatoryFields(t *testing.T) {
	e := event.New("host1", "/var/log/app.log", "app", []string{"prod"}, "hello world")

	require.Equal(t, event.Version, e.Fields["@version"])
	require.Equal(t, "file://host1/var/log/app.log", e.Fields["source"])
	require.Equal(t, "host1", e.Fields["host"])
	require.Equal(t, "/var/log/app.log", e.Fields["file"])
	require.Equal(t, "app", e.Type())
	require.Equal(t, []string{"prod"}, e.Tags())
	require.Equal(t, "hello world", e.Fields["line"])
	require.NotEmpty(t, e.Fields["@timestamp"])
}

func TestSetTypeOverridesRouting(t *testing.T) {
	e := event.New("h", "/f", "app", nil, "x")
	e.SetType("app.override")
	require.Equal(t, "app.override", e.Type())
}

func TestAddTagsPreservesOrder(t *testing.T) {
	e := event.New("h", "/f", "app", []string{"a"}, "x")
	e.AddTags("b", "c")
	require.Equal(t, []string{"a", "b", "c"}, e.Tags())
}

func TestMergeOverlaysFields(t *testing.T) {
	e := event.New("h", "/f", "app", nil, "x")
	e.Merge(map[string]interface{}{"user": "bob", "type": "app.json"})
	require.Equal(t, "bob", e.Fields["user"])
	require.Equal(t, "app.json", e.Type())
}

func TestCloneIsIndependent(t *testing.T) {
	e := event.New("h", "/f", "app", []string{"a"}, "x")
	clone := e.Clone()
	clone.AddTags("b")
	clone.Fields["line"] = "changed"

	require.Equal(t, []string{"a"}, e.Tags())
	require.Equal(t, "x", e.Fields["line"])
	require.Equal(t, []string{"a", "b"}, clone.Tags())
}

func TestFormatTimestampFormat(t *testing.T) {
	tm := time.Date(2026, 3, 5, 10, 20, 30, 123_000_000, time.UTC)
	require.Equal(t, "2026-03-05T10:20:30.123Z", event.FormatTimestamp(tm))
}

func TestFormatTimestampDistinctMillisecondsSameSecond(t *testing.T) {
	base := time.Date(2026, 3, 5, 10, 20, 30, 0, time.UTC)
	t1 := event.FormatTimestamp(base.Add(1 * time.Millisecond))
	t2 := event.FormatTimestamp(base.Add(999 * time.Millisecond))
	require.NotEqual(t, t1, t2)
	require.Equal(t, "2026-03-05T10:20:30.001Z", t1)
	require.Equal(t, "2026-03-05T10:20:30.999Z", t2)
}

func TestFormatTimestampConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tm := time.Date(2026, 3, 5, 11, 20, 30, 0, loc)
	require.Equal(t, "2026-03-05T10:20:30.000Z", event.FormatTimestamp(tm))
}
