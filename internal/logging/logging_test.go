package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/logging"
)

func TestLevelPrefixFormat(t *testing.T) {
	l := logging.New(logrus.DebugLevel, nil)
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("input", "app").Error("push failed")

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "E! push failed"))
	require.Contains(t, out, "input=app")
}

func TestDebugPrefix(t *testing.T) {
	l := logging.New(logrus.DebugLevel, nil)
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Debug("tail added for file")
	require.True(t, strings.HasPrefix(buf.String(), "D! tail added for file"))
}
