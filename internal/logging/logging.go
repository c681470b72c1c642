// Package logging provides the agent's own level-prefixed logger.
//
// The prefix convention (D!/I!/W!/E!/F!) matches the one used throughout
// the teacher's plugins (see plugins/inputs/logparser/logparser.go's
// log.Printf("E! ...") calls) so an operator already familiar with that
// style of log line feels at home here too.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with the telegraf-style level prefix formatter.
type Logger struct {
	*logrus.Logger
}

// FileConfig configures the self-log's on-disk rotation. It is unrelated
// to the Lumberjack wire protocol in internal/lumberjack — the name
// collision between this rotation library and the protocol is coincidental
// (see SPEC_FULL.md §1.1).
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a Logger that writes to stderr (or, if file is non-nil with a
// non-empty Path, to a rotated log file) at the given level.
func New(level logrus.Level, file *FileConfig) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&levelPrefixFormatter{})

	var out io.Writer = os.Stderr
	if file != nil && file.Path != "" {
		out = &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 100),
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		}
	}
	l.SetOutput(out)

	return &Logger{Logger: l}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// levelPrefixFormatter renders "<P>! message key=value ..." lines, where
// <P> is D, I, W, E, or F depending on level.
type levelPrefixFormatter struct{}

func (f *levelPrefixFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	prefix := levelLetter(entry.Level)
	line := fmt.Sprintf("%s! %s", prefix, entry.Message)
	for k, v := range entry.Data {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	line += "\n"
	return []byte(line), nil
}

func levelLetter(lvl logrus.Level) string {
	switch lvl {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "D"
	case logrus.InfoLevel:
		return "I"
	case logrus.WarnLevel:
		return "W"
	case logrus.ErrorLevel:
		return "E"
	default:
		return "F"
	}
}
