package outputs

import (
	"bufio"
	"fmt"
	"os"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
)

func init() {
	Register("screen", newScreen)
}

// screen is the foreground diagnostic output of spec.md §7: "A screen
// output, when configured, doubles as a foreground diagnostic channel."
// One JSON line per event, written to stdout.
type screen struct {
	w *bufio.Writer
}

func newScreen(_ *config.OutputConfig, _ *logging.Logger) (adapter, error) {
	return &screen{w: bufio.NewWriter(os.Stdout)}, nil
}

func (s *screen) Connect() error { return nil }
func (s *screen) Close() error   { return s.w.Flush() }

func (s *screen) Push(events []*event.Event) error {
	for _, e := range events {
		line, err := encodeJSON(e)
		if err != nil {
			return fmt.Errorf("screen: encoding event: %w", err)
		}
		if _, err := s.w.Write(line); err != nil {
			return fmt.Errorf("screen: writing: %w", err)
		}
		if _, err := s.w.WriteString("\n"); err != nil {
			return fmt.Errorf("screen: writing: %w", err)
		}
	}
	return s.w.Flush()
}
