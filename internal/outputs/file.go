package outputs

import (
	"fmt"
	"os"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/event"
	"github.com/awesant/awesant-go/internal/logging"
)

func init() {
	Register("file", newFile)
}

// fileOutput appends one JSON line per event to Path, matching the
// screen adapter's encoding but durable across the agent's own restarts
// (not to be confused with the stash, which is in-memory only).
type fileOutput struct {
	path string
	f    *os.File
}

func newFile(cfg *config.OutputConfig, _ *logging.Logger) (adapter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file output: path is required")
	}
	return &fileOutput{path: cfg.Path}, nil
}

func (o *fileOutput) Connect() error {
	if o.f != nil {
		return nil
	}
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file output: opening %s: %w", o.path, err)
	}
	o.f = f
	return nil
}

func (o *fileOutput) Close() error {
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return err
}

func (o *fileOutput) Push(events []*event.Event) error {
	if err := o.Connect(); err != nil {
		return err
	}
	for _, e := range events {
		line, err := encodeJSON(e)
		if err != nil {
			return fmt.Errorf("file output: encoding event: %w", err)
		}
		if _, err := o.f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("file output: writing %s: %w", o.path, err)
		}
	}
	return nil
}
