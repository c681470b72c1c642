// Package config loads the agent's input/output descriptors from TOML.
//
// Deep configuration features (includes, templating, hot reload, CLI flag
// parsing) are out of scope per spec.md; this package exists only to turn
// a TOML document into the typed descriptors spec.md §3 names, and to
// surface malformed configuration as a startup-fatal error per §7.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	itoml "github.com/influxdata/toml"
)

// Duration wraps time.Duration so it can be written in TOML either as a
// bare integer of nanoseconds or as a "500ms"-style string, matching the
// teacher's own config.Duration convention.
type Duration time.Duration

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(b []byte) error {
	s := string(b)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// OneOrMany normalises config fields that may be written as either a
// single scalar or a list in TOML (Design Note 5) into a single list
// representation that downstream code always treats uniformly.
type OneOrMany[T any] struct {
	Values []T
}

// UnmarshalTOML implements toml.Unmarshaler by trying a list first and
// falling back to a single scalar.
func (o *OneOrMany[T]) UnmarshalTOML(b []byte) error {
	var list []T
	if err := itoml.Unmarshal(b, &list); err == nil {
		o.Values = list
		return nil
	}
	var single T
	if err := itoml.Unmarshal(b, &single); err != nil {
		return fmt.Errorf("decoding scalar-or-list value: %w", err)
	}
	o.Values = []T{single}
	return nil
}

// AddFieldRule is a derived add_field transform: a regex match against
// MatchField, substituted into Template; if the regex does not match,
// Default is used instead (§4.7).
type AddFieldRule struct {
	Key        string `toml:"key"`
	MatchField string `toml:"match_field"`
	MatchRegex string `toml:"match_regex"`
	Template   string `toml:"template"`
	Default    string `toml:"default"`
}

// InputConfig is the Input descriptor of spec.md §3.
type InputConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`

	// Network-bound inputs (Lumberjack server).
	Bind string `toml:"bind"`
	Port int    `toml:"port"`

	Format        string            `toml:"format"` // "plain" | "json"
	Tags          OneOrMany[string] `toml:"tags"`
	AddField      map[string]string `toml:"add_field"`
	AddFieldRules []AddFieldRule    `toml:"add_field_rule"`
	Workers       int               `toml:"workers"`

	StartPosition string `toml:"start_position"` // "begin" | "end"

	// Multi-line grouping.
	MultilineMode          string `toml:"multiline_mode"`
	MultilinePrefix        string `toml:"multiline_prefix"`
	MultilineSuffix        string `toml:"multiline_suffix"`
	MultilineGarbage       string `toml:"multiline_garbage"`
	MultilineIndentedGroup string `toml:"multiline_indented_group"`
	MultilineDropGarbage   *bool  `toml:"multiline_drop_garbage"`

	SkipRegex string `toml:"skip"`
	GrepRegex string `toml:"grep"`

	LogWatchInterval Duration `toml:"log_watch_interval"`
	Poll             Duration `toml:"poll"`
	Lines            int      `toml:"lines"`

	// TLS material for network inputs.
	SSLCert   string `toml:"ssl_cert"`
	SSLKey    string `toml:"ssl_key"`
	SSLCAFile string `toml:"ssl_ca_file"`

	WindowSize      int  `toml:"window_size"`
	ProtocolVersion int  `toml:"protocol_version"`
}

// OutputConfig is the Output descriptor of spec.md §3.
type OutputConfig struct {
	// Kind selects the concrete adapter (screen|file|redis|amqp|socket|
	// lumberjack) from the static registry (Design Note 3). Distinct from
	// Type, which is the comma-separated routing-key set an output binds
	// to; awesant's own config conventionally names the adapter by TOML
	// table (e.g. [output.redis]) and reuses "type" only for routing, so
	// this repo's loader keeps that split explicit as two fields.
	Kind string `toml:"kind"`

	Type string `toml:"type"` // comma-separated routing keys, "*" matches any

	Host OneOrMany[string] `toml:"host"`
	Port int               `toml:"port"`

	Timeout        Duration `toml:"timeout"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	Persistent     bool     `toml:"persistent"`

	MaxWindowSize int  `toml:"max_window_size"`
	Compression   bool `toml:"compression"`
	RawDeflate    bool `toml:"raw_deflate"`

	ProtocolVersion int `toml:"protocol_version"`

	SSLCert   string `toml:"ssl_cert"`
	SSLKey    string `toml:"ssl_key"`
	SSLCAFile string `toml:"ssl_ca_file"`

	// Redis/AMQP/socket/file-specific settings; unused fields are simply
	// left zero for output types that don't need them.
	Key        string `toml:"key"`
	Database   int    `toml:"database"`
	Exchange   string `toml:"exchange"`
	RoutingKey string `toml:"routing_key"`
	Path       string `toml:"path"`
}

// Config is the top-level agent configuration.
type Config struct {
	Host    string          `toml:"host"`
	LibDir  string          `toml:"lib_dir"`
	Inputs  []*InputConfig  `toml:"input"`
	Outputs []*OutputConfig `toml:"output"`
}

// Default cadence bounds, per spec.md §4.7.
const (
	DefaultPoll    = 500 * time.Millisecond
	MinPoll        = 100 * time.Millisecond
	MaxPoll        = 9999 * time.Millisecond
	DefaultLines   = 100
)

// Load reads and validates the TOML configuration at path. Any error here
// is a configuration error (§7): fatal, surfaced only at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := itoml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Host = h
		}
	}
	if cfg.LibDir == "" {
		cfg.LibDir = "/var/lib/awesant"
	}
	for _, in := range cfg.Inputs {
		if in.Format == "" {
			in.Format = "plain"
		}
		if in.StartPosition == "" {
			in.StartPosition = "end"
		}
		if in.Poll.Duration() == 0 {
			in.Poll = Duration(DefaultPoll)
		}
		if in.Poll.Duration() < MinPoll {
			in.Poll = Duration(MinPoll)
		}
		if in.Poll.Duration() > MaxPoll {
			in.Poll = Duration(MaxPoll)
		}
		if in.Lines == 0 {
			in.Lines = DefaultLines
		}
		if in.LogWatchInterval.Duration() == 0 {
			in.LogWatchInterval = Duration(10 * time.Second)
		}
		if in.MultilineMode == "" {
			in.MultilineMode = "single-line"
		}
		if in.MultilineDropGarbage == nil {
			t := true
			in.MultilineDropGarbage = &t
		}
	}
}

// Validate checks that the descriptor shapes are internally consistent.
// It does not check that input types or output kinds are registered: the
// registry lookups happen in internal/inputs and internal/outputs when the
// inputs and outputs are constructed; this package only validates
// field-level shape so it has no import cycle on the registries.
func (c *Config) Validate() error {
	for i, in := range c.Inputs {
		if in.Type == "" {
			return fmt.Errorf("input[%d]: missing type", i)
		}
		if in.Format != "plain" && in.Format != "json" {
			return fmt.Errorf("input[%d] (%s): invalid format %q", i, in.Type, in.Format)
		}
		if in.StartPosition != "begin" && in.StartPosition != "end" {
			return fmt.Errorf("input[%d] (%s): invalid start_position %q", i, in.Type, in.StartPosition)
		}
		switch in.MultilineMode {
		case "single-line", "indented", "indented-group", "prefix-garbage", "prefix-suffix":
		default:
			return fmt.Errorf("input[%d] (%s): invalid multiline_mode %q", i, in.Type, in.MultilineMode)
		}
	}
	for i, out := range c.Outputs {
		if out.Kind == "" {
			return fmt.Errorf("output[%d]: missing kind", i)
		}
		if out.Type == "" {
			return fmt.Errorf("output[%d] (%s): missing type", i, out.Kind)
		}
	}
	return nil
}
