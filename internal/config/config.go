// Package config loads the engine's YAML configuration, overlaid by a .env
// file and NAV_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/corrections"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/internal/observability"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Library     LibraryConfig     `yaml:"library"`
	Almanac     AlmanacConfig     `yaml:"almanac"`
	Sources     []SourceConfig    `yaml:"sources"`
	Load        LoadConfig        `yaml:"load"`
	Corrections CorrectionsConfig `yaml:"corrections"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type LibraryConfig struct {
	Validity    string   `yaml:"validity"`
	SearchOrder string   `yaml:"search_order"`
	TieBreak    string   `yaml:"tie_break"`
	XmitHealth  string   `yaml:"xmit_health"`
	Types       []string `yaml:"types"`
}

type AlmanacConfig struct {
	// NearFullWeek resolves ten-bit almanac week numbers; 0 uses the
	// current week.
	NearFullWeek int `yaml:"near_full_week"`
	// TLESatellites maps NORAD catalogue numbers to satellites, e.g.
	// 24876: "gps:13".
	TLESatellites map[int]string `yaml:"tle_satellites"`
}

type SourceConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

type LoadConfig struct {
	Parallelism int `yaml:"parallelism"`
}

type CorrectionsConfig struct {
	Topology    string `yaml:"topology"`
	MetFile     string `yaml:"met_file"`
	DupHandling string `yaml:"dup_handling"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

var formats = map[string]bool{
	"auto": true, "multiformat": true, "rinex": true, "rinex_nav": true,
	"sp3": true, "yuma": true, "sem": true, "tle": true, "navbits": true,
}

var topologies = map[string]bool{"none": true, "basic": true, "global": true, "nb": true}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Library: LibraryConfig{
			Validity:    "valid_only",
			SearchOrder: "user",
			TieBreak:    "registration",
			XmitHealth:  "any",
		},
		Load:        LoadConfig{Parallelism: 4},
		Corrections: CorrectionsConfig{Topology: "none", DupHandling: "compute_first"},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Metrics:     MetricsConfig{Addr: ""},
		Tracing:     TracingConfig{Exporter: "stdout", ServiceName: "gnss-nav-engine", SampleRatio: 1},
	}
}

// Load reads path (skipped when empty) over the defaults, applies the .env
// file at envFile when it exists and then the NAV_* environment, and
// validates the result.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := decode(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos do not silently fall back to
// defaults.
func decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = n
		return nil
	}

	str("NAV_VALIDITY", &c.Library.Validity)
	str("NAV_SEARCH_ORDER", &c.Library.SearchOrder)
	str("NAV_TIE_BREAK", &c.Library.TieBreak)
	str("NAV_XMIT_HEALTH", &c.Library.XmitHealth)
	if v := strings.TrimSpace(getenv("NAV_TYPES")); v != "" {
		c.Library.Types = splitList(v)
	}
	if err := integer("NAV_NEAR_FULL_WEEK", &c.Almanac.NearFullWeek); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv("NAV_SOURCES")); v != "" {
		c.Sources = nil
		for _, item := range splitList(v) {
			path, format, _ := strings.Cut(item, "=")
			c.Sources = append(c.Sources, SourceConfig{Path: path, Format: format})
		}
	}
	if err := integer("NAV_LOAD_PARALLELISM", &c.Load.Parallelism); err != nil {
		return err
	}
	str("NAV_CORRECTIONS_TOPOLOGY", &c.Corrections.Topology)
	str("NAV_MET_FILE", &c.Corrections.MetFile)
	str("NAV_DUP_HANDLING", &c.Corrections.DupHandling)
	str("NAV_LOG_LEVEL", &c.Logging.Level)
	str("NAV_LOG_FORMAT", &c.Logging.Format)
	str("NAV_METRICS_ADDR", &c.Metrics.Addr)
	if v := strings.TrimSpace(getenv("NAV_TRACING_ENABLED")); v != "" {
		c.Tracing.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	str("NAV_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("NAV_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	str("NAV_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	if v := strings.TrimSpace(getenv("NAV_TRACING_SAMPLE_RATIO")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: NAV_TRACING_SAMPLE_RATIO: %v", ErrInvalid, err)
		}
		c.Tracing.SampleRatio = f
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate fills empty source formats with auto and checks every enumerated
// setting.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := c.Library.QueryOptions(); err != nil {
		bad("library: %v", err)
	}
	if _, err := c.Library.TieBreakPolicy(); err != nil {
		bad("library.tie_break: %v", err)
	}
	if _, err := c.Library.MessageTypes(); err != nil {
		bad("library.types: %v", err)
	}
	if c.Almanac.NearFullWeek < 0 {
		bad("almanac.near_full_week must be >= 0")
	}
	if _, err := c.Almanac.Satellites(); err != nil {
		bad("almanac.tle_satellites: %v", err)
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if strings.TrimSpace(s.Path) == "" {
			bad("sources[%d].path is required", i)
		}
		if s.Format == "" {
			s.Format = "auto"
		}
		if !formats[strings.ToLower(s.Format)] {
			bad("sources[%d].format %q is not supported", i, s.Format)
		}
	}
	if c.Load.Parallelism < 0 {
		bad("load.parallelism must be >= 0")
	}
	if !topologies[strings.ToLower(c.Corrections.Topology)] {
		bad("corrections.topology %q is not one of none|basic|global|nb", c.Corrections.Topology)
	}
	if _, err := corrections.ParseCorrDupHandling(c.Corrections.DupHandling); err != nil {
		bad("corrections.dup_handling: %v", err)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		bad("tracing.sample_ratio must be within [0, 1]")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		bad("logging.format %q is not text or json", c.Logging.Format)
	}
	return errors.Join(errs...)
}

// QueryOptions converts the filter settings into library query options.
func (l LibraryConfig) QueryOptions() ([]core.QueryOption, error) {
	valid, err := model.ParseValidity(l.Validity)
	if err != nil {
		return nil, err
	}
	order, err := model.ParseSearchOrder(l.SearchOrder)
	if err != nil {
		return nil, err
	}
	health, err := model.ParseSVHealth(l.XmitHealth)
	if err != nil {
		return nil, err
	}
	return []core.QueryOption{core.Validity(valid), core.Order(order), core.XmitHealth(health)}, nil
}

func (l LibraryConfig) TieBreakPolicy() (core.TieBreakPolicy, error) {
	if l.TieBreak == "" {
		return core.TieBreakRegistration, nil
	}
	return core.ParseTieBreakPolicy(l.TieBreak)
}

// MessageTypes is the ingest type filter; empty means all types.
func (l LibraryConfig) MessageTypes() ([]model.NavMessageType, error) {
	var out []model.NavMessageType
	for _, s := range l.Types {
		t, err := model.ParseNavMessageType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Satellites parses the NORAD to satellite map.
func (a AlmanacConfig) Satellites() (map[int]model.SatID, error) {
	if len(a.TLESatellites) == 0 {
		return nil, nil
	}
	out := make(map[int]model.SatID, len(a.TLESatellites))
	for norad, s := range a.TLESatellites {
		sat, err := model.ParseSatID(s)
		if err != nil {
			return nil, fmt.Errorf("%d: %w", norad, err)
		}
		out[norad] = sat
	}
	return out, nil
}

// Logging builds the logger configuration writing to out.
func (l LoggingConfig) Logging(out io.Writer) logging.Config {
	return logging.Config{Level: l.Level, Format: strings.ToLower(l.Format), Output: out}
}

// Observability builds the tracer configuration. Stdout exporter output goes
// to out.
func (t TracingConfig) Observability(out io.Writer) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    strings.ToLower(t.Exporter),
		Endpoint:    t.Endpoint,
		SampleRatio: t.SampleRatio,
		Writer:      out,
	}
}
