package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

const fullYAML = `
library:
  validity: any
  search_order: nearest
  tie_break: most_recent
  xmit_health: healthy
  types: [ephemeris, health, time_offset, iono]
almanac:
  near_full_week: 2086
  tle_satellites:
    24876: gps:13
sources:
  - path: data/brdc.15n
    format: rinex
  - path: data/current.alm
load:
  parallelism: 2
corrections:
  topology: nb
  met_file: data/arlm200a.15m
  dup_handling: compute_last
logging: {level: debug, format: json}
metrics: {addr: ":9090"}
tracing: {enabled: true, exporter: otlp, endpoint: "collector:4317", sample_ratio: 0.5}
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, Default().Library, cfg.Library)
	require.Equal(t, 4, cfg.Load.Parallelism)

	opts, err := cfg.Library.QueryOptions()
	require.NoError(t, err)
	require.Len(t, opts, 3)
	p, err := cfg.Library.TieBreakPolicy()
	require.NoError(t, err)
	require.Equal(t, core.TieBreakRegistration, p)
	types, err := cfg.Library.MessageTypes()
	require.NoError(t, err)
	require.Empty(t, types)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(write(t, "nav.yaml", fullYAML), "")
	require.NoError(t, err)

	require.Equal(t, "nearest", cfg.Library.SearchOrder)
	p, err := cfg.Library.TieBreakPolicy()
	require.NoError(t, err)
	require.Equal(t, core.TieBreakMostRecent, p)
	types, err := cfg.Library.MessageTypes()
	require.NoError(t, err)
	require.Equal(t, []model.NavMessageType{model.MsgEphemeris, model.MsgHealth, model.MsgTimeOffset, model.MsgIono}, types)

	require.Equal(t, 2086, cfg.Almanac.NearFullWeek)
	sats, err := cfg.Almanac.Satellites()
	require.NoError(t, err)
	require.Equal(t, model.NewSatID(13, model.SystemGPS), sats[24876])

	require.Equal(t, []SourceConfig{
		{Path: "data/brdc.15n", Format: "rinex"},
		{Path: "data/current.alm", Format: "auto"},
	}, cfg.Sources)
	require.Equal(t, 2, cfg.Load.Parallelism)
	require.Equal(t, "nb", cfg.Corrections.Topology)
	require.Equal(t, "compute_last", cfg.Corrections.DupHandling)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, 0.5, cfg.Tracing.SampleRatio)
	require.Equal(t, "gnss-nav-engine", cfg.Tracing.ServiceName)
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := Load(write(t, "nav.yaml", "library:\n  validty: any\n"), "")
	require.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverlay(t *testing.T) {
	t.Cleanup(func() {
		os.Unsetenv("NAV_LOG_LEVEL")
		os.Unsetenv("NAV_SOURCES")
	})
	env := write(t, ".env", "NAV_LOG_LEVEL=warn\nNAV_SOURCES=brdc.15n=rinex, igs.sp3\n")
	t.Setenv("NAV_LOAD_PARALLELISM", "8")
	t.Setenv("NAV_TRACING_ENABLED", "1")

	cfg, err := Load(write(t, "nav.yaml", fullYAML), env)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 8, cfg.Load.Parallelism)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, []SourceConfig{
		{Path: "brdc.15n", Format: "rinex"},
		{Path: "igs.sp3", Format: "auto"},
	}, cfg.Sources)

	// A missing .env file is not an error.
	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestEnvParseErrors(t *testing.T) {
	t.Setenv("NAV_LOAD_PARALLELISM", "many")
	_, err := Load("", "")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"validity":     func(c *Config) { c.Library.Validity = "sometimes" },
		"tie break":    func(c *Config) { c.Library.TieBreak = "coin_toss" },
		"types":        func(c *Config) { c.Library.Types = []string{"gossip"} },
		"near week":    func(c *Config) { c.Almanac.NearFullWeek = -1 },
		"tle sats":     func(c *Config) { c.Almanac.TLESatellites = map[int]string{1: "X99"} },
		"empty path":   func(c *Config) { c.Sources = []SourceConfig{{Format: "sp3"}} },
		"format":       func(c *Config) { c.Sources = []SourceConfig{{Path: "a", Format: "csv"}} },
		"parallelism":  func(c *Config) { c.Load.Parallelism = -2 },
		"topology":     func(c *Config) { c.Corrections.Topology = "fancy" },
		"dup handling": func(c *Config) { c.Corrections.DupHandling = "whatever" },
		"sample ratio": func(c *Config) { c.Tracing.SampleRatio = 2 },
		"log format":   func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoggingAndTracingFromEnv(t *testing.T) {
	t.Setenv("NAV_LOG_LEVEL", "debug")
	t.Setenv("NAV_LOG_FORMAT", "JSON")
	t.Setenv("NAV_TRACING_ENABLED", "true")
	t.Setenv("NAV_TRACING_EXPORTER", "OTLP")
	t.Setenv("NAV_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("NAV_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("", "")
	require.NoError(t, err)

	var out bytes.Buffer
	lc := cfg.Logging.Logging(&out)
	require.Equal(t, "debug", lc.Level)
	require.Equal(t, "json", lc.Format)
	require.Same(t, &out, lc.Output)

	tc := cfg.Tracing.Observability(&out)
	require.True(t, tc.Enabled)
	require.Equal(t, "otlp", tc.Exporter)
	require.Equal(t, "collector:4317", tc.Endpoint)
	require.Equal(t, 0.25, tc.SampleRatio)
	require.Equal(t, "gnss-nav-engine", tc.ServiceName)
	require.Same(t, &out, tc.Writer)

	t.Setenv("NAV_TRACING_SAMPLE_RATIO", "7")
	_, err = Load("", "")
	require.ErrorIs(t, err, ErrInvalid)
}
