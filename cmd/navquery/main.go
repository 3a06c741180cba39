package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/corrections"
	"github.com/signalsfoundry/gnss-nav-engine/internal/config"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/internal/observability"
	"github.com/signalsfoundry/gnss-nav-engine/kb"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const timeLayout = "2006-01-02T15:04:05.999999999"

type sourceFlags []string

func (s *sourceFlags) String() string { return strings.Join(*s, ",") }

func (s *sourceFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	configPath  string
	envFile     string
	sources     sourceFlags
	sat         string
	at          string
	end         string
	step        float64
	op          string
	almanac     bool
	from        string
	to          string
	rx          string
	detail      string
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "navquery: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("navquery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.envFile, "env", ".env", ".env file overlaid on the configuration")
	fs.Var(&o.sources, "source", "navigation source path, optionally path=format (repeatable)")
	fs.StringVar(&o.sat, "sat", "", "satellite, e.g. gps:5 or G05")
	fs.StringVar(&o.at, "time", "", "query time in GPS time, "+timeLayout)
	fs.StringVar(&o.end, "end", "", "sweep end time in GPS time")
	fs.Float64Var(&o.step, "step", 900, "sweep step in seconds")
	fs.StringVar(&o.op, "op", "xvt", "operation: xvt|health|offset|sats|span|sweep|corr|dump")
	fs.BoolVar(&o.almanac, "almanac", false, "evaluate from almanac rather than ephemeris data")
	fs.StringVar(&o.from, "from", "GPS", "offset source time system")
	fs.StringVar(&o.to, "to", "UTC", "offset target time system")
	fs.StringVar(&o.rx, "rx", "", "receiver ECEF position x,y,z in metres (corr)")
	fs.StringVar(&o.detail, "detail", "brief", "dump detail: oneline|brief|full")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics; serves until interrupted")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return err
	}
	if len(o.sources) > 0 {
		cfg.Sources = nil
		for _, s := range o.sources {
			path, format, _ := strings.Cut(s, "=")
			cfg.Sources = append(cfg.Sources, config.SourceConfig{Path: path, Format: format})
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}

	log := logging.New(cfg.Logging.Logging(stderr))

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing.Observability(stderr), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewNavCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	k, err := buildKB(ctx, cfg, collector, log)
	if err != nil {
		return err
	}

	if err := execute(ctx, o, cfg, k, stdout, stderr); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, collector, log)
		<-ctx.Done()
		log.Info(context.Background(), "shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func buildKB(ctx context.Context, cfg config.Config, collector *observability.NavCollector, log logging.Logger) (*kb.NavKB, error) {
	tie, err := cfg.Library.TieBreakPolicy()
	if err != nil {
		return nil, err
	}
	sats, err := cfg.Almanac.Satellites()
	if err != nil {
		return nil, err
	}
	types, err := cfg.Library.MessageTypes()
	if err != nil {
		return nil, err
	}
	valid, err := model.ParseValidity(cfg.Library.Validity)
	if err != nil {
		return nil, err
	}

	k := kb.New(
		kb.WithLogger(log),
		kb.WithMetrics(collector),
		kb.WithTieBreak(tie),
		kb.WithFactoryOptions(kb.FactoryOptions{
			NearFullWeek:  cfg.Almanac.NearFullWeek,
			TLESatellites: sats,
		}),
	)
	if len(types) > 0 {
		k.SetTypeFilter(types...)
	}
	k.SetValidityFilter(valid)

	specs := make([]kb.SourceSpec, len(cfg.Sources))
	for i, s := range cfg.Sources {
		specs[i] = kb.SourceSpec{Path: s.Path, Format: s.Format}
	}
	if err := k.LoadSources(ctx, specs, cfg.Load.Parallelism); err != nil {
		return nil, err
	}
	return k, nil
}

func execute(ctx context.Context, o options, cfg config.Config, k *kb.NavKB, stdout, stderr io.Writer) error {
	qopts, err := cfg.Library.QueryOptions()
	if err != nil {
		return err
	}
	if o.almanac {
		qopts = append(qopts, core.UseAlmanac())
	}

	switch o.op {
	case "span":
		initial, final := k.Span()
		fmt.Fprintf(stdout, "%s %s\n", initial, final)
		return nil
	case "sats":
		from, to := navtime.BeginningOfTime, navtime.EndOfTime
		if o.at != "" {
			at, err := parseTime(o.at)
			if err != nil {
				return err
			}
			from, to = at, at.Add(1)
		}
		for _, sat := range k.AvailableSats(from, to) {
			fmt.Fprintln(stdout, sat)
		}
		return nil
	case "dump":
		detail, err := parseDetail(o.detail)
		if err != nil {
			return err
		}
		return k.Dump(stdout, detail)
	case "offset":
		at, err := parseTime(o.at)
		if err != nil {
			return err
		}
		from, err := navtime.ParseTimeSystem(o.from)
		if err != nil {
			return err
		}
		to, err := navtime.ParseTimeSystem(o.to)
		if err != nil {
			return err
		}
		off, err := k.Offset(from, to, at, qopts...)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s-%s %s %.12g\n", from, to, at, off)
		return nil
	}

	sat, err := parseSat(o.sat)
	if err != nil {
		return err
	}
	at, err := parseTime(o.at)
	if err != nil {
		return err
	}

	switch o.op {
	case "xvt":
		xvt, err := k.Xvt(sat, at, qopts...)
		if err != nil {
			return err
		}
		printXvt(stdout, sat.Sat, at, xvt)
	case "health":
		h, err := k.Health(sat, at, qopts...)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s %s\n", sat.Sat, at, h)
	case "sweep":
		end, err := parseTime(o.end)
		if err != nil {
			return fmt.Errorf("-end: %w", err)
		}
		points, err := k.Sweep(ctx, sat, at, end, o.step, qopts...)
		for _, p := range points {
			if p.Err != nil {
				fmt.Fprintf(stdout, "%s %s unavailable\n", sat.Sat, p.Time)
				continue
			}
			printXvt(stdout, sat.Sat, p.Time, p.Xvt)
		}
		return err
	case "corr":
		return correct(ctx, o, cfg, k, sat, at, qopts, stdout, stderr)
	default:
		return fmt.Errorf("unknown operation %q", o.op)
	}
	return nil
}

func correct(ctx context.Context, o options, cfg config.Config, k *kb.NavKB, sat model.NavSatelliteID,
	at navtime.CommonTime, qopts []core.QueryOption, stdout, stderr io.Writer) error {
	rx, err := parseECEF(o.rx)
	if err != nil {
		return fmt.Errorf("-rx: %w", err)
	}
	dups, err := corrections.ParseCorrDupHandling(cfg.Corrections.DupHandling)
	if err != nil {
		return err
	}
	g := &corrections.GroupPathCorr{}
	switch strings.ToLower(cfg.Corrections.Topology) {
	case "global":
		err = g.InitGlobal(ctx, k.Library(), cfg.Corrections.MetFile)
	case "nb":
		err = g.InitNB(ctx, k.Library(), cfg.Corrections.MetFile)
	default:
		err = g.Init(k.Library())
	}
	if err != nil {
		return err
	}

	sum, res, err := k.Correct(g, rx, sat, at, dups, qopts...)
	if res == nil {
		return err
	}
	for _, r := range res.Results() {
		fmt.Fprintf(stdout, "%-10s %12.4f\n", r.Source.Type(), r.Value)
	}
	if math.IsNaN(sum) {
		return fmt.Errorf("no corrections computed: %w", err)
	}
	fmt.Fprintf(stdout, "%-10s %12.4f\n", "total", sum)
	if err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	return nil
}

func printXvt(w io.Writer, sat model.SatID, at navtime.CommonTime, x model.Xvt) {
	fmt.Fprintf(w, "%s %s x=%.3f y=%.3f z=%.3f vx=%.4f vy=%.4f vz=%.4f clkbias=%.6e clkdrift=%.6e relcorr=%.6e health=%s\n",
		sat, at, x.X.X, x.X.Y, x.X.Z, x.V.X, x.V.Y, x.V.Z, x.ClkBias, x.ClkDrift, x.RelCorr, x.Health)
}

func parseSat(s string) (model.NavSatelliteID, error) {
	if s == "" {
		return model.NavSatelliteID{}, errors.New("-sat is required")
	}
	sat, err := model.ParseSatID(s)
	if err != nil {
		return model.NavSatelliteID{}, err
	}
	return model.AnySignalFor(sat), nil
}

func parseTime(s string) (navtime.CommonTime, error) {
	if s == "" {
		return navtime.CommonTime{}, errors.New("a time is required")
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return navtime.CommonTime{}, err
	}
	return navtime.FromTime(t, navtime.GPS), nil
}

func parseECEF(s string) (model.Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return model.Position{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Position{}, err
		}
		v[i] = f
	}
	return model.NewPosition(v[0], v[1], v[2]), nil
}

func parseDetail(s string) (core.DumpDetail, error) {
	switch strings.ToLower(s) {
	case "oneline":
		return core.DumpOneLine, nil
	case "brief", "":
		return core.DumpBrief, nil
	case "full":
		return core.DumpFull, nil
	}
	return 0, fmt.Errorf("unknown dump detail %q", s)
}

func serveMetrics(addr string, collector *observability.NavCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
