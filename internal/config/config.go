package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"
)

const (
	defaultListenAddress  = ":9118"
	defaultMetricsPath    = "/metrics"
	defaultHealthPath     = "/healthz"
	defaultLogLevel       = "info"
	defaultSource         = "entstat"
	defaultScrapeTimeout  = 10 * time.Second
	defaultSampleInterval = 5 * time.Second
	defaultCommandTimeout = 5 * time.Second
)

// Sources selectable via --source.
const (
	SourceEntstat  = "entstat"
	SourceGopsutil = "gopsutil"
	SourceEthtool  = "ethtool"
)

// Config captures runtime configuration options.
type Config struct {
	ListenAddress  string
	MetricsPath    string
	HealthPath     string
	LogLevel       slog.Level
	Source         string
	LsdevPath      string
	EntstatPath    string
	ScrapeTimeout  time.Duration
	SampleInterval time.Duration
	CommandTimeout time.Duration
	ShowVersion    bool
}

// Parse constructs a Config from command-line flags and environment variables.
func Parse(args []string) (Config, error) {
	var cfg Config

	fs := flag.NewFlagSet("entstat_exporter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen-address", envOrDefault("ENTSTAT_EXPORTER_LISTEN_ADDRESS", defaultListenAddress), "Address to listen on for HTTP requests.")
	metricsPath := fs.String("metrics-path", envOrDefault("ENTSTAT_EXPORTER_METRICS_PATH", defaultMetricsPath), "HTTP path under which metrics are served.")
	healthPath := fs.String("health-path", envOrDefault("ENTSTAT_EXPORTER_HEALTH_PATH", defaultHealthPath), "HTTP path for health checks.")
	logLevel := fs.String("log-level", envOrDefault("ENTSTAT_EXPORTER_LOG_LEVEL", defaultLogLevel), "Log level (debug, info, warn, error).")
	source := fs.String("source", envOrDefault("ENTSTAT_EXPORTER_SOURCE", defaultSource), "Counter source (entstat, gopsutil, ethtool).")
	lsdevPath := fs.String("lsdev-path", envOrDefault("ENTSTAT_EXPORTER_LSDEV_PATH", ""), "Override the lsdev command path.")
	entstatPath := fs.String("entstat-path", envOrDefault("ENTSTAT_EXPORTER_ENTSTAT_PATH", ""), "Override the entstat command path.")

	scrapeDefault, err := envDuration("ENTSTAT_EXPORTER_SCRAPE_TIMEOUT", defaultScrapeTimeout)
	if err != nil {
		return cfg, err
	}
	intervalDefault, err := envDuration("ENTSTAT_EXPORTER_SAMPLE_INTERVAL", defaultSampleInterval)
	if err != nil {
		return cfg, err
	}
	commandDefault, err := envDuration("ENTSTAT_EXPORTER_COMMAND_TIMEOUT", defaultCommandTimeout)
	if err != nil {
		return cfg, err
	}

	scrapeTimeout := fs.Duration("scrape-timeout", scrapeDefault, "Maximum duration to spend gathering metrics per scrape.")
	sampleInterval := fs.Duration("sample-interval", intervalDefault, "Minimum time between re-samples of one adapter.")
	commandTimeout := fs.Duration("command-timeout", commandDefault, "Wall-clock ceiling for a single stats command; exceeding it disables the adapter.")
	showVersion := fs.Bool("version", false, "Print version information and exit.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, err
		}
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return cfg, err
	}

	switch *source {
	case SourceEntstat, SourceGopsutil, SourceEthtool:
	default:
		return cfg, fmt.Errorf("invalid source %q", *source)
	}

	cfg = Config{
		ListenAddress:  *listen,
		MetricsPath:    *metricsPath,
		HealthPath:     *healthPath,
		LogLevel:       level,
		Source:         *source,
		LsdevPath:      *lsdevPath,
		EntstatPath:    *entstatPath,
		ScrapeTimeout:  *scrapeTimeout,
		SampleInterval: *sampleInterval,
		CommandTimeout: *commandTimeout,
		ShowVersion:    *showVersion,
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", value)
	}
}
