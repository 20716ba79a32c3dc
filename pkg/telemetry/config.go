package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config holds the logging, tracing and metrics settings of a process
// embedding the rule engine. It is the telemetry section of the settings file.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"` // dev, staging, production

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error, fatal
	Format string `yaml:"format"` // console or json
	Output string `yaml:"output"` // stdout, stderr or a file path

	EnableCaller bool `yaml:"enable_caller"`

	// Sampling keeps SamplingInitial entries per second, then one in
	// SamplingThereafter.
	EnableSampling     bool `yaml:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial"`
	SamplingThereafter int  `yaml:"sampling_thereafter"`

	TimeFormat string `yaml:"time_format"` // rfc3339, unix, unixms, unixmicro
}

// TracingConfig configures the OpenTelemetry span exporter. When disabled,
// spans are still created for rule executions but never exported.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp, stdout, none
	Endpoint string `yaml:"endpoint"` // OTLP gRPC collector, host:port

	SamplingRate       float64           `yaml:"sampling_rate"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size"`
	ExportTimeout      time.Duration     `yaml:"export_timeout"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`

	// DefaultHistogramBuckets are the duration buckets, in seconds, of the
	// execution and node histograms.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets"`
}

var (
	logLevels      = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats     = []string{"console", "json"}
	traceExporters = []string{"otlp", "stdout", "none"}
)

// DefaultConfig logs to stderr at info, exposes metrics on :9090 and
// leaves tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "rulegraph",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "rulegraph",
			// rule batches usually finish well under a second
			DefaultHistogramBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	}
}

// ProductionConfig logs sampled JSON and exports a tenth of the traces over
// OTLP. The collector endpoint still has to be set.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig logs at debug with callers and disables metrics.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Metrics.Enabled = false
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return errors.New("service name is required")
	case c.ServiceVersion == "":
		return errors.New("service version is required")
	case !slices.Contains(logLevels, c.Logging.Level):
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	case !slices.Contains(logFormats, c.Logging.Format):
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	case c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1:
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate)
	case c.Metrics.Enabled && c.Metrics.ListenAddress == "":
		return errors.New("metrics listen address is required when metrics are enabled")
	}

	if !c.Tracing.Enabled {
		return nil
	}
	if !slices.Contains(traceExporters, c.Tracing.Exporter) {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("trace endpoint is required for the otlp exporter")
	}
	return nil
}
