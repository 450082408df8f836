package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "COALESCER"

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Outbound  OutboundConfig  `mapstructure:"outbound"`
	Coalescer CoalescerConfig `mapstructure:"coalescer"`
	Hub       HubConfig       `mapstructure:"hub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// RuntimeDelayMs is the operator override from --buffer-delay-ms or
	// COALESCER_BUFFER_DELAY_MS. Zero means unset.
	RuntimeDelayMs int `mapstructure:"runtime_delay_ms"`

	// File is the config file viper read, empty when none was used.
	File string `mapstructure:"-"`
}

type ServiceConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   string `mapstructure:"node_id"`
}

type AMQPConfig struct {
	// URL empty switches intake to the in-process gochannel bus.
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type OutboundConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exchange string `mapstructure:"exchange"`
}

type CoalescerConfig struct {
	// BufferDelayMs is the deploy-time delay. It defaults to the value
	// linked in through BuildBufferDelayMs.
	BufferDelayMs    int      `mapstructure:"buffer_delay_ms"`
	DedupWindowMs    int      `mapstructure:"dedup_window_ms"`
	DedupCapacity    int      `mapstructure:"dedup_capacity"`
	LateFactor       float64  `mapstructure:"late_factor"`
	BypassKinds      []string `mapstructure:"bypass_kinds"`
	UserOverrideFile string   `mapstructure:"user_override_file"`
}

type HubConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	SessionBuffer    int           `mapstructure:"session_buffer"`
}

type TelemetryConfig struct {
	OtelLogs bool `mapstructure:"otel_logs"`
	Tracing  bool `mapstructure:"tracing"`
}

// flagKeys maps command line flags onto their viper keys.
var flagKeys = map[string]string{
	"http-addr":          "service.http_addr",
	"grpc-addr":          "service.grpc_addr",
	"log-level":          "service.log_level",
	"node-id":            "service.node_id",
	"amqp-url":           "amqp.url",
	"buffer-delay-ms":    "runtime_delay_ms",
	"dedup-window-ms":    "coalescer.dedup_window_ms",
	"late-factor":        "coalescer.late_factor",
	"user-override-file": "coalescer.user_override_file",
	"outbound":           "outbound.enabled",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.String("config_file", "", "Path to the configuration file")
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.String("grpc-addr", ":9090", "gRPC health listen address")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("node-id", "", "Node identifier stamped on outbound updates")
	fs.String("amqp-url", "", "AMQP broker URL; empty uses the in-process bus")
	fs.Int("buffer-delay-ms", 0, "Runtime override of the debounce delay in ms")
	fs.Int("dedup-window-ms", 1000, "Dedup window in ms")
	fs.Float64("late-factor", 1.5, "Late delivery threshold as a multiple of the delay")
	fs.String("user-override-file", "", "YAML file holding the persisted user delay override")
	fs.Bool("outbound", false, "Republish dispatched updates to the bus")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.http_addr", ":8080")
	v.SetDefault("service.grpc_addr", ":9090")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("amqp.exchange", "im_notify.events")
	v.SetDefault("amqp.queue", "im-coalescer.intake.v1")
	v.SetDefault("outbound.exchange", "im_notify.updates")
	v.SetDefault("coalescer.buffer_delay_ms", buildDelayMs())
	v.SetDefault("coalescer.dedup_window_ms", 1000)
	v.SetDefault("coalescer.dedup_capacity", 10000)
	v.SetDefault("coalescer.late_factor", 1.5)
	v.SetDefault("coalescer.bypass_kinds", []string{"message_seen"})
	v.SetDefault("hub.idle_timeout", 30*time.Minute)
	v.SetDefault("hub.eviction_interval", 5*time.Minute)
	v.SetDefault("hub.session_buffer", 64)
}

// LoadConfig reads flags, environment and the optional config file.
// Flags win over environment, environment over the file.
func LoadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// [RUNTIME_OVERRIDE] the short env name, not COALESCER_RUNTIME_DELAY_MS.
	if err := v.BindEnv("runtime_delay_ms", EnvPrefix+"_BUFFER_DELAY_MS"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}

	file, _ := fs.GetString("config_file")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read %s: %w", file, err)
			}
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.RuntimeDelayMs < 0 || c.Coalescer.BufferDelayMs < 0 {
		return errors.New("config: buffer delay must not be negative")
	}
	if c.Coalescer.LateFactor <= 0 {
		return errors.New("config: coalescer.late_factor must be positive")
	}
	if c.Hub.SessionBuffer <= 0 {
		return errors.New("config: hub.session_buffer must be positive")
	}
	return nil
}

// DedupWindow returns the configured window as a duration.
func (c *CoalescerConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}
