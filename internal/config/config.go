package config

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ironsheep/image-queue-server/internal/audit"
	"github.com/ironsheep/image-queue-server/internal/protocol"
	"github.com/ironsheep/image-queue-server/internal/queue"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "IMGSRV"

// ErrUsage is returned when the arguments cannot be turned into a Config.
var ErrUsage = errors.New("invalid usage")

// MQTT configures the optional audit mirror.
type MQTT struct {
	Broker string `mapstructure:"broker"`
	Topic  string `mapstructure:"topic"`
	QoS    int    `mapstructure:"qos"`
}

// Config holds the server settings.
type Config struct {
	QueueSize       int    `mapstructure:"queue_size"`
	Workers         int    `mapstructure:"workers"`
	Policy          string `mapstructure:"policy"`
	Port            int    `mapstructure:"port"`
	AuditFormat     string `mapstructure:"audit_format"`
	LogLevel        string `mapstructure:"log_level"`
	MaxPayloadBytes int64  `mapstructure:"max_payload_bytes"`
	MQTT            MQTT   `mapstructure:"mqtt"`
}

var defaults = map[string]any{
	"queue_size":        0,
	"workers":           1,
	"policy":            queue.FIFO.String(),
	"port":              0,
	"audit_format":      audit.Standard.String(),
	"log_level":         zerolog.InfoLevel.String(),
	"max_payload_bytes": int64(protocol.DefaultMaxPayload),
	"mqtt.broker":       "",
	"mqtt.topic":        "image-server/audit",
	"mqtt.qos":          0,
}

// flag name -> config key
var flagKeys = map[string]string{
	"queue-size":   "queue_size",
	"workers":      "workers",
	"policy":       "policy",
	"audit-format": "audit_format",
	"log-level":    "log_level",
	"max-payload":  "max_payload_bytes",
	"mqtt-broker":  "mqtt.broker",
	"mqtt-topic":   "mqtt.topic",
	"mqtt-qos":     "mqtt.qos",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("image-server", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.IntP("queue-size", "q", 0, "maximum number of queued requests per connection (required)")
	fs.IntP("workers", "w", 1, "number of worker goroutines per connection")
	fs.StringP("policy", "p", queue.FIFO.String(), "dequeue policy: FIFO or SJN")
	fs.String("audit-format", audit.Standard.String(), "audit line layout: standard or extended")
	fs.String("log-level", zerolog.InfoLevel.String(), "log level: debug, info, warn, error")
	fs.Int64("max-payload", protocol.DefaultMaxPayload, "largest accepted image payload in bytes")
	fs.String("mqtt-broker", "", "mirror audit lines to this MQTT broker (host:port)")
	fs.String("mqtt-topic", "image-server/audit", "MQTT topic for mirrored audit lines")
	fs.Int("mqtt-qos", 0, "MQTT quality of service (0, 1 or 2)")
	fs.String("config", "", "read settings from this YAML file")
	return fs
}

// Usage returns the command line help text.
func Usage() string {
	var b bytes.Buffer
	b.WriteString("Usage: image-server -q <queue size> [options] <port>\n\nOptions:\n")
	b.WriteString(newFlagSet().FlagUsages())
	fmt.Fprintf(&b, "\nEvery option can also be set with %s_<NAME>, e.g. %s_QUEUE_SIZE=8.\n", EnvPrefix, EnvPrefix)
	return b.String()
}

// Load parses args (without the program name) together with the environment
// and optional config file, and validates the result.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	fs.Usage = func() {}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		port, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("%w: port must be a number, got %q", ErrUsage, rest[0])
		}
		v.Set("port", port)
	default:
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, rest[1:])
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be >= 1, got %d", ErrUsage, c.QueueSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrUsage, c.Workers)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be in 1..65535, got %d", ErrUsage, c.Port)
	}
	if _, err := queue.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if _, err := audit.ParseFormat(c.AuditFormat); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if c.MaxPayloadBytes < 1 {
		return fmt.Errorf("%w: max payload must be positive, got %d", ErrUsage, c.MaxPayloadBytes)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2, got %d", ErrUsage, c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("%w: mqtt topic is required with a broker", ErrUsage)
	}
	return nil
}

// Addr is the TCP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// QueuePolicy returns the parsed dequeue policy. Call after Validate.
func (c *Config) QueuePolicy() queue.Policy {
	p, _ := queue.ParsePolicy(c.Policy)
	return p
}

// Format returns the parsed audit format. Call after Validate.
func (c *Config) Format() audit.Format {
	f, _ := audit.ParseFormat(c.AuditFormat)
	return f
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
