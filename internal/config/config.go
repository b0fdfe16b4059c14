package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	GatewayURL string `mapstructure:"gateway_url"`
	Plugin     string `mapstructure:"plugin"`
	Room       uint64 `mapstructure:"room"`
	Display    string `mapstructure:"display"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	LongPollTimeout    time.Duration `mapstructure:"long_poll_timeout"`
	TrickleDebounce    time.Duration `mapstructure:"trickle_debounce"`
	PollMaxRetries     int           `mapstructure:"poll_max_retries"`
	PollBackoffInitial time.Duration `mapstructure:"poll_backoff_initial"`
	PollBackoffMax     time.Duration `mapstructure:"poll_backoff_max"`

	Loopback   bool     `mapstructure:"loopback"`
	Audio      bool     `mapstructure:"audio"`
	Video      bool     `mapstructure:"video"`
	ICEServers []string `mapstructure:"ice_servers"`

	StatusAddr string `mapstructure:"status_addr"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, then ROOMLINK_* environment
// variables, then any flags set on flags. Later sources win.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("gateway_url", "http://127.0.0.1:8088/janus")
	v.SetDefault("plugin", "janus.plugin.videoroom")
	v.SetDefault("room", 1234)
	v.SetDefault("display", "")
	v.SetDefault("request_timeout", "3s")
	v.SetDefault("long_poll_timeout", "60s")
	v.SetDefault("trickle_debounce", "50ms")
	v.SetDefault("poll_max_retries", 3)
	v.SetDefault("poll_backoff_initial", "500ms")
	v.SetDefault("poll_backoff_max", "5s")
	v.SetDefault("loopback", false)
	v.SetDefault("audio", true)
	v.SetDefault("video", true)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("status_addr", "127.0.0.1:8090")

	v.SetEnvPrefix("ROOMLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !isKnown(key) {
				return
			}
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Fprintf(os.Stderr, "✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "🧩 Mode: %s | Gateway: %s | Room: %d\n", cfg.Mode, cfg.GatewayURL, cfg.Room)
	return &cfg, nil
}

var knownKeys = []string{
	"mode", "log_level", "gateway_url", "plugin", "room", "display",
	"request_timeout", "long_poll_timeout", "trickle_debounce",
	"poll_max_retries", "poll_backoff_initial", "poll_backoff_max",
	"loopback", "audio", "video", "ice_servers", "status_addr",
}

func isKnown(key string) bool {
	return slices.Contains(knownKeys, key)
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: invalid gateway_url %q", c.GatewayURL)
	}
	if c.Plugin == "" {
		return errors.New("config: plugin is empty")
	}
	if c.Room == 0 {
		return errors.New("config: room must be non-zero")
	}
	if c.RequestTimeout <= 0 || c.LongPollTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.LongPollTimeout <= c.RequestTimeout {
		return fmt.Errorf("config: long_poll_timeout (%s) must exceed request_timeout (%s)", c.LongPollTimeout, c.RequestTimeout)
	}
	if c.TrickleDebounce <= 0 {
		return errors.New("config: trickle_debounce must be positive")
	}
	if c.PollMaxRetries < 0 {
		return errors.New("config: poll_max_retries must not be negative")
	}
	return nil
}
