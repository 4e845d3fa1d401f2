package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ECHOMEET"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Store    StoreConfig    `mapstructure:"store"`
	Signal   SignalConfig   `mapstructure:"signal"`
	ICE      ICEConfig      `mapstructure:"ice"`
	Identity IdentityConfig `mapstructure:"identity"`
	Media    MediaConfig    `mapstructure:"media"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Share    ShareConfig    `mapstructure:"share"`
}

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SignalConfig struct {
	URL          string        `mapstructure:"url"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type ICEConfig struct {
	URLs []string `mapstructure:"urls"`
}

// IdentityConfig selects who the client runs as: a signed token when Token is
// set, the static user otherwise.
type IdentityConfig struct {
	Token       string `mapstructure:"token"`
	Secret      string `mapstructure:"secret"`
	UserID      string `mapstructure:"user_id"`
	DisplayName string `mapstructure:"display_name"`
	AvatarURI   string `mapstructure:"avatar_uri"`
}

type MediaConfig struct {
	AudioPath string `mapstructure:"audio_path"`
	VideoPath string `mapstructure:"video_path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ShareConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("signal.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("ice.urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("identity.token", "")
	v.SetDefault("identity.secret", "")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.display_name", "")
	v.SetDefault("identity.avatar_uri", "")
	v.SetDefault("media.audio_path", "")
	v.SetDefault("media.video_path", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("share.base_url", "http://localhost:8080")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then ECHOMEET_* environment
// variables, then flags. flags may be nil.
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

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}
