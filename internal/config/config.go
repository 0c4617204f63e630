package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string       `mapstructure:"mode"`
	LogLevel string       `mapstructure:"log_level"`
	Relay    RelayConfig  `mapstructure:"relay"`
	Client   ClientConfig `mapstructure:"client"`
	Call     CallConfig   `mapstructure:"call"`
}

type RelayConfig struct {
	Port         int           `mapstructure:"port"`
	Secret       string        `mapstructure:"secret"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	MaxStrikes   int           `mapstructure:"max_strikes"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type ClientConfig struct {
	Identity     string        `mapstructure:"identity"`
	RelayURL     string        `mapstructure:"relay_url"`
	ControlPort  int           `mapstructure:"control_port"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

type CallConfig struct {
	ICEServers             []string      `mapstructure:"ice_servers"`
	TURNUsername           string        `mapstructure:"turn_username"`
	TURNCredential         string        `mapstructure:"turn_credential"`
	ICEConnectTimeout      time.Duration `mapstructure:"ice_connect_timeout"`
	ICEDisconnectedTimeout time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration `mapstructure:"ice_failed_timeout"`
	RingTimeout            time.Duration `mapstructure:"ring_timeout"`
	AcquireTimeout         time.Duration `mapstructure:"acquire_timeout"`
	UDPPortMin             uint16        `mapstructure:"udp_port_min"`
	UDPPortMax             uint16        `mapstructure:"udp_port_max"`
	VideoWidth             int           `mapstructure:"video_width"`
	VideoHeight            int           `mapstructure:"video_height"`
	VideoBitRate           int           `mapstructure:"video_bitrate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.secret", "change-me")
	v.SetDefault("relay.secure_cookie", false)
	v.SetDefault("relay.read_limit", 65536)
	v.SetDefault("relay.ping_period", "30s")
	v.SetDefault("relay.send_buffer", 32)
	v.SetDefault("relay.max_strikes", 8)
	v.SetDefault("relay.rate_limit", 120)
	v.SetDefault("relay.rate_interval", "10s")

	v.SetDefault("client.identity", "")
	v.SetDefault("client.relay_url", "http://localhost:8080")
	v.SetDefault("client.control_port", 8090)
	v.SetDefault("client.reconnect_min", "500ms")
	v.SetDefault("client.reconnect_max", "30s")

	v.SetDefault("call.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("call.turn_username", "")
	v.SetDefault("call.turn_credential", "")
	v.SetDefault("call.ice_connect_timeout", "30s")
	v.SetDefault("call.ice_disconnected_timeout", "5s")
	v.SetDefault("call.ice_failed_timeout", "25s")
	v.SetDefault("call.ring_timeout", "45s")
	v.SetDefault("call.acquire_timeout", "30s")
	v.SetDefault("call.udp_port_min", 0)
	v.SetDefault("call.udp_port_max", 0)
	v.SetDefault("call.video_width", 640)
	v.SetDefault("call.video_height", 480)
	v.SetDefault("call.video_bitrate", 1500000)
}

// Load reads config/config.<CONFIG_ENV>.yaml, defaulting to dev.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFrom(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFrom reads the given yaml file. A missing file is not an error;
// defaults and TRIBECALL_* environment variables still apply.
func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("TRIBECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("log_level", cfg.LogLevel).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Relay.RateLimit <= 0 || c.Relay.RateInterval <= 0 {
		return fmt.Errorf("relay rate limit must be positive")
	}
	if c.Call.UDPPortMin > c.Call.UDPPortMax {
		return fmt.Errorf("call.udp_port_min %d exceeds call.udp_port_max %d", c.Call.UDPPortMin, c.Call.UDPPortMax)
	}
	if c.Call.RingTimeout <= 0 || c.Call.ICEConnectTimeout <= 0 {
		return fmt.Errorf("call timeouts must be positive")
	}
	return nil
}
