package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type SessionConfig struct {
	IDLength       int           `mapstructure:"id_length"`
	AutoCreate     bool          `mapstructure:"auto_create"`
	CreateLimit    int           `mapstructure:"create_limit"`
	CreateInterval time.Duration `mapstructure:"create_interval"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type PeerConfig struct {
	SignalURL      string   `mapstructure:"signal_url"`
	APIURL         string   `mapstructure:"api_url"`
	Role           string   `mapstructure:"role"`
	Session        string   `mapstructure:"session"`
	Profile        string   `mapstructure:"profile"`
	ICEServers     []string `mapstructure:"ice_servers"`
	RTPListen      string   `mapstructure:"rtp_listen"`
	FileRoot       string   `mapstructure:"file_root"`
	FileRetransmit uint16   `mapstructure:"file_retransmits"`
	ChunkSize      int      `mapstructure:"chunk_size"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Secret         string        `mapstructure:"secret"`
	SecureCookies  bool          `mapstructure:"secure_cookies"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	LogLevel       string        `mapstructure:"log_level"`

	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Peer    PeerConfig    `mapstructure:"peer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "remotedesk-dev-secret")
	v.SetDefault("secure_cookies", false)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log_level", "info")

	v.SetDefault("session.id_length", 6)
	v.SetDefault("session.auto_create", false)
	v.SetDefault("session.create_limit", 10)
	v.SetDefault("session.create_interval", "1m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("peer.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("peer.api_url", "http://localhost:8080/api")
	v.SetDefault("peer.role", "host")
	v.SetDefault("peer.session", "")
	v.SetDefault("peer.profile", "default")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("peer.rtp_listen", "")
	v.SetDefault("peer.file_root", ".")
	v.SetDefault("peer.file_retransmits", 0)
	v.SetDefault("peer.chunk_size", 16384)
}

func Load() (*Config, error) {
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

	v.SetEnvPrefix("REMOTEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	if c.Session.CreateLimit <= 0 || c.Session.CreateInterval <= 0 {
		return fmt.Errorf("session.create_limit and session.create_interval must be positive")
	}
	switch c.Peer.Role {
	case "host", "client":
	default:
		return fmt.Errorf("peer.role must be host or client, got %q", c.Peer.Role)
	}
	return nil
}
