package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SYNCLINK"
	FileName  = "synclink"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Persist  PersistConfig  `mapstructure:"persist"`
	WS       WSConfig       `mapstructure:"ws"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Judge    JudgeConfig    `mapstructure:"judge"`
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	// sqlite, mongo or memory
	Driver          string `mapstructure:"driver"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MongoURI        string `mapstructure:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection"`
}

type PersistConfig struct {
	Workers      int           `mapstructure:"workers"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WSConfig struct {
	MessagesPerSecond    float64 `mapstructure:"messages_per_second"`
	MessageBurst         int     `mapstructure:"message_burst"`
	ConnectionsPerSecond float64 `mapstructure:"connections_per_second"`
	ConnectionBurst      int     `mapstructure:"connection_burst"`
}

// Empty RedisAddr runs a single instance
type ClusterConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	Channel   string `mapstructure:"channel"`
}

// Empty DSN disables /register and /login
type AccountsConfig struct {
	DSN string `mapstructure:"dsn"`
}

type JudgeConfig struct {
	SubmitURL string        `mapstructure:"submit_url"`
	Secret    string        `mapstructure:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type WebRTCConfig struct {
	STUNURLs     []string `mapstructure:"stun_urls"`
	TURNURL      string   `mapstructure:"turn_url"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/synclink.db")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "synclink")
	v.SetDefault("store.mongo_collection", "documents")

	v.SetDefault("persist.workers", 4)
	v.SetDefault("persist.write_timeout", "10s")

	v.SetDefault("ws.messages_per_second", 100)
	v.SetDefault("ws.message_burst", 200)
	v.SetDefault("ws.connections_per_second", 5)
	v.SetDefault("ws.connection_burst", 20)

	v.SetDefault("cluster.redis_addr", "")
	v.SetDefault("cluster.channel", "synclink:broadcast")

	v.SetDefault("accounts.dsn", "")

	v.SetDefault("judge.submit_url", "https://api.hackerearth.com/v4/partner/code-evaluation/submissions/")
	v.SetDefault("judge.secret", "")
	v.SetDefault("judge.timeout", "15s")

	v.SetDefault("webrtc.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.turn_url", "")
	v.SetDefault("webrtc.turn_username", "")
	v.SetDefault("webrtc.turn_password", "")

	v.SetDefault("log.development", false)
}

// Load reads defaults, then the config file, then SYNCLINK_* environment
// variables. With an empty path a synclink.yaml in the working directory is
// used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "mongo", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Persist.Workers <= 0 {
		return fmt.Errorf("persist.workers must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
