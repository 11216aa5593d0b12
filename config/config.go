package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "TTT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress     string        `mapstructure:"http_address"`
	WSPath          string        `mapstructure:"ws_path"`
	RPCAddress      string        `mapstructure:"rpc_address"`
	MonitorAddress  string        `mapstructure:"monitor_address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

type RoomsConfig struct {
	CodeLength   int           `mapstructure:"code_length"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type MirrorConfig struct {
	Backends     []string      `mapstructure:"backends"`
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Stream        string `mapstructure:"stream"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.monitor_address", ":9100")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.ping_interval", 54*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.max_message_bytes", 4096)

	v.SetDefault("rooms.code_length", 8)
	v.SetDefault("rooms.idle_ttl", 2*time.Hour)
	v.SetDefault("rooms.reap_interval", 5*time.Minute)

	v.SetDefault("mirror.backends", []string{})
	v.SetDefault("mirror.workers", 4)
	v.SetDefault("mirror.queue_size", 256)
	v.SetDefault("mirror.write_timeout", 5*time.Second)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "tictactoe")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ttt:")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "tictactoe")
	v.SetDefault("nats.stream", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads config.yaml from path when present, then applies
// TTT_* environment overrides (TTT_SERVER_HTTP_ADDRESS and so on).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddress == "" {
		errs = append(errs, errors.New("server.http_address is required"))
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path must start with /: %q", c.Server.WSPath))
	}
	if c.Rooms.CodeLength < 4 {
		errs = append(errs, fmt.Errorf("rooms.code_length must be at least 4: %d", c.Rooms.CodeLength))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout && c.WebSocket.ReadTimeout > 0 {
		errs = append(errs, errors.New("websocket.ping_interval must be shorter than websocket.read_timeout"))
	}
	if c.Mirror.Workers < 1 {
		errs = append(errs, errors.New("mirror.workers must be positive"))
	}
	return errors.Join(errs...)
}
