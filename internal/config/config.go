package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-social-realtime/pkg/config"
	"github.com/weiawesome/wes-social-realtime/pkg/database"
	"github.com/weiawesome/wes-social-realtime/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	Internal  InternalConfig
	Redis     RedisConfig
	Backplane BackplaneConfig
	Kafka     KafkaConfig
	Database  DatabaseConfig
	Presence  PresenceConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	InstanceID string `mapstructure:"instance_id"`
}

// InternalConfig is the service-to-service notify API listener.
type InternalConfig struct {
	Port int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type BackplaneConfig struct {
	Driver string // redis, kafka, none
}

type KafkaConfig struct {
	Brokers string
	Topic   string // social events intake
	GroupID string `mapstructure:"group_id"`
}

type DatabaseConfig struct {
	Enabled         bool
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type PresenceConfig struct {
	IdleThreshold       time.Duration `mapstructure:"-"`
	DisconnectThreshold time.Duration `mapstructure:"-"`
	SweepInterval       time.Duration `mapstructure:"-"`
	GracePeriod         time.Duration `mapstructure:"-"`
	StatusTTL           time.Duration `mapstructure:"-"`
	StatusQueueSize     int           `mapstructure:"status_queue_size"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteWait      time.Duration `mapstructure:"-"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.instance_id", "")
	v.SetDefault("internal.port", 8096)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("backplane.driver", "redis")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "social-events")
	v.SetDefault("kafka.group_id", "realtime-gateway")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "social")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "realtime.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("presence.idle_threshold", "5m")
	v.SetDefault("presence.disconnect_threshold", "15m")
	v.SetDefault("presence.sweep_interval", "30s")
	v.SetDefault("presence.grace_period", "5s")
	v.SetDefault("presence.status_ttl", "30m")
	v.SetDefault("presence.status_queue_size", 1024)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("internal.port", "INTERNAL_PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("backplane.driver", "BACKPLANE_DRIVER")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_SOCIAL_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("database.enabled", "DB_ENABLED")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("presence.idle_threshold", "PRESENCE_IDLE_THRESHOLD")
	v.BindEnv("presence.disconnect_threshold", "PRESENCE_DISCONNECT_THRESHOLD")
	v.BindEnv("presence.grace_period", "PRESENCE_GRACE_PERIOD")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Presence.IdleThreshold = pkgconfig.Duration(v, "presence.idle_threshold", 5*time.Minute)
	cfg.Presence.DisconnectThreshold = pkgconfig.Duration(v, "presence.disconnect_threshold", 15*time.Minute)
	cfg.Presence.SweepInterval = pkgconfig.Duration(v, "presence.sweep_interval", 30*time.Second)
	cfg.Presence.GracePeriod = pkgconfig.OptionalDuration(v, "presence.grace_period", 5*time.Second)
	cfg.Presence.StatusTTL = pkgconfig.Duration(v, "presence.status_ttl", 30*time.Minute)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)

	if cfg.Presence.DisconnectThreshold < cfg.Presence.IdleThreshold {
		cfg.Presence.DisconnectThreshold = cfg.Presence.IdleThreshold
	}

	return &cfg, nil
}

// ToDatabase converts to the shared database package config.
func (c DatabaseConfig) ToDatabase() *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		FilePath:        c.FilePath,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogLevel:        c.LogLevel,
	}
}

// PubSub builds the backplane driver config. It reports false when the
// backplane is disabled.
func (c *Config) PubSub() (pubsub.Config, bool) {
	if c.Backplane.Driver == "none" {
		return pubsub.Config{}, false
	}
	cfg := pubsub.DefaultConfig()
	cfg.Driver = c.Backplane.Driver
	cfg.Redis.Address = c.Redis.Address
	cfg.Redis.Password = c.Redis.Password
	cfg.Redis.DB = c.Redis.DB
	cfg.Kafka.Brokers = c.Kafka.Brokers
	cfg.Kafka.GroupID = c.Kafka.GroupID + "-" + c.Server.InstanceID
	return cfg, true
}
