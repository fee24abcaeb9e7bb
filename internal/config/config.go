package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/weiawesome/site-journal/internal/idgen"
	pkgconfig "github.com/weiawesome/site-journal/pkg/config"
	"github.com/weiawesome/site-journal/pkg/database"
	pkglog "github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/middleware"
	"github.com/weiawesome/site-journal/pkg/pubsub"
	"github.com/weiawesome/site-journal/pkg/storage"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	GRPC      GRPCConfig                `mapstructure:"grpc"`
	WebSocket WebSocketConfig           `mapstructure:"websocket"`
	Store     StoreConfig               `mapstructure:"store"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Cassandra CassandraConfig           `mapstructure:"cassandra"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Events    pubsub.Config             `mapstructure:"events"`
	Auth      middleware.IdentityConfig `mapstructure:"auth"`
	Chat      ChatConfig                `mapstructure:"chat"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Log       pkglog.Config             `mapstructure:"log"`

	v *viper.Viper
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type WebSocketConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// StoreConfig selects the message store backend: gorm, cassandra or memory.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	FilePath        string        `mapstructure:"file_path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime int           `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// ToDatabaseConfig converts to the connection factory's config.
func (c DatabaseConfig) ToDatabaseConfig() *database.Config {
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
		SlowThreshold:   c.SlowThreshold,
	}
}

type CassandraConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type StorageConfig struct {
	Driver         string              `mapstructure:"driver"`
	Local          storage.LocalConfig `mapstructure:"local"`
	S3             storage.S3Config    `mapstructure:"s3"`
	MaxUploadBytes int64               `mapstructure:"max_upload_bytes"`
	URLExpiry      time.Duration       `mapstructure:"url_expiry"`
}

// ToStorageConfig converts to the blob storage factory's config.
func (c StorageConfig) ToStorageConfig() storage.Config {
	return storage.Config{Driver: c.Driver, Local: c.Local, S3: c.S3}
}

type ChatConfig struct {
	MaxBodyLength       int          `mapstructure:"max_body_length"`
	SnapshotSize        int          `mapstructure:"snapshot_size"`
	OverviewConcurrency int          `mapstructure:"overview_concurrency"`
	IDs                 idgen.Config `mapstructure:",squash"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("store.driver", "gorm")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/journal.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "site_journal")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.replication_factor", 1)
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/attachments")
	v.SetDefault("storage.local.url_prefix", "/attachments")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.max_upload_bytes", 20<<20)
	v.SetDefault("storage.url_expiry", "15m")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.kafka.brokers", "localhost:9092")
	v.SetDefault("events.kafka.topic", "chat-events")
	v.SetDefault("events.kafka.partitions", 8)
	v.SetDefault("auth.mode", "header")
	v.SetDefault("auth.header", "X-User-ID")
	v.SetDefault("auth.required", false)
	v.SetDefault("chat.max_body_length", 4000)
	v.SetDefault("chat.snapshot_size", 50)
	v.SetDefault("chat.overview_concurrency", 8)
	v.SetDefault("chat.id_generator", idgen.KindULID)
	v.SetDefault("chat.machine_id", 1)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "site-journal-chat")

	// Override from environment
	pkgconfig.BindEnvs(v, map[string]string{
		"server.port":                  "PORT",
		"grpc.port":                    "GRPC_PORT",
		"store.driver":                 "STORE_DRIVER",
		"database.driver":              "DB_DRIVER",
		"database.host":                "DB_HOST",
		"database.port":                "DB_PORT",
		"database.user":                "DB_USER",
		"database.password":            "DB_PASSWORD",
		"database.dbname":              "DB_NAME",
		"database.file_path":           "DB_FILE_PATH",
		"cassandra.keyspace":           "CASSANDRA_KEYSPACE",
		"redis.address":                "REDIS_ADDRESS",
		"redis.password":               "REDIS_PASSWORD",
		"cache.enabled":                "CACHE_ENABLED",
		"storage.driver":               "STORAGE_DRIVER",
		"storage.s3.endpoint":          "S3_ENDPOINT",
		"storage.s3.region":            "S3_REGION",
		"storage.s3.bucket":            "S3_BUCKET",
		"storage.s3.access_key_id":     "S3_ACCESS_KEY_ID",
		"storage.s3.secret_access_key": "S3_SECRET_ACCESS_KEY",
		"storage.s3.public_url":        "S3_PUBLIC_URL",
		"events.driver":                "EVENTS_DRIVER",
		"events.kafka.brokers":         "KAFKA_BROKERS",
		"events.kafka.topic":           "KAFKA_TOPIC",
		"auth.mode":                    "AUTH_MODE",
		"auth.jwt_secret":              "JWT_SECRET",
		"auth.jwt_issuer":              "JWT_ISSUER",
		"log.level":                    "LOG_LEVEL",
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.v = v

	// Parse durations
	cfg.Server.ReadTimeout = pkgconfig.Duration(v, "server.read_timeout", 15*time.Second)
	cfg.Server.IdleTimeout = pkgconfig.Duration(v, "server.idle_timeout", 60*time.Second)
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Cassandra.ConnectTimeout = pkgconfig.Duration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 5*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 5*time.Minute)
	cfg.Storage.URLExpiry = pkgconfig.Duration(v, "storage.url_expiry", 15*time.Minute)

	// CASSANDRA_HOSTS: comma-separated, e.g. "cassandra:9042" or "host1:9042,host2:9042"
	if hosts := v.GetString("CASSANDRA_HOSTS"); hosts != "" {
		cfg.Cassandra.Hosts = strings.Split(strings.TrimSpace(hosts), ",")
	}

	// The redis event driver shares the cache connection settings.
	if cfg.Events.Redis.Address == "" {
		cfg.Events.Redis = pubsub.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}

	return &cfg, nil
}

// WatchLogLevel re-applies log.level whenever the config file changes. It
// does nothing when no config file was read.
func (c *Config) WatchLogLevel() {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	pkgconfig.Watch(c.v, func(e fsnotify.Event) {
		level := c.v.GetString("log.level")
		pkglog.SetLevel(level)

		l := pkglog.L()
		l.Info().Str("file", e.Name).Str("level", level).Msg("config reloaded")
	})
}
