package config

import (
	"time"

	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/idgen"
	"github.com/weiawesome/games-society/internal/messagelog"
	pkgconfig "github.com/weiawesome/games-society/pkg/config"
	"github.com/weiawesome/games-society/pkg/database"
	"github.com/weiawesome/games-society/pkg/pubsub"
)

type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Redis      RedisConfig
	PubSub     pubsub.Config `mapstructure:"pubsub"`
	Feed       feed.Config
	MessageLog messagelog.Config `mapstructure:"messagelog"`
	IDGen      idgen.Config      `mapstructure:"idgen"`
	Reconciler ReconcilerConfig
	Auth       AuthConfig
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// StoreConfig selects the document store. The memory driver keeps
// everything in process and is meant for development and tests.
type StoreConfig struct {
	Driver string          `mapstructure:"driver"` // memory, mongo
	Mongo  database.Config `mapstructure:"mongo"`
}

// RedisConfig configures the counter cache. An empty address keeps the
// counters in process.
type RedisConfig = cache.RedisConfig

type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	TopN     int           `mapstructure:"top_n"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config", "")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("store.mongo.database", "games_society")
	v.SetDefault("store.mongo.connect_timeout", "10s")
	v.SetDefault("store.mongo.max_pool_size", 100)
	v.SetDefault("store.mongo.min_pool_size", 0)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("feed.backoff_initial", "200ms")
	v.SetDefault("feed.backoff_max", "10s")
	v.SetDefault("feed.max_retries", 8)
	v.SetDefault("messagelog.clock_skew", "30s")
	v.SetDefault("idgen.type", "ulid")
	v.SetDefault("idgen.nanoid_size", 21)
	v.SetDefault("reconciler.interval", "60s")
	v.SetDefault("reconciler.top_n", 100)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "games-society")
	v.SetDefault("auth.token_lifetime", "24h")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.auth_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.mongo.uri", "MONGO_URI")
	v.BindEnv("store.mongo.database", "MONGO_DATABASE")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.redis.address", "PUBSUB_REDIS_ADDRESS")
	v.BindEnv("feed.max_retries", "FEED_MAX_RETRIES")
	v.BindEnv("messagelog.clock_skew", "MESSAGELOG_CLOCK_SKEW")
	v.BindEnv("idgen.type", "ID_GENERATOR_TYPE")
	v.BindEnv("reconciler.interval", "RECONCILER_INTERVAL")
	v.BindEnv("reconciler.top_n", "RECONCILER_TOP_N")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
