package config

import (
	"time"

	"PChat/data/database/mgo/mongoutil"
	"PChat/logger"
	"PChat/module/chat/store"
	"PChat/service/chat"
	"PChat/service/kafka"
	"PChat/service/messaging"
	"PChat/service/nacos"
	"PChat/service/natsx"
	"PChat/service/queue"
	"PChat/service/storage"
	"PChat/service/storage/redis"

	"github.com/pkg/errors"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	PushLog   = "log"
	PushNats  = "nats"
	PushKafka = "kafka"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server" envPrefix:"SERVER_"`
	Redis     redis.Config     `mapstructure:"redis" envPrefix:"REDIS_"`
	Postgres  store.PgConfig   `mapstructure:"postgres" envPrefix:"POSTGRES_"`
	Mongo     mongoutil.Config `mapstructure:"mongo" envPrefix:"MONGO_"`
	Auth      AuthConfig       `mapstructure:"auth" envPrefix:"AUTH_"`
	Push      PushConfig       `mapstructure:"push" envPrefix:"PUSH_"`
	Queue     queue.Config     `mapstructure:"queue" envPrefix:"QUEUE_"`
	Presence  storage.Options  `mapstructure:"presence" envPrefix:"PRESENCE_"`
	Messaging messaging.Config `mapstructure:"messaging" envPrefix:"MESSAGING_"`
	Log       logger.Config    `mapstructure:"log" envPrefix:"LOG_"`
	Nacos     nacos.Config     `mapstructure:"nacos" envPrefix:"NACOS_"`
	Backends  BackendsConfig   `mapstructure:"backends" envPrefix:"BACKENDS_"`
}

type ServerConfig struct {
	Addr            string          `mapstructure:"addr" env:"ADDR"`
	GrpcAddr        string          `mapstructure:"grpcAddr" env:"GRPC_ADDR"` // 健康检查，空则不启动
	AdvertiseIP     string          `mapstructure:"advertiseIP" env:"ADVERTISE_IP"`
	WSPath          string          `mapstructure:"wsPath" env:"WS_PATH"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	Gateway         chat.ServerConf `mapstructure:"gateway" envPrefix:"GATEWAY_"`
}

type AuthConfig struct {
	Secret string        `mapstructure:"secret" env:"SECRET"`
	Alg    string        `mapstructure:"alg" env:"ALG"`
	TTL    time.Duration `mapstructure:"ttl" env:"TTL"`
}

type PushConfig struct {
	Backend string       `mapstructure:"backend" env:"BACKEND"`
	Subject string       `mapstructure:"subject" env:"SUBJECT"` // nats subject
	Stream  string       `mapstructure:"stream" env:"STREAM"`   // 非空时走 JetStream
	Nats    natsx.Config `mapstructure:"nats" envPrefix:"NATS_"`
	Kafka   kafka.Config `mapstructure:"kafka" envPrefix:"KAFKA_"`
}

type BackendsConfig struct {
	State string     `mapstructure:"state" env:"STATE"`
	Repo  string     `mapstructure:"repo" env:"REPO"`
	Seed  SeedConfig `mapstructure:"seed"`
}

// SeedConfig 内存仓库的初始数据
type SeedConfig struct {
	Users         []SeedUser         `mapstructure:"users"`
	Conversations []SeedConversation `mapstructure:"conversations"`
}

type SeedUser struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	AvatarURL string `mapstructure:"avatarUrl"`
}

type SeedConversation struct {
	ID           string   `mapstructure:"id"`
	Participants []string `mapstructure:"participants"`
}

// Default 本地开发默认值：内存存储、日志推送
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			WSPath:          "/ws",
			ShutdownTimeout: 15 * time.Second,
			Gateway:         chat.ServerConf{NodeID: 1},
		},
		Redis:    redis.Config{Addrs: []string{"127.0.0.1:6379"}},
		Auth:     AuthConfig{Alg: "HS256", TTL: 2 * time.Hour},
		Push:     PushConfig{Backend: PushLog, Subject: "pchat.push.notification", Kafka: kafka.DefaultConfig()},
		Queue:    queue.DefaultConfig(),
		Log:      logger.Config{Level: "info"},
		Nacos:    nacos.Config{DataID: "pchat.yaml"},
		Backends: BackendsConfig{State: BackendMemory, Repo: BackendMemory},
	}
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	switch c.Backends.State {
	case BackendMemory, BackendRedis:
	default:
		return errors.Errorf("backends.state %q: want memory or redis", c.Backends.State)
	}
	switch c.Backends.Repo {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return errors.New("postgres.url is required for postgres repo")
		}
	default:
		return errors.Errorf("backends.repo %q: want memory or postgres", c.Backends.Repo)
	}
	switch c.Push.Backend {
	case PushLog:
	case PushNats:
		if len(c.Push.Nats.Servers) == 0 {
			return errors.New("push.nats.servers is required")
		}
	case PushKafka:
		if len(c.Push.Kafka.Brokers) == 0 {
			return errors.New("push.kafka.brokers is required")
		}
	default:
		return errors.Errorf("push.backend %q: want log, nats or kafka", c.Push.Backend)
	}
	return nil
}
