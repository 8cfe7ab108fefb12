package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis
type Config struct {
	Addrs    []string `mapstructure:"addrs" env:"ADDRS" envSeparator:","`
	Password string   `mapstructure:"password" env:"PASSWORD"`
	DB       int      `mapstructure:"db" env:"DB"`
	PoolSize int      `mapstructure:"poolSize" env:"POOL_SIZE"`
	// 单条命令超时；投递路径上卡住的调用按失败处理
	Timeout time.Duration `mapstructure:"timeout" env:"TIMEOUT"`
}

// NewClient 单地址返回普通客户端，多地址返回集群客户端
func NewClient(ctx context.Context, c Config) (redis.UniversalClient, error) {
	if len(c.Addrs) == 0 {
		c.Addrs = []string{"127.0.0.1:6379"}
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        c.Addrs,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
