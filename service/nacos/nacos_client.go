package nacos

import (
	"net"
	"strconv"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
)

// Config 连接 nacos；Servers 为空表示不启用
type Config struct {
	Servers   []string `mapstructure:"servers" env:"SERVERS" envSeparator:","` // host:port
	Namespace string   `mapstructure:"namespace" env:"NAMESPACE"`
	Username  string   `mapstructure:"username" env:"USERNAME"`
	Password  string   `mapstructure:"password" env:"PASSWORD"`
	TimeoutMs uint64   `mapstructure:"timeoutMs" env:"TIMEOUT_MS"`
	LogLevel  string   `mapstructure:"logLevel" env:"LOG_LEVEL"`
	CacheDir  string   `mapstructure:"cacheDir" env:"CACHE_DIR"`
	LogDir    string   `mapstructure:"logDir" env:"LOG_DIR"`

	DataID string `mapstructure:"dataId" env:"DATA_ID"`
	Group  string `mapstructure:"group" env:"GROUP"`

	// 网关实例注册
	Register    bool   `mapstructure:"register" env:"REGISTER"`
	ServiceName string `mapstructure:"serviceName" env:"SERVICE_NAME"`
}

func (c Config) Enabled() bool { return len(c.Servers) > 0 }

func serverConfigs(addrs []string) ([]constant.ServerConfig, error) {
	out := make([]constant.ServerConfig, 0, len(addrs))
	for _, a := range addrs {
		host, p, err := net.SplitHostPort(a)
		if err != nil {
			return nil, errors.Wrapf(err, "nacos server %q", a)
		}
		port, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "nacos port %q", a)
		}
		out = append(out, *constant.NewServerConfig(host, port))
	}
	return out, nil
}

func clientConfig(c Config) *constant.ClientConfig {
	timeout := c.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}
	level := c.LogLevel
	if level == "" {
		level = "warn"
	}
	cacheDir, logDir := c.CacheDir, c.LogDir
	if cacheDir == "" {
		cacheDir = "nacos/cache"
	}
	if logDir == "" {
		logDir = "nacos/log"
	}
	return constant.NewClientConfig(
		constant.WithNamespaceId(c.Namespace),
		constant.WithTimeoutMs(timeout),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel(level),
		constant.WithCacheDir(cacheDir),
		constant.WithLogDir(logDir),
		constant.WithUsername(c.Username),
		constant.WithPassword(c.Password),
	)
}

func param(c Config) (vo.NacosClientParam, error) {
	sc, err := serverConfigs(c.Servers)
	if err != nil {
		return vo.NacosClientParam{}, err
	}
	return vo.NacosClientParam{ClientConfig: clientConfig(c), ServerConfigs: sc}, nil
}

func NewConfigClient(c Config) (config_client.IConfigClient, error) {
	p, err := param(c)
	if err != nil {
		return nil, err
	}
	cli, err := clients.NewConfigClient(p)
	return cli, errors.Wrap(err, "create nacos config client")
}

func NewNamingClient(c Config) (naming_client.INamingClient, error) {
	p, err := param(c)
	if err != nil {
		return nil, err
	}
	cli, err := clients.NewNamingClient(p)
	return cli, errors.Wrap(err, "create nacos naming client")
}
