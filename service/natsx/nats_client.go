package natsx

import (
	"strings"
	"sync"
	"time"

	"PChat/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mode 工作模式
type Mode int

const (
	Core      Mode = iota // 无持久化
	JetStream             // JS 持久化，支持 Nats-Msg-Id 去重
)

// Route 路由配置（按 Biz 维度注册）
type Route struct {
	Biz     string
	Subject string
	Mode    Mode
	Stream  string        // JS 流名；为空时不自动建流
	DupWin  time.Duration // JS 去重窗口
	MaxAge  time.Duration // JS 消息保留时长
}

// Config 客户端配置
type Config struct {
	Servers         []string      `mapstructure:"servers" env:"SERVERS" envSeparator:","`
	Name            string        `mapstructure:"name" env:"NAME"`
	User            string        `mapstructure:"user" env:"USER"`
	Password        string        `mapstructure:"password" env:"PASSWORD"`
	ReconnectWait   time.Duration `mapstructure:"reconnectWait" env:"RECONNECT_WAIT"`
	Timeout         time.Duration `mapstructure:"timeout" env:"TIMEOUT"`
	PublishAsyncMax int           `mapstructure:"publishAsyncMax" env:"PUBLISH_ASYNC_MAX"`
}

func (c *Config) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax == 0 {
		c.PublishAsyncMax = 4096
	}
}

// Client 统一客户端
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]Route // biz -> route
}

// NewClient 连接 NATS
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	cfg.norm()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[natsx] disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[natsx] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return &Client{
		cfg:    cfg,
		nc:     nc,
		routes: make(map[string]Route),
	}, nil
}

// Close 优雅关闭，等待已发出的消息刷完
func (c *Client) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// ensureJS 初始化 JetStream 上下文
func (c *Client) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

// RegisterRoute 注册 Biz 路由；JetStream 模式下按需建流
func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	if r.Mode == JetStream {
		c.mu.Lock()
		err := c.ensureJS()
		c.mu.Unlock()
		if err != nil {
			return errors.Wrap(err, "init jetstream")
		}
		if r.Stream != "" {
			if err := c.ensureStream(r); err != nil {
				return err
			}
		}
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureStream(r Route) error {
	if r.DupWin == 0 {
		r.DupWin = 2 * time.Minute
	}
	_, err := c.js.StreamInfo(r.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return errors.Wrapf(err, "stream info %s", r.Stream)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:       r.Stream,
		Subjects:   []string{r.Subject},
		Duplicates: r.DupWin,
		MaxAge:     r.MaxAge,
	})
	if err != nil {
		return errors.Wrapf(err, "add stream %s", r.Stream)
	}
	logger.Info("[natsx] stream created", zap.String("stream", r.Stream), zap.String("subject", r.Subject))
	return nil
}

// route 查询已注册路由
func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
