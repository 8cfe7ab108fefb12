package chat

import (
	"context"
	"net/http"
	"time"

	"PChat/middleware/security"
	"PChat/service/observability"
	"PChat/tools/ids"
	"PChat/tools/safe"

	"github.com/gorilla/websocket"
)

// ---- 连接参数 ----
type ServerConf struct {
	PingInterval   time.Duration `mapstructure:"pingInterval" env:"PING_INTERVAL"`
	WriteWait      time.Duration `mapstructure:"writeWait" env:"WRITE_WAIT"`
	FirstPingDelay time.Duration `mapstructure:"firstPingDelay" env:"FIRST_PING_DELAY"` // 首个 ping 延后，避免刚连上即写超时
	ReadLimit      int64         `mapstructure:"readLimit" env:"READ_LIMIT"`
	NodeID         int64         `mapstructure:"nodeId" env:"NODE_ID"`
	Manager        ManagerConf   `mapstructure:"manager" envPrefix:"MANAGER_"`
}

func (c *ServerConf) norm() {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.FirstPingDelay <= 0 {
		c.FirstPingDelay = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
}

// Server 实时网关：握手鉴权、连接拓扑、事件分发、对外广播
type Server struct {
	conf     ServerConf
	mgr      *ConnManager
	disp     *Dispatcher
	auth     Authenticator
	life     Lifecycle
	ids      *ids.Generator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	tokenOpt *security.Options
}

func NewServer(conf ServerConf, auth Authenticator, metrics *observability.Metrics) *Server {
	safe.MustNotNil(auth, "gateway authenticator")
	conf.norm()
	return &Server{
		conf:    conf,
		mgr:     NewConnManager(conf.Manager),
		disp:    NewDispatcher(metrics),
		auth:    auth,
		ids:     ids.NewGenerator(conf.NodeID),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tokenOpt: security.DefaultOptions(),
	}
}

func (s *Server) ConnMgr() *ConnManager { return s.mgr }
func (s *Server) Disp() *Dispatcher     { return s.disp }

// SetLifecycle 必须在 Start 前设置
func (s *Server) SetLifecycle(l Lifecycle) { s.life = l }

func (s *Server) Start() { s.mgr.Start() }

func (s *Server) Close() { s.mgr.Close() }

// ---- 对外广播 API ----

func (s *Server) SendToUser(userID, event string, payload any) error {
	return s.mgr.SendToUser(userID, event, payload)
}

func (s *Server) SendToConversation(conversationID, event string, payload any) error {
	return s.mgr.SendToConversation(conversationID, event, payload)
}

// Health 网关状态
type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	OnlineUsers int    `json:"onlineUsers"`
}

func (s *Server) Health(context.Context) Health {
	return Health{Status: "ok", Connections: s.mgr.ConnCount(), OnlineUsers: s.mgr.OnlineUsers()}
}
