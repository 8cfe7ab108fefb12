package chat

import "context"

// Handler 处理一种入站事件
type Handler interface {
	Event() string
	Handle(ctx context.Context, c *WsConn, data map[string]any) error
}

// Lifecycle 连接建立/断开钩子
type Lifecycle interface {
	OnConnect(ctx context.Context, c *WsConn) error
	// OnDisconnect rooms 为断开前加入的房间，last 表示该用户已无连接
	OnDisconnect(ctx context.Context, c *WsConn, rooms []string, last bool)
}

// Authenticator 握手鉴权，返回 userID
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}
