package chat

import (
	"sort"
	"sync"
	"time"

	"PChat/logger"
	"PChat/tools/errs"
	"PChat/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	HeartbeatTimeout time.Duration    `mapstructure:"heartbeatTimeout" env:"HEARTBEAT_TIMEOUT"` // 超过该时长无 pong/heartbeat 即断开
	SweepEvery       time.Duration    `mapstructure:"sweepEvery" env:"SWEEP_EVERY"`             // 清理周期
	MaxPerUser       int              `mapstructure:"maxPerUser" env:"MAX_PER_USER"`            // 每用户最大连接数（<=0 不限制），超限淘汰最老
	SendBuffer       int              `mapstructure:"sendBuffer" env:"SEND_BUFFER"`             // 每连接发送队列长度
	Clock            func() time.Time `mapstructure:"-" env:"-"`                                // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// ===== 数据结构 =====

type WsConn struct {
	SnowID string
	UserID string
	Device string
	Remote string

	Conn      *websocket.Conn
	CreatedAt time.Time
	SendChan  chan []byte // 每连接独立发送队列，由写协程消费

	// 以下字段受 ConnManager.mu 保护
	heartbeat time.Time
	rooms     map[string]struct{}

	doneOnce sync.Once
	done     chan struct{}
}

func newWsConn(snowID, user, device string, conn *websocket.Conn, buf int, now time.Time) *WsConn {
	c := &WsConn{
		SnowID:    snowID,
		UserID:    user,
		Device:    device,
		Conn:      conn,
		CreatedAt: now,
		SendChan:  make(chan []byte, buf),
		heartbeat: now,
		rooms:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}
	if conn != nil && conn.RemoteAddr() != nil {
		c.Remote = conn.RemoteAddr().String()
	}
	return c
}

// Done 连接关闭信号
func (c *WsConn) Done() <-chan struct{} { return c.done }

// shutdown 通知写协程退出；SendChan 不关闭，避免并发写 panic
func (c *WsConn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// ConnManager 连接拓扑：snowID -> 连接、user -> 多端、room -> 连接
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn
	byUser map[string]map[string]*WsConn
	rooms  map[string]map[string]*WsConn // conversationId -> (snowID -> conn)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		bySnow: make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		rooms:  make(map[string]map[string]*WsConn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
}

// Start 启动过期清理
func (m *ConnManager) Start() {
	safe.Go("ws-sweeper", m.sweeper)
}

// Close 关闭所有连接；各连接的读循环会走正常断开流程
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.RLock()
	all := make([]*WsConn, 0, len(m.bySnow))
	for _, w := range m.bySnow {
		all = append(all, w)
	}
	m.mu.RUnlock()
	for _, w := range all {
		w.shutdown()
		closeQuiet(w.Conn)
	}
}

// ===== 注册 / 注销 =====

// Register 登记已鉴权连接；超过 MaxPerUser 时淘汰最老的一条
func (m *ConnManager) Register(user, snowID, device string, conn *websocket.Conn) (*WsConn, error) {
	if user == "" || snowID == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("register", "user", user, "snowID", snowID)
	}
	now := m.conf.Clock()
	w := newWsConn(snowID, user, device, conn, m.conf.SendBuffer, now)

	var evicted *WsConn
	m.mu.Lock()
	if _, exists := m.bySnow[snowID]; exists {
		m.mu.Unlock()
		return nil, errs.ErrDuplicate.WrapMsg("snowID exists", "snowID", snowID)
	}
	if m.conf.MaxPerUser > 0 {
		evicted = m.oldestOverLimitLocked(user)
	}
	m.bySnow[snowID] = w
	if m.byUser[user] == nil {
		m.byUser[user] = make(map[string]*WsConn)
	}
	m.byUser[user][snowID] = w
	m.mu.Unlock()

	if evicted != nil {
		// 挤下线：只关 socket，注销由它自己的读循环完成
		logger.Info("[WS] evict oldest connection", zap.String("user", user), zap.String("snowID", evicted.SnowID))
		evicted.shutdown()
		closeQuiet(evicted.Conn)
	}
	return w, nil
}

// 需要在持锁状态下调用
func (m *ConnManager) oldestOverLimitLocked(user string) *WsConn {
	mm := m.byUser[user]
	if len(mm) < m.conf.MaxPerUser {
		return nil
	}
	var oldest *WsConn
	for _, w := range mm {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	return oldest
}

// Unregister 从所有索引移除；返回移除前加入的房间，以及是否为该用户最后一条连接
func (m *ConnManager) Unregister(snowID string) (w *WsConn, rooms []string, last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.bySnow[snowID]
	if !ok {
		return nil, nil, false
	}
	delete(m.bySnow, snowID)

	for room := range w.rooms {
		rooms = append(rooms, room)
		if rm := m.rooms[room]; rm != nil {
			delete(rm, snowID)
			if len(rm) == 0 {
				delete(m.rooms, room)
			}
		}
	}
	w.rooms = map[string]struct{}{}
	sort.Strings(rooms)

	if mm := m.byUser[w.UserID]; mm != nil {
		delete(mm, snowID)
		if len(mm) == 0 {
			delete(m.byUser, w.UserID)
			last = true
		}
	}
	w.shutdown()
	return w, rooms, last
}

// Touch 刷新心跳
func (m *ConnManager) Touch(snowID string) {
	now := m.conf.Clock()
	m.mu.Lock()
	if w, ok := m.bySnow[snowID]; ok {
		w.heartbeat = now
	}
	m.mu.Unlock()
}

// ===== 房间 =====

func (m *ConnManager) Join(snowID, conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bySnow[snowID]
	if !ok {
		return false
	}
	w.rooms[conversationID] = struct{}{}
	rm := m.rooms[conversationID]
	if rm == nil {
		rm = make(map[string]*WsConn)
		m.rooms[conversationID] = rm
	}
	rm[snowID] = w
	return true
}

// Leave 返回之前是否在房间内
func (m *ConnManager) Leave(snowID, conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bySnow[snowID]
	if !ok {
		return false
	}
	if _, in := w.rooms[conversationID]; !in {
		return false
	}
	delete(w.rooms, conversationID)
	if rm := m.rooms[conversationID]; rm != nil {
		delete(rm, snowID)
		if len(rm) == 0 {
			delete(m.rooms, conversationID)
		}
	}
	return true
}

func (m *ConnManager) InRoom(snowID, conversationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[snowID]
	if !ok {
		return false
	}
	_, in := w.rooms[conversationID]
	return in
}

func (m *ConnManager) Rooms(snowID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[snowID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(w.rooms))
	for r := range w.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ===== 查询 =====

func (m *ConnManager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

func (m *ConnManager) OnlineUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser)
}

func (m *ConnManager) UserConns(user string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WsConn, 0, len(m.byUser[user]))
	for _, w := range m.byUser[user] {
		out = append(out, w)
	}
	return out
}

func (m *ConnManager) roomConns(conversationID, except string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm := m.rooms[conversationID]
	out := make([]*WsConn, 0, len(rm))
	for sid, w := range rm {
		if sid != except {
			out = append(out, w)
		}
	}
	return out
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce 关闭心跳超时的连接，返回被关闭的数量；索引由读循环退出时注销
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn
	m.mu.RLock()
	for _, w := range m.bySnow {
		if now.Sub(w.heartbeat) > m.conf.HeartbeatTimeout {
			expired = append(expired, w)
		}
	}
	m.mu.RUnlock()

	// 解锁后关闭 socket
	for _, w := range expired {
		logger.Info("[WS] heartbeat timeout", zap.String("snowID", w.SnowID), zap.String("user", w.UserID))
		w.shutdown()
		closeQuiet(w.Conn)
	}
	return len(expired)
}

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
