package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"PChat/logger"
	"PChat/middleware/security"
	"PChat/module/chat/model"
	"PChat/tools/errs"
	"PChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const hookTimeout = 5 * time.Second

// HandleWS 握手前鉴权，失败直接 401，不升级
func (s *Server) HandleWS(c *gin.Context) {
	token := security.ExtractToken(c.Request, s.tokenOpt)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
		return
	}
	userID, err := s.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		logger.Info("[WS] handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": errs.Message(err)})
		return
	}
	device := c.Query("device")
	if device == "" {
		device = c.GetHeader("User-Agent")
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("[WS] upgrade failed", zap.Error(err))
		return
	}
	s.serveConn(ws, userID, device)
}

func (s *Server) serveConn(ws *websocket.Conn, userID, device string) {
	rec, err := s.mgr.Register(userID, s.ids.NextString(), device, ws)
	if err != nil {
		logger.Warn("[WS] register failed", zap.String("user", userID), zap.Error(err))
		closeQuiet(ws)
		return
	}
	s.metrics.ConnOpened()
	logger.Info("[WS] connected", zap.String("snowID", rec.SnowID), zap.String("user", userID), zap.String("remote", rec.Remote))

	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.mgr.conf.HeartbeatTimeout))
	ws.SetPongHandler(func(string) error {
		s.mgr.Touch(rec.SnowID)
		return ws.SetReadDeadline(time.Now().Add(s.mgr.conf.HeartbeatTimeout))
	})

	done := make(chan struct{})
	safe.Go("ws-write-"+rec.SnowID, func() { s.writeLoop(rec, done) })

	if s.life != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		if err := s.life.OnConnect(ctx, rec); err != nil {
			logger.Warn("[WS] connect hook failed", zap.String("snowID", rec.SnowID), zap.Error(err))
		}
		cancel()
	}

	s.readLoop(rec)

	// ---- 退出阶段：注销拓扑、下线、等待写协程收尾 ----
	_, rooms, last := s.mgr.Unregister(rec.SnowID)
	if s.life != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		s.life.OnDisconnect(ctx, rec, rooms, last)
		cancel()
	}
	s.metrics.ConnClosed()
	<-done
	logger.Info("[WS] closed", zap.String("snowID", rec.SnowID), zap.String("user", rec.UserID), zap.Bool("lastConn", last))
}

// readLoop 只读不写；出错即退出
func (s *Server) readLoop(rec *WsConn) {
	ws := rec.Conn
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debug("[WS] peer closed", zap.String("snowID", rec.SnowID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("[WS] read timeout", zap.String("snowID", rec.SnowID))
			} else {
				logger.Debug("[WS] read err", zap.String("snowID", rec.SnowID), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.mgr.conf.HeartbeatTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, err := ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Info("[WS] bad frame", zap.String("snowID", rec.SnowID), zap.ByteString("sample", sample), zap.Error(err))
			_ = s.mgr.Send(rec, model.EventError, ErrorFrame(err))
			continue
		}
		// 处理期间连接断开时，处理本身仍跑完
		if err := s.disp.Dispatch(context.Background(), rec, f); err != nil {
			logger.Debug("[WS] event failed", zap.String("event", f.Event), zap.String("snowID", rec.SnowID), zap.Error(err))
			_ = s.mgr.Send(rec, model.EventError, ErrorFrame(err))
		}
	}
}

// writeLoop 统一由写协程发业务帧和 ping，退出时发 Close 并关闭底层连接
func (s *Server) writeLoop(rec *WsConn, done chan struct{}) {
	ws := rec.Conn
	ticker := time.NewTicker(s.conf.PingInterval)
	first := time.NewTimer(s.conf.FirstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
		close(done)
	}()

	ping := func() bool {
		if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.conf.WriteWait)); err != nil {
			logger.Debug("[WS] ping err", zap.String("snowID", rec.SnowID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-rec.done:
			return
		case payload := <-rec.SendChan:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("[WS] write err", zap.String("snowID", rec.SnowID), zap.Error(err))
				rec.shutdown()
				_ = ws.Close() // 让读循环退出
				return
			}
		case <-first.C:
			if !ping() {
				return
			}
		case <-ticker.C:
			if !ping() {
				return
			}
		}
	}
}
