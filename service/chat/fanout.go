package chat

import (
	"PChat/logger"
	"PChat/tools/errs"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errSlowConsumer = errors.New("send buffer full")

// offer 非阻塞投递到发送队列；慢连接直接丢帧
func offer(w *WsConn, payload []byte) error {
	select {
	case <-w.done:
		return errs.ErrNotConnected.WrapMsg("connection closed", "snowID", w.SnowID)
	default:
	}
	select {
	case w.SendChan <- payload:
		return nil
	default:
		logger.Warn("[WS] drop frame, slow consumer", zap.String("snowID", w.SnowID), zap.String("user", w.UserID))
		return errSlowConsumer
	}
}

// fanout 返回成功投递的连接数
func fanout(conns []*WsConn, payload []byte) int {
	n := 0
	for _, w := range conns {
		if offer(w, payload) == nil {
			n++
		}
	}
	return n
}

// Send 发给单条连接
func (m *ConnManager) Send(w *WsConn, event string, payload any) error {
	b, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return offer(w, b)
}

// SendToUser 发给该用户所有连接；无连接时返回 ErrNotConnected
func (m *ConnManager) SendToUser(userID, event string, payload any) error {
	conns := m.UserConns(userID)
	if len(conns) == 0 {
		return errs.ErrNotConnected.WrapMsg("", "user", userID)
	}
	b, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	if fanout(conns, b) == 0 {
		return errs.ErrNotConnected.WrapMsg("no writable connection", "user", userID)
	}
	return nil
}

// SendToConversation 发给房间内所有连接；房间为空不算错误
func (m *ConnManager) SendToConversation(conversationID, event string, payload any) error {
	return m.SendToConversationExcept(conversationID, "", event, payload)
}

// SendToConversationExcept 跳过 exceptSnowID 这条连接
func (m *ConnManager) SendToConversationExcept(conversationID, exceptSnowID, event string, payload any) error {
	conns := m.roomConns(conversationID, exceptSnowID)
	if len(conns) == 0 {
		return nil
	}
	b, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	fanout(conns, b)
	return nil
}
