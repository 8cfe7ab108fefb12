package model

import (
	"time"
)

// MessageKind 消息类型
type MessageKind string

const (
	KindText               MessageKind = "TEXT"
	KindImage              MessageKind = "IMAGE"
	KindSystemNotification MessageKind = "SYSTEM_NOTIFICATION"
	KindItemShare          MessageKind = "ITEM_SHARE"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindSystemNotification, KindItemShare:
		return true
	}
	return false
}

// Priority 投递队列分区
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// PriorityFor 系统通知走高优先级，用户内容走普通
func PriorityFor(kind MessageKind) Priority {
	if kind == KindSystemNotification {
		return PriorityHigh
	}
	return PriorityNormal
}

type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ParentSummary 被回复消息的摘要
type ParentSummary struct {
	ID      string      `json:"id"`
	Content string      `json:"content"`
	Sender  UserSummary `json:"sender"`
}

// Message 持久化后的完整消息，实时投递时原样下发
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	Kind           MessageKind    `json:"messageType"`
	Sender         UserSummary    `json:"sender"`
	Parent         *ParentSummary `json:"parentMessage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewMessage 业务层持久化入参
type NewMessage struct {
	SenderID       string
	ConversationID string
	Content        string
	Kind           MessageKind
	ParentID       string
}

// QueuedMessage 投递队列中的工作单元
type QueuedMessage struct {
	ID             string      `json:"id" bson:"message_id"`
	ConversationID string      `json:"conversationId" bson:"conversation_id"`
	SenderID       string      `json:"senderId" bson:"sender_id"`
	Content        string      `json:"content" bson:"content"`
	Kind           MessageKind `json:"messageType" bson:"message_type"`
	ParentID       string      `json:"parentMessageId,omitempty" bson:"parent_message_id,omitempty"`
	Priority       Priority    `json:"priority" bson:"priority"`
	CreatedAt      time.Time   `json:"createdAt" bson:"created_at"`
	RetryCount     int         `json:"retryCount" bson:"retry_count"` // 已失败次数
}

// Queued 由持久化结果生成队列消息
func (m *Message) Queued() *QueuedMessage {
	q := &QueuedMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.Sender.ID,
		Content:        m.Content,
		Kind:           m.Kind,
		Priority:       PriorityFor(m.Kind),
		CreatedAt:      m.CreatedAt,
	}
	if m.Parent != nil {
		q.ParentID = m.Parent.ID
	}
	return q
}
