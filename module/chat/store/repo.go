package store

import (
	"context"
	"time"

	"PChat/module/chat/model"
)

// Repo 会话/消息/参与者的持久化（生产实现 Postgres；此处另有内存实现 repo_mem.go）
type Repo interface {
	PersistMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
	LoadMessage(ctx context.Context, messageID string) (*model.Message, error)

	ListParticipants(ctx context.Context, conversationID string) ([]string, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	// ListConversations 用户参与的全部会话
	ListConversations(ctx context.Context, userID string) ([]string, error)

	// MarkDelivered 幂等；recipientID 为发送者时更新发送方副本
	MarkDelivered(ctx context.Context, messageID, recipientID string) error
	// MarkRead 返回本次是否真的从未读变为已读
	MarkRead(ctx context.Context, messageID, recipientID string) (bool, error)
	// MarkConversationRead 返回本次标记的条数
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)

	Close()
}

// Seeder 初始化用户和会话（本地开发、测试）
type Seeder interface {
	UpsertUser(ctx context.Context, u model.UserSummary) error
	CreateConversation(ctx context.Context, conversationID string, participants ...string) error
}

// Delivery 单条消息对单个接收者的投递状态
type Delivery struct {
	DeliveredAt *time.Time
	ReadAt      *time.Time
}
