package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"PChat/module/chat/model"
)

// Presence 用户在线记录；存在即在线
type Presence struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"` // 代表连接
	Device       string    `json:"device"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Partition 队列分区
type Partition string

const (
	PartitionHigh   Partition = "high"
	PartitionNormal Partition = "normal"
	PartitionDead   Partition = "dead_letter"
)

func PartitionFor(p model.Priority) Partition {
	if p == model.PriorityHigh {
		return PartitionHigh
	}
	return PartitionNormal
}

// Store 临时状态存储：在线、输入中、未读、队列、去重、限流、成员缓存。
// 所有计数和去重都是单条原子操作，多进程下同样成立。
type Store interface {
	SetOnline(ctx context.Context, userID, connID, device string) error
	// SetOffline 移除一条连接；返回 true 表示用户已无任何连接
	SetOffline(ctx context.Context, userID, connID string) (bool, error)
	// OnlineStatus 离线时返回 nil
	OnlineStatus(ctx context.Context, userID string) (*Presence, error)

	AddTyping(ctx context.Context, conversationID, userID string) error
	RemoveTyping(ctx context.Context, conversationID, userID string) error
	ListTyping(ctx context.Context, conversationID string) ([]string, error)

	// IncrementUnread 只在计数已缓存时 +1；found=false 表示未命中，不创建计数
	IncrementUnread(ctx context.Context, userID string) (n int64, found bool, err error)
	// DecrementUnread 结果不低于 0；未命中同样不创建
	DecrementUnread(ctx context.Context, userID string, n int64) (int64, bool, error)
	// GetUnread found=false 表示缓存未命中
	GetUnread(ctx context.Context, userID string) (n int64, found bool, err error)
	SetUnread(ctx context.Context, userID string, n int64) error
	ResetUnread(ctx context.Context, userID string) error

	// Enqueue 追加到分区尾部；Dequeue 从头部取出，空时返回 nil
	Enqueue(ctx context.Context, p Partition, msg *model.QueuedMessage) error
	Dequeue(ctx context.Context, p Partition) (*model.QueuedMessage, error)
	QueueLen(ctx context.Context, p Partition) (int64, error)
	// PeekDeadLetters 只读，不出队
	PeekDeadLetters(ctx context.Context, limit int64) ([]*model.QueuedMessage, error)

	// ClaimDedup 原子的 set-if-absent；false 表示窗口内重复
	ClaimDedup(ctx context.Context, hash string) (bool, error)
	IsDuplicate(ctx context.Context, hash string) (bool, error)
	MarkSent(ctx context.Context, hash, messageID string) error
	ReleaseDedup(ctx context.Context, hash string) error

	// CheckRateLimit 固定窗口计数，窗口过期时间只在首次计数时设置
	CheckRateLimit(ctx context.Context, userID string, limit int64, window time.Duration) (bool, error)

	AddMembers(ctx context.Context, conversationID string, userIDs ...string) error
	RemoveMember(ctx context.Context, conversationID, userID string) error
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// Options TTL 配置
type Options struct {
	KeyPrefix     string           `mapstructure:"keyPrefix" env:"KEY_PREFIX"`
	PresenceTTL   time.Duration    `mapstructure:"presenceTTL" env:"PRESENCE_TTL"`
	TypingTTL     time.Duration    `mapstructure:"typingTTL" env:"TYPING_TTL"`
	DedupTTL      time.Duration    `mapstructure:"dedupTTL" env:"DEDUP_TTL"`
	MembershipTTL time.Duration    `mapstructure:"membershipTTL" env:"MEMBERSHIP_TTL"`
	Clock         func() time.Time `mapstructure:"-" env:"-"` // 可注入时钟（单测用）；nil => time.Now
}

func (o *Options) norm() {
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 300 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 10 * time.Second
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 5 * time.Minute
	}
	if o.MembershipTTL <= 0 {
		o.MembershipTTL = time.Hour
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// DedupHash 去重键；时间窗口由标记的 TTL 决定
func DedupHash(senderID, conversationID, content string) string {
	sum := sha256.Sum256([]byte(senderID + "\x00" + conversationID + "\x00" + content))
	return hex.EncodeToString(sum[:])
}
