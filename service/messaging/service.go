package messaging

import (
	"context"
	"strings"
	"time"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/module/chat/store"
	"PChat/service/observability"
	"PChat/service/storage"
	"PChat/tools/errs"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Enqueuer 投递队列入口
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *model.QueuedMessage) error
}

type Config struct {
	RateLimit  int64         `mapstructure:"rateLimit" env:"RATE_LIMIT"`
	RateWindow time.Duration `mapstructure:"rateWindow" env:"RATE_WINDOW"`
}

func (c *Config) norm() {
	if c.RateLimit <= 0 {
		c.RateLimit = 60
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 60 * time.Second
	}
}

// Service 业务层：消息提交、已读、未读数
type Service struct {
	cfg      Config
	repo     store.Repo
	st       storage.Store
	q        Enqueuer
	resolver *Resolver
	unread   *Unread
	metrics  *observability.Metrics
}

func NewService(cfg Config, repo store.Repo, st storage.Store, q Enqueuer, metrics *observability.Metrics) *Service {
	cfg.norm()
	return &Service{
		cfg:      cfg,
		repo:     repo,
		st:       st,
		q:        q,
		resolver: NewResolver(st, repo),
		unread:   NewUnread(st, repo),
		metrics:  metrics,
	}
}

func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) Unread() *Unread { return s.unread }

// ListConversations 用户参与的会话
func (s *Service) ListConversations(ctx context.Context, userID string) ([]string, error) {
	convs, err := s.repo.ListConversations(ctx, userID)
	return convs, errors.Wrap(err, "list conversations")
}

func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, errors.Wrap(err, "is participant")
	}
	return ok, nil
}

// SendMessage 限流 -> 权限 -> 去重 -> 持久化 -> 未读+1 -> 入队
func (s *Service) SendMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	if in.Kind == "" {
		in.Kind = model.KindText
	}
	if !in.Kind.Valid() {
		return nil, errs.ErrInvalidPayload.WrapMsg("messageType", "value", string(in.Kind))
	}
	if strings.TrimSpace(in.Content) == "" || in.ConversationID == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("content and conversationId are required")
	}

	allowed, err := s.st.CheckRateLimit(ctx, in.SenderID, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		return nil, errors.Wrap(err, "rate limit")
	}
	if !allowed {
		s.metrics.Rejected("rate_limited")
		return nil, errs.ErrRateLimited.WrapMsg("", "user", in.SenderID)
	}

	ok, err := s.IsParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.Rejected("not_participant")
		return nil, errs.ErrNotParticipant.WrapMsg("", "conversation", in.ConversationID, "user", in.SenderID)
	}

	hash := storage.DedupHash(in.SenderID, in.ConversationID, in.Content)
	claimed, err := s.st.ClaimDedup(ctx, hash)
	if err != nil {
		return nil, errors.Wrap(err, "dedup")
	}
	if !claimed {
		s.metrics.Rejected("duplicate")
		return nil, errs.ErrDuplicate.WrapMsg("", "conversation", in.ConversationID, "user", in.SenderID)
	}

	msg, err := s.repo.PersistMessage(ctx, in)
	if err != nil {
		// 未落库，放开去重标记允许重试
		if rerr := s.st.ReleaseDedup(ctx, hash); rerr != nil {
			logger.Warn("[messaging] release dedup failed", zap.Error(rerr))
		}
		return nil, errors.Wrap(err, "persist message")
	}
	if err := s.st.MarkSent(ctx, hash, msg.ID); err != nil {
		logger.Warn("[messaging] mark sent failed", zap.String("messageId", msg.ID), zap.Error(err))
	}

	s.bumpUnread(ctx, msg)

	if err := s.q.Enqueue(ctx, msg.Queued()); err != nil {
		return nil, errors.Wrapf(err, "enqueue %s", msg.ID)
	}
	s.metrics.Sent()
	logger.Debug("[messaging] message queued",
		zap.String("messageId", msg.ID),
		zap.String("conversationId", msg.ConversationID),
		zap.String("kind", string(msg.Kind)))
	return msg, nil
}

// bumpUnread 失败只记日志，读取时会回源修正
func (s *Service) bumpUnread(ctx context.Context, msg *model.Message) {
	recipients, err := s.resolver.Recipients(ctx, msg.ConversationID, msg.Sender.ID)
	if err != nil {
		logger.Warn("[messaging] resolve recipients failed", zap.String("messageId", msg.ID), zap.Error(err))
		return
	}
	for _, u := range recipients {
		s.unread.Incr(ctx, u)
	}
}

// MarkConversationRead 返回本次标记条数和最新未读数
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, int64, error) {
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, errs.ErrNotParticipant.WrapMsg("", "conversation", conversationID, "user", userID)
	}
	marked, err := s.repo.MarkConversationRead(ctx, conversationID, userID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "mark conversation read")
	}
	if marked > 0 {
		s.unread.Decr(ctx, userID, marked)
	}
	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return marked, 0, err
	}
	return marked, unread, nil
}

// MarkMessageRead 单条已读
func (s *Service) MarkMessageRead(ctx context.Context, messageID, userID string) (bool, error) {
	changed, err := s.repo.MarkRead(ctx, messageID, userID)
	if err != nil {
		return false, errors.Wrap(err, "mark read")
	}
	if changed {
		s.unread.Decr(ctx, userID, 1)
	}
	return changed, nil
}

// UnreadCount 见 Unread.Count
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.unread.Count(ctx, userID)
}
