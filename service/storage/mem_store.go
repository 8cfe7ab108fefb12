package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"PChat/module/chat/model"
)

type expiring struct {
	value string
	count int64
	expAt time.Time
}

// MemStore 单进程实现，语义与 RedisStore 一致（本地开发、测试）
type MemStore struct {
	mu   sync.Mutex
	opts Options

	conns    map[string]map[string]time.Time // user -> conn -> expireAt
	presence map[string]*memPresence
	typing   map[string]map[string]time.Time // conv -> user -> expireAt
	unread   map[string]int64
	queues   map[Partition][]model.QueuedMessage
	dedup    map[string]*expiring
	rate     map[string]*expiring
	members  map[string]map[string]struct{}
	membExp  map[string]time.Time
}

type memPresence struct {
	Presence
	expAt time.Time
}

var _ Store = (*MemStore)(nil)

func NewMemStore(opts Options) *MemStore {
	opts.norm()
	return &MemStore{
		opts:     opts,
		conns:    make(map[string]map[string]time.Time),
		presence: make(map[string]*memPresence),
		typing:   make(map[string]map[string]time.Time),
		unread:   make(map[string]int64),
		queues:   make(map[Partition][]model.QueuedMessage),
		dedup:    make(map[string]*expiring),
		rate:     make(map[string]*expiring),
		members:  make(map[string]map[string]struct{}),
		membExp:  make(map[string]time.Time),
	}
}

// ===== 在线状态 =====

func (s *MemStore) SetOnline(_ context.Context, userID, connID, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock()
	cs := s.conns[userID]
	if cs == nil {
		cs = make(map[string]time.Time)
		s.conns[userID] = cs
	}
	cs[connID] = now.Add(s.opts.PresenceTTL)
	sweepTimes(cs, now)
	s.presence[userID] = &memPresence{
		Presence: Presence{UserID: userID, ConnectionID: connID, Device: device, LastSeen: time.UnixMilli(now.UnixMilli())},
		expAt:    now.Add(s.opts.PresenceTTL),
	}
	return nil
}

func (s *MemStore) SetOffline(_ context.Context, userID, connID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock()
	cs := s.conns[userID]
	delete(cs, connID)
	sweepTimes(cs, now)
	if len(cs) == 0 {
		delete(s.conns, userID)
		delete(s.presence, userID)
		return true, nil
	}
	if p := s.presence[userID]; p != nil && p.ConnectionID == connID {
		var best string
		var bestExp time.Time
		for c, exp := range cs {
			if best == "" || exp.After(bestExp) {
				best, bestExp = c, exp
			}
		}
		p.ConnectionID = best
	}
	return false, nil
}

func (s *MemStore) OnlineStatus(_ context.Context, userID string) (*Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock()
	cs := s.conns[userID]
	sweepTimes(cs, now)
	if len(cs) == 0 {
		delete(s.conns, userID)
		delete(s.presence, userID)
		return nil, nil
	}
	p := s.presence[userID]
	if p == nil || !now.Before(p.expAt) {
		return nil, nil
	}
	out := p.Presence
	return &out, nil
}

// ===== 输入中 =====

func (s *MemStore) AddTyping(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.typing[conversationID]
	if ts == nil {
		ts = make(map[string]time.Time)
		s.typing[conversationID] = ts
	}
	ts[userID] = s.opts.Clock().Add(s.opts.TypingTTL)
	return nil
}

func (s *MemStore) RemoveTyping(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typing[conversationID], userID)
	return nil
}

func (s *MemStore) ListTyping(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.typing[conversationID]
	sweepTimes(ts, s.opts.Clock())
	out := make([]string, 0, len(ts))
	for u := range ts {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// ===== 未读 =====

func (s *MemStore) IncrementUnread(_ context.Context, userID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unread[userID]; !ok {
		return 0, false, nil
	}
	s.unread[userID]++
	return s.unread[userID], true, nil
}

func (s *MemStore) DecrementUnread(_ context.Context, userID string, n int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.unread[userID]
	if !ok {
		return 0, false, nil
	}
	if n <= 0 {
		return cur, true, nil
	}
	v := cur - n
	if v < 0 {
		v = 0
	}
	s.unread[userID] = v
	return v, true, nil
}

func (s *MemStore) GetUnread(_ context.Context, userID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.unread[userID]
	return n, ok, nil
}

func (s *MemStore) SetUnread(_ context.Context, userID string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.unread[userID] = n
	return nil
}

func (s *MemStore) ResetUnread(ctx context.Context, userID string) error {
	return s.SetUnread(ctx, userID, 0)
}

// ===== 队列 =====

func (s *MemStore) Enqueue(_ context.Context, p Partition, msg *model.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[p] = append(s.queues[p], *msg)
	return nil
}

func (s *MemStore) Dequeue(_ context.Context, p Partition) (*model.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[p]
	if len(q) == 0 {
		return nil, nil
	}
	msg := q[0]
	s.queues[p] = q[1:]
	return &msg, nil
}

func (s *MemStore) QueueLen(_ context.Context, p Partition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queues[p])), nil
}

func (s *MemStore) PeekDeadLetters(_ context.Context, limit int64) ([]*model.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	q := s.queues[PartitionDead]
	if int64(len(q)) > limit {
		q = q[:limit]
	}
	out := make([]*model.QueuedMessage, 0, len(q))
	for i := range q {
		m := q[i]
		out = append(out, &m)
	}
	return out, nil
}

// ===== 去重 / 限流 =====

func (s *MemStore) ClaimDedup(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock()
	if e, ok := s.dedup[hash]; ok && now.Before(e.expAt) {
		return false, nil
	}
	s.dedup[hash] = &expiring{value: dedupPending, expAt: now.Add(s.opts.DedupTTL)}
	return true, nil
}

func (s *MemStore) IsDuplicate(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dedup[hash]
	return ok && s.opts.Clock().Before(e.expAt), nil
}

func (s *MemStore) MarkSent(_ context.Context, hash, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[hash] = &expiring{value: messageID, expAt: s.opts.Clock().Add(s.opts.DedupTTL)}
	return nil
}

func (s *MemStore) ReleaseDedup(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedup, hash)
	return nil
}

func (s *MemStore) CheckRateLimit(_ context.Context, userID string, limit int64, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Clock()
	e, ok := s.rate[userID]
	if !ok || !now.Before(e.expAt) {
		e = &expiring{expAt: now.Add(window)}
		s.rate[userID] = e
	}
	e.count++
	return e.count <= limit, nil
}

// ===== 会话成员缓存 =====

func (s *MemStore) AddMembers(_ context.Context, conversationID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireMembersLocked(conversationID)
	set := s.members[conversationID]
	if set == nil {
		set = make(map[string]struct{})
		s.members[conversationID] = set
	}
	for _, u := range userIDs {
		set[u] = struct{}{}
	}
	s.membExp[conversationID] = s.opts.Clock().Add(s.opts.MembershipTTL)
	return nil
}

func (s *MemStore) RemoveMember(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[conversationID], userID)
	return nil
}

func (s *MemStore) Members(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireMembersLocked(conversationID)
	out := make([]string, 0, len(s.members[conversationID]))
	for u := range s.members[conversationID] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) expireMembersLocked(conversationID string) {
	if exp, ok := s.membExp[conversationID]; ok && !s.opts.Clock().Before(exp) {
		delete(s.members, conversationID)
		delete(s.membExp, conversationID)
	}
}

// sweepTimes 删除 expireAt <= now 的条目
func sweepTimes(m map[string]time.Time, now time.Time) {
	for k, exp := range m {
		if !now.Before(exp) {
			delete(m, k)
		}
	}
}
