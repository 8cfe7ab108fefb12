package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"PChat/module/chat/model"
	"PChat/tools/errs"

	"github.com/google/uuid"
)

type memMessage struct {
	msg         model.Message
	parentID    string
	deliveredAt *time.Time // 发送方副本
}

type MemRepo struct {
	mu         sync.RWMutex
	users      map[string]model.UserSummary
	convs      map[string]map[string]struct{}  // conv -> participants
	messages   map[string]*memMessage          // id -> msg
	deliveries map[string]map[string]*Delivery // id -> recipient -> state
	now        func() time.Time
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		users:      make(map[string]model.UserSummary),
		convs:      make(map[string]map[string]struct{}),
		messages:   make(map[string]*memMessage),
		deliveries: make(map[string]map[string]*Delivery),
		now:        time.Now,
	}
}

func (r *MemRepo) UpsertUser(_ context.Context, u model.UserSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *MemRepo) CreateConversation(_ context.Context, conversationID string, participants ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.convs[conversationID]
	if set == nil {
		set = make(map[string]struct{})
		r.convs[conversationID] = set
	}
	for _, p := range participants {
		set[p] = struct{}{}
		if _, ok := r.users[p]; !ok {
			r.users[p] = model.UserSummary{ID: p, Name: p}
		}
	}
	return nil
}

func (r *MemRepo) PersistMessage(_ context.Context, in model.NewMessage) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parts, ok := r.convs[in.ConversationID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", in.ConversationID)
	}
	if _, ok := parts[in.SenderID]; !ok {
		return nil, errs.ErrNotParticipant.WrapMsg("persist", "conversation", in.ConversationID, "user", in.SenderID)
	}
	if in.ParentID != "" {
		p, ok := r.messages[in.ParentID]
		if !ok || p.msg.ConversationID != in.ConversationID {
			return nil, errs.ErrNotFound.WrapMsg("parent message", "id", in.ParentID)
		}
	}

	m := &memMessage{
		msg: model.Message{
			ID:             uuid.NewString(),
			ConversationID: in.ConversationID,
			Content:        in.Content,
			Kind:           in.Kind,
			Sender:         r.userLocked(in.SenderID),
			CreatedAt:      r.now(),
		},
		parentID: in.ParentID,
	}
	r.messages[m.msg.ID] = m

	ds := make(map[string]*Delivery, len(parts))
	for p := range parts {
		if p != in.SenderID {
			ds[p] = &Delivery{}
		}
	}
	r.deliveries[m.msg.ID] = ds
	return r.hydrateLocked(m), nil
}

func (r *MemRepo) LoadMessage(_ context.Context, messageID string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	return r.hydrateLocked(m), nil
}

func (r *MemRepo) ListParticipants(_ context.Context, conversationID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.convs[conversationID]))
	for p := range r.convs[conversationID] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemRepo) ListConversations(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for conv, parts := range r.convs {
		if _, ok := parts[userID]; ok {
			out = append(out, conv)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemRepo) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.convs[conversationID][userID]
	return ok, nil
}

func (r *MemRepo) MarkDelivered(_ context.Context, messageID, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	now := r.now()
	if recipientID == m.msg.Sender.ID {
		if m.deliveredAt == nil {
			m.deliveredAt = &now
		}
		return nil
	}
	d, ok := r.deliveries[messageID][recipientID]
	if !ok {
		return nil
	}
	if d.DeliveredAt == nil {
		d.DeliveredAt = &now
	}
	return nil
}

func (r *MemRepo) MarkRead(_ context.Context, messageID, recipientID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[messageID][recipientID]
	if !ok || d.ReadAt != nil {
		return false, nil
	}
	now := r.now()
	d.ReadAt = &now
	if d.DeliveredAt == nil {
		d.DeliveredAt = &now
	}
	return true, nil
}

func (r *MemRepo) MarkConversationRead(_ context.Context, conversationID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var n int64
	for id, m := range r.messages {
		if m.msg.ConversationID != conversationID {
			continue
		}
		d, ok := r.deliveries[id][userID]
		if !ok || d.ReadAt != nil {
			continue
		}
		t := now
		d.ReadAt = &t
		if d.DeliveredAt == nil {
			d.DeliveredAt = &t
		}
		n++
	}
	return n, nil
}

func (r *MemRepo) UnreadCount(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, ds := range r.deliveries {
		if d, ok := ds[userID]; ok && d.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// DeliveryOf 测试和诊断用
func (r *MemRepo) DeliveryOf(messageID, recipientID string) (Delivery, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.messages[messageID]; ok && m.msg.Sender.ID == recipientID {
		return Delivery{DeliveredAt: m.deliveredAt}, true
	}
	d, ok := r.deliveries[messageID][recipientID]
	if !ok {
		return Delivery{}, false
	}
	return *d, true
}

func (r *MemRepo) Close() {}

func (r *MemRepo) userLocked(id string) model.UserSummary {
	if u, ok := r.users[id]; ok {
		return u
	}
	return model.UserSummary{ID: id}
}

func (r *MemRepo) hydrateLocked(m *memMessage) *model.Message {
	out := m.msg
	if m.parentID != "" {
		if p, ok := r.messages[m.parentID]; ok {
			out.Parent = &model.ParentSummary{
				ID:      p.msg.ID,
				Content: p.msg.Content,
				Sender:  model.UserSummary{ID: p.msg.Sender.ID, Name: p.msg.Sender.Name},
			}
		}
	}
	return &out
}
