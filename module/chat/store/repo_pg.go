package store

import (
	"context"
	"time"

	"PChat/module/chat/model"
	"PChat/tools/errs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    avatar_url  TEXT
);
CREATE TABLE IF NOT EXISTS conversations (
    id               TEXT PRIMARY KEY,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_message_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS conversation_participants (
    conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    user_id          TEXT NOT NULL,
    last_read_at     TIMESTAMPTZ,
    PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
    id               TEXT PRIMARY KEY,
    conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    sender_id        TEXT NOT NULL,
    content          TEXT NOT NULL,
    kind             TEXT NOT NULL,
    parent_id        TEXT REFERENCES messages(id),
    created_at       TIMESTAMPTZ NOT NULL,
    delivered_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at);
CREATE TABLE IF NOT EXISTS message_deliveries (
    message_id    TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    recipient_id  TEXT NOT NULL,
    delivered_at  TIMESTAMPTZ,
    read_at       TIMESTAMPTZ,
    PRIMARY KEY (message_id, recipient_id)
);
CREATE INDEX IF NOT EXISTS message_deliveries_unread_idx ON message_deliveries (recipient_id) WHERE read_at IS NULL;
`

// PgConfig Postgres 连接
type PgConfig struct {
	URL      string `mapstructure:"url" env:"URL"`
	MaxConns int32  `mapstructure:"maxConns" env:"MAX_CONNS"`
}

type PgRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPgRepo(ctx context.Context, c PgConfig) (*PgRepo, error) {
	cfg, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres url")
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &PgRepo{pool: pool, now: time.Now}, nil
}

// Migrate 建表（幂等）
func (r *PgRepo) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	return errors.Wrap(err, "migrate")
}

func (r *PgRepo) Close() { r.pool.Close() }

func (r *PgRepo) UpsertUser(ctx context.Context, u model.UserSummary) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO users (id, name, avatar_url) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.Name, nullable(u.AvatarURL))
	return errors.Wrap(err, "upsert user")
}

func (r *PgRepo) CreateConversation(ctx context.Context, conversationID string, participants ...string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO conversations (id) VALUES ($1) ON CONFLICT DO NOTHING`, conversationID); err != nil {
		return errors.Wrap(err, "insert conversation")
	}
	for _, p := range participants {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, name) VALUES ($1, $1) ON CONFLICT DO NOTHING`, p); err != nil {
			return errors.Wrap(err, "insert user")
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, conversationID, p); err != nil {
			return errors.Wrap(err, "insert participant")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// PersistMessage 参与者校验、写消息、为其余参与者建投递记录，同一事务
func (r *PgRepo) PersistMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var member bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		in.ConversationID, in.SenderID).Scan(&member); err != nil {
		return nil, errors.Wrap(err, "check participant")
	}
	if !member {
		return nil, errs.ErrNotParticipant.WrapMsg("persist", "conversation", in.ConversationID, "user", in.SenderID)
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Content:        in.Content,
		Kind:           in.Kind,
		CreatedAt:      r.now().UTC(),
	}

	if in.ParentID != "" {
		var p model.ParentSummary
		err := tx.QueryRow(ctx, `
SELECT m.id, m.content, m.sender_id, COALESCE(u.name, '')
FROM messages m LEFT JOIN users u ON u.id = m.sender_id
WHERE m.id = $1 AND m.conversation_id = $2`, in.ParentID, in.ConversationID).
			Scan(&p.ID, &p.Content, &p.Sender.ID, &p.Sender.Name)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound.WrapMsg("parent message", "id", in.ParentID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "load parent")
		}
		msg.Parent = &p
	}

	msg.Sender.ID = in.SenderID
	if err := tx.QueryRow(ctx, `SELECT COALESCE(name, ''), COALESCE(avatar_url, '') FROM users WHERE id = $1`, in.SenderID).
		Scan(&msg.Sender.Name, &msg.Sender.AvatarURL); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "load sender")
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO messages (id, conversation_id, sender_id, content, kind, parent_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, in.SenderID, msg.Content, string(msg.Kind), nullable(in.ParentID), msg.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO message_deliveries (message_id, recipient_id)
SELECT $1, user_id FROM conversation_participants WHERE conversation_id = $2 AND user_id <> $3`,
		msg.ID, msg.ConversationID, in.SenderID); err != nil {
		return nil, errors.Wrap(err, "insert deliveries")
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET last_message_at = $2 WHERE id = $1`, msg.ConversationID, msg.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "touch conversation")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return msg, nil
}

func (r *PgRepo) LoadMessage(ctx context.Context, messageID string) (*model.Message, error) {
	var (
		msg                          model.Message
		kind                         string
		parentID, parentContent      *string
		parentSenderID, parentSender *string
	)
	err := r.pool.QueryRow(ctx, `
SELECT m.id, m.conversation_id, m.content, m.kind, m.created_at,
       m.sender_id, COALESCE(s.name, ''), COALESCE(s.avatar_url, ''),
       p.id, p.content, p.sender_id, ps.name
FROM messages m
LEFT JOIN users s ON s.id = m.sender_id
LEFT JOIN messages p ON p.id = m.parent_id
LEFT JOIN users ps ON ps.id = p.sender_id
WHERE m.id = $1`, messageID).Scan(
		&msg.ID, &msg.ConversationID, &msg.Content, &kind, &msg.CreatedAt,
		&msg.Sender.ID, &msg.Sender.Name, &msg.Sender.AvatarURL,
		&parentID, &parentContent, &parentSenderID, &parentSender,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load message")
	}
	msg.Kind = model.MessageKind(kind)
	if parentID != nil {
		msg.Parent = &model.ParentSummary{
			ID:      *parentID,
			Content: deref(parentContent),
			Sender:  model.UserSummary{ID: deref(parentSenderID), Name: deref(parentSender)},
		}
	}
	return &msg, nil
}

func (r *PgRepo) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "list participants")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, errors.Wrap(err, "scan participants")
}

func (r *PgRepo) ListConversations(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT conversation_id FROM conversation_participants WHERE user_id = $1 ORDER BY conversation_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, errors.Wrap(err, "scan conversations")
}

func (r *PgRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID).Scan(&ok)
	return ok, errors.Wrap(err, "check participant")
}

// MarkDelivered 接收方记录和发送方副本一起提交，只有其一会命中
func (r *PgRepo) MarkDelivered(ctx context.Context, messageID, recipientID string) error {
	now := r.now().UTC()
	b := &pgx.Batch{}
	b.Queue(`
UPDATE message_deliveries SET delivered_at = COALESCE(delivered_at, $3)
WHERE message_id = $1 AND recipient_id = $2`, messageID, recipientID, now)
	b.Queue(`
UPDATE messages SET delivered_at = COALESCE(delivered_at, $3)
WHERE id = $1 AND sender_id = $2`, messageID, recipientID, now)
	return errors.Wrap(r.pool.SendBatch(ctx, b).Close(), "mark delivered")
}

func (r *PgRepo) MarkRead(ctx context.Context, messageID, recipientID string) (bool, error) {
	now := r.now().UTC()
	tag, err := r.pool.Exec(ctx, `
UPDATE message_deliveries SET read_at = $3, delivered_at = COALESCE(delivered_at, $3)
WHERE message_id = $1 AND recipient_id = $2 AND read_at IS NULL`, messageID, recipientID, now)
	if err != nil {
		return false, errors.Wrap(err, "mark read")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepo) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	now := r.now().UTC()
	var n int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE message_deliveries d SET read_at = $3, delivered_at = COALESCE(d.delivered_at, $3)
FROM messages m
WHERE m.id = d.message_id AND m.conversation_id = $1 AND d.recipient_id = $2 AND d.read_at IS NULL`,
			conversationID, userID, now)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		_, err = tx.Exec(ctx, `
UPDATE conversation_participants SET last_read_at = $3 WHERE conversation_id = $1 AND user_id = $2`,
			conversationID, userID, now)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "mark conversation read")
	}
	return n, nil
}

func (r *PgRepo) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
SELECT count(*) FROM message_deliveries WHERE recipient_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	return n, errors.Wrap(err, "unread count")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
