package api

import (
	"context"
	"net/http"

	"PChat/middleware"
	"PChat/module/chat/model"
	"PChat/service/chat"
	"PChat/service/queue"
	"PChat/tools/safe"

	"github.com/gin-gonic/gin"
)

type Gateway interface {
	SendToUser(userID, event string, payload any) error
	SendToConversation(conversationID, event string, payload any) error
	Health(ctx context.Context) chat.Health
}

type QueueStatus interface {
	IsRunning() bool
	Stats(ctx context.Context) (queue.Stats, error)
}

type Messaging interface {
	SendMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type Deps struct {
	Gateway Gateway
	Queue   QueueStatus
	Svc     Messaging
	Auth    gin.HandlerFunc // bearer 校验
	Metrics http.Handler    // 可选，/metrics
}

type API struct {
	Deps
}

// Mount 注册 /healthz、/metrics 与 /api/*
func Mount(r gin.IRouter, d Deps) *API {
	safe.MustNotNil(d.Gateway, "api gateway")
	safe.MustNotNil(d.Queue, "api queue")
	safe.MustNotNil(d.Svc, "api messaging")
	a := &API{Deps: d}

	r.GET("/healthz", a.Healthz)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	auth := middleware.RouteOpt{IsAuth: true, Auth: d.Auth}
	g := r.Group("/api")
	middleware.POST(g, "/users/:id/events", a.PushToUser, auth)
	middleware.POST(g, "/conversations/:id/events", a.PushToConversation, auth)
	middleware.POST(g, "/conversations/:id/messages", a.SendMessage, auth)
	middleware.POST(g, "/conversations/:id/read", a.MarkRead, auth)
	middleware.GET(g, "/unread", a.Unread, auth)
	return a
}
