package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	midsec "PChat/middleware/security"
	"PChat/module/chat/model"
	"PChat/service/chat"
	"PChat/service/queue"
	"PChat/tools/errs"
	"PChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	target, event string
	payload       any
}

type fakeGateway struct {
	online map[string]bool
	toUser []sent
	toConv []sent
}

func (g *fakeGateway) SendToUser(userID, event string, payload any) error {
	if !g.online[userID] {
		return errs.ErrNotConnected.WrapMsg("", "user", userID)
	}
	g.toUser = append(g.toUser, sent{userID, event, payload})
	return nil
}

func (g *fakeGateway) SendToConversation(id, event string, payload any) error {
	g.toConv = append(g.toConv, sent{id, event, payload})
	return nil
}

func (g *fakeGateway) Health(context.Context) chat.Health {
	return chat.Health{Status: "ok", Connections: 2, OnlineUsers: 1}
}

type fakeQueue struct {
	running bool
	err     error
}

func (q *fakeQueue) IsRunning() bool { return q.running }
func (q *fakeQueue) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats{HighCount: 1, NormalCount: 2, DeadLetterCount: 3}, q.err
}

type fakeSvc struct {
	last   model.NewMessage
	err    error
	marked int64
}

func (s *fakeSvc) SendMessage(_ context.Context, in model.NewMessage) (*model.Message, error) {
	s.last = in
	if s.err != nil {
		return nil, s.err
	}
	return &model.Message{ID: "m1", ConversationID: in.ConversationID, Content: in.Content,
		Sender: model.UserSummary{ID: in.SenderID}, CreatedAt: time.Now()}, nil
}

func (s *fakeSvc) MarkConversationRead(context.Context, string, string) (int64, int64, error) {
	return s.marked, 4, nil
}

func (s *fakeSvc) UnreadCount(context.Context, string) (int64, error) { return 7, nil }

type env struct {
	e     *gin.Engine
	gw    *fakeGateway
	q     *fakeQueue
	svc   *fakeSvc
	token string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtOpts := security.DefaultOptions([]byte("api-secret"))
	token, _, err := security.Generate(jwtOpts, "alice", nil)
	require.NoError(t, err)

	ev := &env{
		e:     gin.New(),
		gw:    &fakeGateway{online: map[string]bool{"alice": true}},
		q:     &fakeQueue{running: true},
		svc:   &fakeSvc{},
		token: token,
	}
	Mount(ev.e, Deps{
		Gateway: ev.gw,
		Queue:   ev.q,
		Svc:     ev.svc,
		Auth:    midsec.Middleware(security.NewAuthenticator(jwtOpts), nil),
		Metrics: promhttp.Handler(),
	})
	return ev
}

func (ev *env) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+ev.token)
	}
	w := httptest.NewRecorder()
	ev.e.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	ev := newEnv(t)
	w := ev.do(http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Queue.Status)
	assert.True(t, resp.Queue.Running)
	assert.EqualValues(t, 3, resp.Queue.Stats.DeadLetterCount)
	assert.Equal(t, 2, resp.Gateway.Connections)

	ev.q.running = false
	w = ev.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"stopped"`)

	ev.q.running, ev.q.err = true, errors.New("redis down")
	w = ev.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis down")
}

func TestMetricsExposed(t *testing.T) {
	ev := newEnv(t)
	w := ev.do(http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIRequiresBearer(t *testing.T) {
	ev := newEnv(t)
	w := ev.do(http.MethodGet, "/api/unread", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPushToUser(t *testing.T) {
	ev := newEnv(t)
	w := ev.do(http.MethodPost, "/api/users/alice/events", `{"event":"order_update","payload":{"id":"o1"}}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":true}`, w.Body.String())
	require.Len(t, ev.gw.toUser, 1)
	assert.Equal(t, "order_update", ev.gw.toUser[0].event)

	w = ev.do(http.MethodPost, "/api/users/bob/events", `{"event":"order_update"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"delivered":false}`, w.Body.String())

	w = ev.do(http.MethodPost, "/api/users/bob/events", `{"payload":{}}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushToConversation(t *testing.T) {
	ev := newEnv(t)
	w := ev.do(http.MethodPost, "/api/conversations/c1/events", `{"event":"listing_sold","payload":{"itemId":"i1"}}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ev.gw.toConv, 1)
	assert.Equal(t, "c1", ev.gw.toConv[0].target)
}

func TestSendMessage(t *testing.T) {
	ev := newEnv(t)
	w := ev.do(http.MethodPost, "/api/conversations/c1/messages", `{"content":"hi","messageType":"TEXT"}`, true)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice", ev.svc.last.SenderID)
	assert.Equal(t, "c1", ev.svc.last.ConversationID)
	assert.Contains(t, w.Body.String(), `"id":"m1"`)

	ev.svc.err = errs.ErrRateLimited.WrapMsg("", "user", "alice")
	w = ev.do(http.MethodPost, "/api/conversations/c1/messages", `{"content":"hi"}`, true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")

	ev.svc.err = errors.New("pg: connection reset")
	w = ev.do(http.MethodPost, "/api/conversations/c1/messages", `{"content":"hi"}`, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestMarkReadAndUnread(t *testing.T) {
	ev := newEnv(t)
	ev.svc.marked = 2
	w := ev.do(http.MethodPost, "/api/conversations/c1/read", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"marked":2,"unreadCount":4}`, w.Body.String())
	require.Len(t, ev.gw.toUser, 1)
	assert.Equal(t, model.EventUnreadCount, ev.gw.toUser[0].event)
	require.Len(t, ev.gw.toConv, 1)
	assert.Equal(t, model.EventMessagesRead, ev.gw.toConv[0].event)

	ev.svc.marked = 0
	ev.do(http.MethodPost, "/api/conversations/c1/read", "", true)
	assert.Len(t, ev.gw.toConv, 1)

	w = ev.do(http.MethodGet, "/api/unread", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":7}`, w.Body.String())
}
