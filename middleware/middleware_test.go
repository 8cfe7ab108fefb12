package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"PChat/middleware/security"
	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(_ context.Context, token string) (string, error) {
	if uid, ok := a[token]; ok {
		return uid, nil
	}
	return "", errs.ErrUnauthenticated.WrapMsg("bad token")
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(Recover(), AccessLog())
	mm := NewManager()
	mm.Add(RequestID())
	e.Use(mm.Use())

	auth := security.Middleware(staticAuth{"t1": "alice"}, nil)
	GET(e, "/me", func(c *gin.Context) {
		c.String(http.StatusOK, security.UserID(c))
	}, RouteOpt{IsAuth: true, Auth: auth})
	POST(e, "/open", func(c *gin.Context) { c.Status(http.StatusNoContent) }, RouteOpt{})
	GET(e, "/panic", func(c *gin.Context) { panic("boom") }, RouteOpt{})
	return e
}

func do(e *gin.Engine, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestAuthRoutes(t *testing.T) {
	e := newEngine()

	w := do(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer t1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w = do(e, http.MethodGet, "/me?token=t1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "40100")

	w = do(e, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(e, http.MethodPost, "/open", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestIDPassThrough(t *testing.T) {
	w := do(newEngine(), http.MethodPost, "/open", map[string]string{HeaderRequestID: "req-1"})
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
}

func TestRecover(t *testing.T) {
	w := do(newEngine(), http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		name string
		hdr  map[string]string
		url  string
		want string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "/ws", "abc"},
		{"bearer lower", map[string]string{"Authorization": "bearer abc"}, "/ws", "abc"},
		{"raw header", map[string]string{"Authorization": "abc"}, "/ws", "abc"},
		{"query", nil, "/ws?token=q1", "q1"},
		{"none", nil, "/ws", ""},
		{"basic ignored", map[string]string{"Authorization": "Basic xyz"}, "/ws", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, c.url, nil)
			for k, v := range c.hdr {
				req.Header.Set(k, v)
			}
			assert.Equal(t, c.want, security.ExtractToken(req, nil))
		})
	}
}
