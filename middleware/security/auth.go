package security

import (
	"context"
	"net/http"
	"strings"

	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
)

// context key
const (
	CtxAuthKey   = "authorization" // string，原始 token
	CtxUserIDKey = "userId"        // string，鉴权后的用户
)

type Options struct {
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	QueryToken                string // 握手时浏览器无法带 header，默认 "token"；为空则不读
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               CtxAuthKey,
		EnableAuthorizationBearer: true,
		QueryToken:                "token",
	}
}

// Authenticator token -> userID
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// ExtractToken 依次读取：自定义头、Authorization: Bearer、query 参数
func ExtractToken(r *http.Request, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if opts.EnableAuthorizationBearer && len(authz) > len("bearer ") &&
		strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	// 自定义头与 Authorization 同名时，非 Bearer 值按裸 token 处理
	if token := strings.TrimSpace(r.Header.Get(opts.HeaderToken)); token != "" && !strings.Contains(token, " ") {
		return token
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(r.URL.Query().Get(opts.QueryToken))
	}
	return ""
}

// Middleware 校验 bearer token，成功后把 userId 写入 gin.Context
func Middleware(auth Authenticator, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := ExtractToken(c.Request, opts)
		if token == "" {
			abort(c, errs.ErrUnauthenticated.WrapMsg("token missing"))
			return
		}
		uid, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(CtxAuthKey, token)
		c.Set(CtxUserIDKey, uid)
		c.Next()
	}
}

// UserID 读取鉴权用户
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

func abort(c *gin.Context, err error) {
	ce, ok := errs.As(err)
	if !ok {
		ce = errs.ErrUnauthenticated
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": ce.Code, "message": ce.Msg})
}
