package middleware

import (
	"github.com/gin-gonic/gin"
)

// RouteOpt 路由选项；IsAuth 时挂上 Auth 中间件
type RouteOpt struct {
	IsAuth bool
	Auth   gin.HandlerFunc
}

func chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && opt.Auth != nil {
		return []gin.HandlerFunc{opt.Auth, handler}
	}
	return []gin.HandlerFunc{handler}
}

// POST 封装
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, chain(handler, opt)...)
}

// GET 封装
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, chain(handler, opt)...)
}
