package errs

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CodeError 业务错误码，Msg 可直接展示给客户端
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

var (
	ErrInvalidPayload  = NewCodeError(40000, "Invalid payload")
	ErrUnknownEvent    = NewCodeError(40001, "Unknown event")
	ErrUnauthenticated = NewCodeError(40100, "Authentication required")
	ErrNotParticipant  = NewCodeError(40300, "Not authorized to join this conversation")
	ErrNotJoined       = NewCodeError(40301, "Not joined to this conversation")
	ErrNotFound        = NewCodeError(40400, "Not found")
	ErrNotConnected    = NewCodeError(40401, "User not connected")
	ErrDuplicate       = NewCodeError(40900, "Duplicate message")
	ErrRateLimited     = NewCodeError(42900, "Rate limit exceeded")
	ErrInternal        = NewCodeError(50000, "Internal error")
)

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Wrap 附带调用栈
func (e *CodeError) Wrap() error {
	return errors.WithStack(e.clone())
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return errors.WithStack(ret)
}

// Is 按错误码比较，Detail 不参与
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus 错误码前三位即 HTTP 状态
func (e *CodeError) HTTPStatus() int {
	s := e.Code / 100
	if s < 100 || s > 599 {
		return http.StatusInternalServerError
	}
	return s
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// As 取出链路上的 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Message 给客户端的文案；非业务错误统一为 Internal error
func Message(err error) string {
	if ce, ok := As(err); ok {
		return ce.Msg
	}
	return ErrInternal.Msg
}

func HTTPStatus(err error) int {
	if ce, ok := As(err); ok {
		return ce.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
