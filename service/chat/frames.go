package chat

import (
	"encoding/json"

	"PChat/module/chat/model"
	"PChat/tools/errs"

	"github.com/pkg/errors"
)

// InboundFrame 客户端帧，data 交给各 handler 自行解码
type InboundFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func ParseFrame(raw []byte) (*InboundFrame, error) {
	f := &InboundFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg("unmarshal frame", "err", err.Error())
	}
	if f.Event == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("event missing")
	}
	if f.Data == nil {
		f.Data = map[string]any{}
	}
	return f, nil
}

func EncodeFrame(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(model.Frame{Event: event, Data: payload})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", event)
	}
	return b, nil
}

// ErrorFrame 业务错误给出错误码文案，其它错误统一 Internal error
func ErrorFrame(err error) model.ErrorEvent {
	return model.ErrorEvent{Message: errs.Message(err)}
}
