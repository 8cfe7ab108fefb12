package natsx

import (
	"context"

	"PChat/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func toMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *Client) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(toMsg(subject, data, hdr)); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	return nil
}

func (c *Client) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	ack, err := c.js.PublishMsg(toMsg(subject, data, hdr), nats.Context(ctx))
	if err != nil {
		return errors.Wrapf(err, "js publish %s", subject)
	}
	if ack.Duplicate {
		logger.Debug("[natsx] duplicate publish dropped", zap.String("stream", ack.Stream), zap.String("subject", subject))
	}
	return nil
}
