package chat

import (
	"context"

	"PChat/service/observability"
	"PChat/tools/errs"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Dispatcher struct {
	handlers map[string]Handler
	metrics  *observability.Metrics
}

func NewDispatcher(metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler), metrics: metrics}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) GetHandler(event string) Handler { return d.handlers[event] }

func (d *Dispatcher) Dispatch(ctx context.Context, c *WsConn, f *InboundFrame) (err error) {
	h, ok := d.handlers[f.Event]
	if !ok {
		d.metrics.Event("unknown", errs.ErrUnknownEvent)
		return errs.ErrUnknownEvent.WrapMsg("", "event", f.Event)
	}
	ctx, span := observability.StartSpan(ctx, "ws."+f.Event, trace.SpanKindServer,
		attribute.String("user.id", c.UserID),
		attribute.String("conn.id", c.SnowID))
	defer func() {
		observability.EndSpan(span, err)
		d.metrics.Event(f.Event, err)
	}()
	return h.Handle(ctx, c, f.Data)
}
