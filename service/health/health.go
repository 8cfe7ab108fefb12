package health

import (
	"context"
	"net"
	"time"

	"PChat/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	ServiceQueue   = "pchat.DeliveryQueue"
	ServiceGateway = "pchat.Gateway"
)

// Probe 返回组件当前是否可服务
type Probe func() bool

// Server gRPC 健康检查；空服务名汇总所有探针
type Server struct {
	gs     *grpc.Server
	hs     *health.Server
	probes map[string]Probe
	every  time.Duration
}

func NewServer(every time.Duration, probes map[string]Probe) *Server {
	if every <= 0 {
		every = 2 * time.Second
	}
	s := &Server{
		gs:     grpc.NewServer(),
		hs:     health.NewServer(),
		probes: probes,
		every:  every,
	}
	healthpb.RegisterHealthServer(s.gs, s.hs)
	s.refresh()
	return s
}

func (s *Server) Health() healthpb.HealthServer { return s.hs }

// refresh 按探针结果刷新状态
func (s *Server) refresh() {
	all := true
	for name, p := range s.probes {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if p() {
			st = healthpb.HealthCheckResponse_SERVING
		} else {
			all = false
		}
		s.hs.SetServingStatus(name, st)
	}
	if all {
		s.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Watch 周期刷新直到 ctx 结束
func (s *Server) Watch(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refresh()
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	logger.Info("[health] grpc listening", zap.String("addr", lis.Addr().String()))
	return s.gs.Serve(lis)
}

// Stop 先置为 NOT_SERVING 再停
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.GracefulStop()
}
