package bootstrap

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"PChat/global/config"
	"PChat/logger"
	"PChat/middleware"
	midsec "PChat/middleware/security"
	"PChat/module/chat/model"
	"PChat/module/chat/store"
	"PChat/service/api"
	"PChat/service/chat"
	"PChat/service/chat/handlers"
	"PChat/service/health"
	"PChat/service/kafka"
	"PChat/service/messaging"
	"PChat/service/mgo"
	"PChat/service/nacos"
	"PChat/service/natsx"
	"PChat/service/observability"
	"PChat/service/push"
	"PChat/service/queue"
	"PChat/service/storage"
	rds "PChat/service/storage/redis"
	"PChat/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// App 进程内所有组件，启动时构造一次后显式传递
type App struct {
	cfg *config.Config

	Metrics *observability.Metrics
	Store   storage.Store
	Repo    store.Repo
	Gateway *chat.Server
	Queue   *queue.Queue
	Svc     *messaging.Service
	Push    *push.Trigger
	Mongo   *mgo.Manager
	Archive *mgo.Archive
	JWT     security.Options

	engine   *gin.Engine
	health   *health.Server
	registry *nacos.Registry

	closers []func() error // 逆序关闭
}

// New 按配置装配；失败时已打开的资源会被关闭
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, Metrics: observability.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initRepo(ctx); err != nil {
		return nil, err
	}
	if err := a.initPush(); err != nil {
		return nil, err
	}
	a.initArchive(ctx)

	a.JWT = security.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg, TTL: cfg.Auth.TTL}
	auth := security.NewAuthenticator(a.JWT)
	a.Gateway = chat.NewServer(cfg.Server.Gateway, auth, a.Metrics)

	deps := queue.Deps{
		Store:      a.Store,
		Repo:       a.Repo,
		Gateway:    a.Gateway,
		Push:       a.Push,
		Recipients: messaging.NewResolver(a.Store, a.Repo),
		Unread:     messaging.NewUnread(a.Store, a.Repo),
		Metrics:    a.Metrics,
	}
	if a.Archive != nil {
		deps.Archive = a.Archive
	}
	a.Queue = queue.New(cfg.Queue, deps)
	a.Svc = messaging.NewService(cfg.Messaging, a.Repo, a.Store, a.Queue, a.Metrics)
	handlers.Register(handlers.Deps{Server: a.Gateway, Svc: a.Svc, Store: a.Store})

	a.engine = a.buildEngine(auth)

	if cfg.Server.GrpcAddr != "" {
		a.health = health.NewServer(0, map[string]health.Probe{
			health.ServiceQueue:   a.Queue.IsRunning,
			health.ServiceGateway: func() bool { return true },
		})
	}
	if cfg.Nacos.Enabled() && cfg.Nacos.Register {
		if err := a.initRegistry(); err != nil {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

func (a *App) Handler() http.Handler { return a.engine }

func (a *App) initStore(ctx context.Context) error {
	st, closer, err := OpenStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.Store = st
	a.closers = append(a.closers, closer)
	return nil
}

// OpenStore 按 backends.state 打开状态存储
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, func() error, error) {
	if cfg.Backends.State == config.BackendMemory {
		return storage.NewMemStore(cfg.Presence), func() error { return nil }, nil
	}
	rdb, err := rds.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRedisStore(rdb, cfg.Presence), rdb.Close, nil
}

func (a *App) initRepo(ctx context.Context) error {
	if a.cfg.Backends.Repo == config.BackendPostgres {
		pg, err := store.NewPgRepo(ctx, a.cfg.Postgres)
		if err != nil {
			return err
		}
		a.Repo = pg
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		return Seed(ctx, pg, a.cfg.Backends.Seed)
	}
	mem := store.NewMemRepo()
	a.Repo = mem
	return Seed(ctx, mem, a.cfg.Backends.Seed)
}

// Seed 写入配置中的用户和会话
func Seed(ctx context.Context, s store.Seeder, seed config.SeedConfig) error {
	for _, u := range seed.Users {
		if err := s.UpsertUser(ctx, model.UserSummary{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}); err != nil {
			return errors.Wrapf(err, "seed user %s", u.ID)
		}
	}
	for _, c := range seed.Conversations {
		if err := s.CreateConversation(ctx, c.ID, c.Participants...); err != nil {
			return errors.Wrapf(err, "seed conversation %s", c.ID)
		}
	}
	return nil
}

func (a *App) initPush() error {
	pc := a.cfg.Push
	var pub push.Publisher
	switch pc.Backend {
	case config.PushNats:
		nc, err := natsx.NewClient(pc.Nats)
		if err != nil {
			return err
		}
		np, err := push.NewNatsPublisher(nc, pc.Subject, pc.Stream)
		if err != nil {
			_ = nc.Close()
			return err
		}
		pub = np
	case config.PushKafka:
		kc, err := kafka.NewClient(pc.Kafka)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, kc.Close)
		sender, err := kafka.NewSyncSender(kc)
		if err != nil {
			return err
		}
		pub = push.NewKafkaPublisher(sender, pc.Kafka.Topic)
	default:
		pub = push.LogPublisher{}
	}

	var opts []push.Option
	if a.cfg.Queue.PushPreviewRunes > 0 {
		opts = append(opts, push.WithPreviewLen(a.cfg.Queue.PushPreviewRunes))
	}
	a.Push = push.NewTrigger(pub, opts...)
	a.closers = append(a.closers, a.Push.Close)
	return nil
}

// initArchive Mongo 在后台连接，未就绪时归档报错但不影响投递
func (a *App) initArchive(ctx context.Context) {
	if !a.cfg.Mongo.Enabled() {
		return
	}
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.Mongo = mgo.NewManager(&a.cfg.Mongo)
	a.Mongo.StartAsync(mctx)
	a.Archive = mgo.NewArchive(a.Mongo)
	a.closers = append(a.closers, func() error { cancel(); return nil })
}

func (a *App) buildEngine(auth midsec.Authenticator) *gin.Engine {
	e := gin.New()
	e.Use(middleware.Recover(), middleware.AccessLog())
	mids := middleware.NewManager()
	mids.Add(middleware.RequestID())
	e.Use(mids.Use())

	e.GET(a.cfg.Server.WSPath, a.Gateway.HandleWS)
	api.Mount(e, api.Deps{
		Gateway: a.Gateway,
		Queue:   a.Queue,
		Svc:     a.Svc,
		Auth:    midsec.Middleware(auth, nil),
		Metrics: promhttp.Handler(),
	})
	return e
}

func (a *App) initRegistry() error {
	nc, err := nacos.NewNamingClient(a.cfg.Nacos)
	if err != nil {
		return err
	}
	ip, port, err := advertise(a.cfg.Server)
	if err != nil {
		return err
	}
	name := a.cfg.Nacos.ServiceName
	if name == "" {
		name = "pchat-gateway"
	}
	a.registry = nacos.NewRegistry(nc, name, ip, port, a.cfg.Nacos.Group)
	return nil
}

func advertise(s config.ServerConfig) (string, uint64, error) {
	host, p, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return "", 0, errors.Wrapf(err, "server addr %q", s.Addr)
	}
	port, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "server port %q", s.Addr)
	}
	if s.AdvertiseIP != "" {
		host = s.AdvertiseIP
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

// Run 阻塞到 ctx 结束，然后按顺序优雅退出
func (a *App) Run(ctx context.Context) error {
	a.Gateway.Start()
	a.Queue.Start(ctx)

	hs := &http.Server{Addr: a.cfg.Server.Addr, Handler: a.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", hs.Addr), zap.String("ws", a.cfg.Server.WSPath))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "http server")
		}
	}()

	if a.health != nil {
		lis, err := net.Listen("tcp", a.cfg.Server.GrpcAddr)
		if err != nil {
			return multierr.Append(errors.Wrap(err, "grpc listen"), a.shutdown(hs))
		}
		go a.health.Watch(ctx)
		go func() {
			if err := a.health.Serve(lis); err != nil {
				errCh <- errors.Wrap(err, "grpc health")
			}
		}()
	}
	if a.registry != nil {
		meta := map[string]string{
			"nodeId": strconv.FormatInt(a.cfg.Server.Gateway.NodeID, 10),
			"wsPath": a.cfg.Server.WSPath,
		}
		if err := a.registry.Register(meta); err != nil {
			logger.Warn("[nacos] register failed", zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("[app] shutting down")
	case runErr = <-errCh:
		logger.Error("[app] server failed", zap.Error(runErr))
	}
	return multierr.Append(runErr, a.shutdown(hs))
}

// shutdown 先摘流量，再停连接和 worker，最后关外部资源
func (a *App) shutdown(hs *http.Server) error {
	var err error
	if a.registry != nil {
		err = multierr.Append(err, a.registry.Deregister())
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	err = multierr.Append(err, hs.Shutdown(ctx))
	if a.health != nil {
		a.health.Stop()
	}
	a.Gateway.Close()
	a.Queue.Stop()
	return multierr.Append(err, a.closeAll())
}

func (a *App) closeAll() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.Repo != nil {
		a.Repo.Close()
	}
	return err
}
