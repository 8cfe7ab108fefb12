package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PChat/data/database/mgo/mongoutil"
	"PChat/logger"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var ErrNotReady = errors.New("mongo not ready")

type connector func(ctx context.Context, cfg *mongoutil.Config) (*mongoutil.Client, error)

// Manager 后台维持一个 Mongo 连接：首次连上后就绪，掉线自动重连
type Manager struct {
	cfg     *mongoutil.Config
	connect connector

	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error

	healthEvery time.Duration
	failThresh  int
}

func NewManager(cfg *mongoutil.Config) *Manager {
	return &Manager{
		cfg:         cfg,
		connect:     mongoutil.NewMongoDB,
		readyCh:     make(chan struct{}),
		healthEvery: 10 * time.Second,
		failThresh:  3,
	}
}

// StartAsync 一直运行到 ctx.Done()
func (m *Manager) StartAsync(ctx context.Context) {
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	for {
		if !m.connectLoop(ctx) {
			return
		}
		if !m.healthLoop(ctx) {
			return
		}
		logger.Warn("[mongo] connection lost, reconnecting", zap.Error(m.Err()))
	}
}

// connectLoop 退避重试直到连上；ctx 结束返回 false
func (m *Manager) connectLoop(ctx context.Context) bool {
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
	)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		cli, err := m.connect(ctx, m.cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			m.readyOnce.Do(func() { close(m.readyCh) })
			logger.Info("[mongo] connected", zap.String("database", m.cfg.Database))
			return true
		}
		m.lastErr.Store(err)

		// 退避 + 抖动
		backoff := baseBackoff << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
		timer := time.NewTimer(backoff - jitter/2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

// healthLoop 连续 failThresh 次 ping 失败则断开，返回 true 回到连接阶段
func (m *Manager) healthLoop(ctx context.Context) bool {
	fail := 0
	ticker := time.NewTicker(m.healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			if err := c.Ping(ctx); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= m.failThresh {
					m.drop()
					return true
				}
				continue
			}
			fail = 0
		}
	}
}

func (m *Manager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

func (m *Manager) Ready() <-chan struct{} { return m.readyCh }

func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// TryGetDB 未连接时返回 ErrNotReady
func (m *Manager) TryGetDB() (*mongo.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		if err := m.Err(); err != nil {
			return nil, errors.Wrap(ErrNotReady, err.Error())
		}
		return nil, ErrNotReady
	}
	return m.client.GetDB(), nil
}

// WaitReady 阻塞直到首次就绪或 ctx 结束
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
