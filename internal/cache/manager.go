package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("redis manager is closed")

// Manager 持有活动日志使用的 Redis 连接，负责连接校验、健康检查与关闭。
type Manager struct {
	client              *redis.Client
	healthCheckInterval time.Duration
	logger              *zap.Logger

	mu      sync.RWMutex
	closed  bool
	healthy bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHealthCheckInterval 设置后台健康检查间隔；0 关闭后台检查
func WithHealthCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthCheckInterval = d }
}

// NewManager 按配置连接 Redis，连接失败时返回错误
func NewManager(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	redisOpts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLSEnabled {
		redisOpts.TLSConfig = tlsutil.ClientTLSConfig(cfg.Addr)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client:              client,
		healthCheckInterval: 30 * time.Second,
		logger:              logger.With(zap.String("component", "redis")),
		healthy:             true,
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.healthCheckInterval > 0 {
		go m.healthCheckLoop()
	} else {
		close(m.done)
	}

	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Bool("tls", cfg.TLSEnabled),
	)
	return m, nil
}

// Client returns the underlying client.
func (m *Manager) Client() *redis.Client {
	return m.client
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Healthy 返回最近一次健康检查的结果
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed
}

// Close 停止健康检查并关闭连接
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	m.logger.Info("closing redis connection")
	return m.client.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkOnce()
		}
	}
}

func (m *Manager) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.client.Ping(ctx).Err()

	m.mu.Lock()
	changed := m.healthy != (err == nil)
	m.healthy = err == nil
	m.mu.Unlock()

	switch {
	case err != nil && changed:
		m.logger.Error("redis health check failed", zap.Error(err))
	case err == nil && changed:
		m.logger.Info("redis health check recovered")
	default:
		m.logger.Debug("redis health check", zap.Bool("healthy", err == nil))
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 连接池统计
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Stats 返回连接池统计
func (m *Manager) Stats() Stats {
	s := m.client.PoolStats()
	return Stats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
	}
}
