package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store 幂等结果存储。活动执行器把每个已完成活动的结果写入这里，
// 同一执行重放时直接读取，不再触发副作用。
type Store interface {
	// Get 获取已记录的结果
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// SetIfAbsent 仅在键不存在时写入；返回最终生效的值以及本次是否写入。
	// 两个并发写者中先到者获胜，后到者拿到先到者的值。
	SetIfAbsent(ctx context.Context, key string, result any, ttl time.Duration) (json.RawMessage, bool, error)

	// Delete 删除记录
	Delete(ctx context.Context, key string) error

	// Close 释放后台资源
	Close() error
}

// StepKey 返回某次执行中第 seq 个活动的日志键
func StepKey(executionID string, seq int, activity string) string {
	return fmt.Sprintf("%s/%04d/%s", executionID, seq, activity)
}

// Fingerprint 根据输入生成 SHA256 指纹（64 位十六进制）
func Fingerprint(inputs ...any) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("at least one input is required")
	}

	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint inputs: %w", err)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

const defaultTTL = time.Hour

// =============================================================================
// Redis
// =============================================================================

type redisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore 创建基于 Redis 的幂等存储
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) Store {
	if prefix == "" {
		prefix = "inkflow:journal:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisStore{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "journal_redis")),
	}
}

func (s *redisStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	s.logger.Debug("journal hit", zap.String("key", key), zap.Int("size", len(data)))
	return data, true, nil
}

func (s *redisStore) SetIfAbsent(ctx context.Context, key string, result any, ttl time.Duration) (json.RawMessage, bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("marshal journal entry: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	ok, err := s.client.SetNX(ctx, s.prefix+key, data, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if ok {
		s.logger.Debug("journal recorded", zap.String("key", key), zap.Duration("ttl", ttl))
		return data, true, nil
	}

	existing, found, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		// 已过期，按本次结果返回
		return data, false, nil
	}
	return existing, false, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Close() error { return nil }

// =============================================================================
// Memory
// =============================================================================

type memoryStore struct {
	cache           map[string]*cacheEntry
	mu              sync.RWMutex
	logger          *zap.Logger
	stopCh          chan struct{}
	stopOnce        sync.Once
	cleanupInterval time.Duration
	now             func() time.Time
}

type cacheEntry struct {
	data      json.RawMessage
	expiresAt time.Time
}

// NewMemoryStore 创建基于内存的幂等存储（单节点与测试）
func NewMemoryStore(logger *zap.Logger) Store {
	return NewMemoryStoreWithCleanup(logger, 5*time.Minute)
}

// NewMemoryStoreWithCleanup 创建带自定义清理间隔的内存存储
func NewMemoryStoreWithCleanup(logger *zap.Logger, cleanupInterval time.Duration) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &memoryStore{
		cache:           make(map[string]*cacheEntry),
		logger:          logger.With(zap.String("component", "journal_memory")),
		stopCh:          make(chan struct{}),
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
	go m.cleanupLoop()
	return m
}

func (m *memoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *memoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expired := 0
	for key, entry := range m.cache {
		if now.After(entry.expiresAt) {
			delete(m.cache, key)
			expired++
		}
	}
	if expired > 0 {
		m.logger.Debug("cleaned up expired journal entries",
			zap.Int("expired", expired),
			zap.Int("remaining", len(m.cache)))
	}
}

func (m *memoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()

	if !ok || m.now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (m *memoryStore) SetIfAbsent(ctx context.Context, key string, result any, ttl time.Duration) (json.RawMessage, bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("marshal journal entry: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.cache[key]; ok && !now.After(entry.expiresAt) {
		return entry.data, false, nil
	}
	m.cache[key] = &cacheEntry{data: data, expiresAt: now.Add(ttl)}
	return data, true, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

// GetTyped 是 Store.Get 的类型安全包装
func GetTyped[T any](s Store, ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return zero, found, err
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return zero, false, fmt.Errorf("unmarshal journal entry: %w", err)
	}
	return result, true, nil
}
