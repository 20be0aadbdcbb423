package antispoof

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"placequest-core/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// Fix is a previously accepted location fix for a device, kept so the
// velocity rule can detect teleportation between consecutive claims.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// FixStore keeps the last accepted fix per device. Last returns nil when no
// prior fix is known.
type FixStore interface {
	Last(ctx context.Context, deviceID string) (*Fix, error)
	Record(ctx context.Context, deviceID string, fix Fix) error
}

// MemoryFixStore is the in-process FixStore used by tests and single-node
// development setups.
type MemoryFixStore struct {
	mu    sync.RWMutex
	fixes map[string]Fix
	ttl   time.Duration
}

func NewMemoryFixStore(ttl time.Duration) *MemoryFixStore {
	return &MemoryFixStore{
		fixes: make(map[string]Fix),
		ttl:   ttl,
	}
}

func (s *MemoryFixStore) Last(ctx context.Context, deviceID string) (*Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fix, ok := s.fixes[deviceID]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && time.Since(fix.Timestamp) > s.ttl {
		return nil, nil
	}
	return &fix, nil
}

func (s *MemoryFixStore) Record(ctx context.Context, deviceID string, fix Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes[deviceID] = fix
	return nil
}

// RedisFixStore shares fix history across instances.
type RedisFixStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisFixStore(rdb *redis.Client, ttl time.Duration) *RedisFixStore {
	return &RedisFixStore{rdb: rdb, ttl: ttl}
}

func (s *RedisFixStore) Last(ctx context.Context, deviceID string) (*Fix, error) {
	raw, err := s.rdb.Get(ctx, rediskey.BuildAntispoofFixKey(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var fix Fix
	if err := json.Unmarshal(raw, &fix); err != nil {
		return nil, err
	}
	return &fix, nil
}

func (s *RedisFixStore) Record(ctx context.Context, deviceID string, fix Fix) error {
	raw, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, rediskey.BuildAntispoofFixKey(deviceID), raw, s.ttl).Err()
}
