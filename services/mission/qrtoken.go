package mission

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"placequest-core/pkg/rediskey"
	"placequest-core/pkg/util"

	"github.com/redis/go-redis/v9"
)

// QRTokenClaims bind an issued token to one mission at one place. A token
// that outlives the mission it was minted for must not verify.
type QRTokenClaims struct {
	MissionID string `json:"mission_id"`
	PlaceID   string `json:"place_id"`
}

// TokenStore issues and consumes single-use QR tokens. Consume is destructive:
// a token yields its claims exactly once, regardless of how many callers race
// on it.
type TokenStore interface {
	Issue(ctx context.Context, claims QRTokenClaims, ttl time.Duration) (string, error)
	Consume(ctx context.Context, token string) (*QRTokenClaims, error)
}

// RedisTokenStore keeps tokens in redis. GETDEL makes consumption atomic
// across replicas.
type RedisTokenStore struct {
	rdb *redis.Client
}

func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Issue(ctx context.Context, claims QRTokenClaims, ttl time.Duration) (string, error) {
	token := util.GenerateToken()

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, rediskey.BuildQRTokenKey(token), payload, ttl).Err(); err != nil {
		return "", err
	}

	return token, nil
}

func (s *RedisTokenStore) Consume(ctx context.Context, token string) (*QRTokenClaims, error) {
	payload, err := s.rdb.GetDel(ctx, rediskey.BuildQRTokenKey(token)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var claims QRTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}

	return &claims, nil
}

// MemoryTokenStore is the in-process TokenStore used by tests.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
}

type memoryToken struct {
	claims    QRTokenClaims
	expiresAt time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken)}
}

func (s *MemoryTokenStore) Issue(_ context.Context, claims QRTokenClaims, ttl time.Duration) (string, error) {
	token := util.GenerateToken()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = memoryToken{claims: claims, expiresAt: time.Now().Add(ttl)}

	return token, nil
}

func (s *MemoryTokenStore) Consume(_ context.Context, token string) (*QRTokenClaims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, token)

	if time.Now().After(entry.expiresAt) {
		return nil, nil
	}

	return &entry.claims, nil
}
