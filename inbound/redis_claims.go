package inbound

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisClaimPrefix = "marketplace:inbound:"

const (
	redisClaimProcessing = "processing:"
	redisClaimComplete   = "complete"
	redisClaimHold       = "hold"
)

// settleScript replaces the value at KEYS[1] only while the caller still owns
// the processing claim. An empty ARGV[2] deletes the key.
var settleScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
if ARGV[2] == '' then
  redis.call('DEL', KEYS[1])
  return 1
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisClaimStore shares claims across receiver replicas. Claim ids carry
// the key and an ownership token, so settling a claim whose lease expired
// and was taken over is a no-op.
type RedisClaimStore struct {
	Client redis.Cmdable
	Prefix string
	Now    func() time.Time
}

func NewRedisClaimStore(client redis.Cmdable) *RedisClaimStore {
	return &RedisClaimStore{
		Client: client,
		Prefix: DefaultRedisClaimPrefix,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisClaimStore) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	client, err := s.client()
	if err != nil {
		return "", false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: idempotency key is required", nil)
	}
	if lease <= 0 {
		lease = DefaultKeyTTL
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, s.redisKey(key), redisClaimProcessing+token, lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("inbound: redis claim %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return encodeClaimID(key, token, lease), true, nil
}

func (s *RedisClaimStore) Complete(ctx context.Context, claimID string) error {
	key, token, lease, err := decodeClaimID(claimID)
	if err != nil {
		return err
	}
	return s.settle(ctx, key, token, redisClaimComplete, lease)
}

// Fail deletes the claim, or holds the key until retryAt when it is in the
// future.
func (s *RedisClaimStore) Fail(ctx context.Context, claimID string, _ error, retryAt time.Time) error {
	key, token, _, err := decodeClaimID(claimID)
	if err != nil {
		return err
	}
	hold := time.Duration(0)
	if !retryAt.IsZero() {
		hold = retryAt.Sub(s.now())
	}
	if hold < time.Millisecond {
		return s.settle(ctx, key, token, "", 0)
	}
	return s.settle(ctx, key, token, redisClaimHold, hold)
}

func (s *RedisClaimStore) settle(ctx context.Context, key, token, value string, ttl time.Duration) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	err = settleScript.Run(ctx, client, []string{s.redisKey(key)},
		redisClaimProcessing+token,
		value,
		ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("inbound: redis settle %s: %w", key, err)
	}
	return nil
}

func (s *RedisClaimStore) client() (redis.Cmdable, error) {
	if s == nil || s.Client == nil {
		return nil, inboundInternal("inbound: redis client is not configured", nil)
	}
	return s.Client, nil
}

func (s *RedisClaimStore) redisKey(key string) string {
	prefix := s.Prefix
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultRedisClaimPrefix
	}
	return prefix + key
}

func (s *RedisClaimStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func encodeClaimID(key, token string, lease time.Duration) string {
	return fmt.Sprintf("%s|%d|%s", token, lease.Milliseconds(), key)
}

func decodeClaimID(claimID string) (string, string, time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(claimID), "|", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", 0, inboundBadInput("inbound: invalid claim id", map[string]any{"claim_id": claimID})
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || millis <= 0 {
		return "", "", 0, inboundBadInput("inbound: invalid claim id lease", map[string]any{"claim_id": claimID})
	}
	return parts[2], parts[0], time.Duration(millis) * time.Millisecond, nil
}

var _ ClaimStore = (*RedisClaimStore)(nil)
