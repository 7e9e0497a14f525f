package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vices1967-beep/beefchain/internal/domain"
)

// Fixed window counter: the first hit of a window sets its expiry.
var submissionWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

// RedisSubmissionRateLimiter counts ledger submissions per wallet in Redis so
// every replica shares the same window.
type RedisSubmissionRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSubmissionRateLimiter(client redis.UniversalClient, prefix string) *RedisSubmissionRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "beefchain:rate_limit"
	}
	return &RedisSubmissionRateLimiter{client: client, prefix: p}
}

// ConsumeRateLimit records one hit for subject and returns the hit count in the
// current window with the seconds until the window resets. Wallet subjects are
// canonicalized so differently padded addresses share a counter.
func (r *RedisSubmissionRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	key := r.prefix + ":" + scope + ":" + domain.NormalizeAddress(subject)

	reply, err := submissionWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	hits, remainingMs, err := parseWindowReply(reply)
	if err != nil {
		return 0, 0, err
	}
	if remainingMs < 0 {
		remainingMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(remainingMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(hits), retryAfter, nil
}

func parseWindowReply(reply interface{}) (int64, int64, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter reply: %T", reply)
	}
	hits, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter hit count: %T", values[0])
	}
	remaining, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter ttl: %T", values[1])
	}
	return hits, remaining, nil
}
