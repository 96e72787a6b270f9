package adapters

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"paypipe/internal/config"
	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	tokenKeyPrefix = "paypipe:token:"
	tokenExpiryKey = "paypipe:tokens:expiry"
	ratesKey       = "paypipe:fx:rates"
)

// KEYS[1] token hash, KEYS[2] expiry zset
// ARGV[1] expiry score, ARGV[2] token, ARGV[3..] hash field/value pairs
var createTokenScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// KEYS[1] token hash, KEYS[2] expiry zset
// ARGV[1] redemption time in ms, ARGV[2] merchant, ARGV[3] token
var redeemTokenScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return 'missing'
end
if status ~= 'active' then
  return status
end
if tonumber(ARGV[1]) >= tonumber(redis.call('HGET', KEYS[1], 'expires_at')) then
  return 'expired'
end
redis.call('HSET', KEYS[1], 'status', 'used', 'used_at', ARGV[1], 'redeemed_by', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
return 'ok'
`)

// KEYS[1] token hash, KEYS[2] expiry zset, ARGV[1] token
var cancelTokenScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return 'missing'
end
if status ~= 'active' then
  return status
end
redis.call('HSET', KEYS[1], 'status', 'cancelled')
redis.call('ZREM', KEYS[2], ARGV[1])
return 'ok'
`)

// KEYS[1] expiry zset, ARGV[1] now in ms, ARGV[2] token key prefix
var expireTokensScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  if redis.call('HGET', key, 'status') == 'active' then
    redis.call('HSET', key, 'status', 'expired')
    n = n + 1
  end
  redis.call('ZREM', KEYS[1], id)
end
return n
`)

// NewRedisClient opens a client for the configured address
func NewRedisClient(cfg config.StorageConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// RedisTokenStore keeps each token in a hash and indexes active tokens by
// expiry in a sorted set. State transitions run as Lua scripts so concurrent
// redemptions of one token serialise inside redis.
type RedisTokenStore struct {
	client redis.UniversalClient
}

func NewRedisTokenStore(client redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func tokenKey(token string) string { return tokenKeyPrefix + token }

func (s *RedisTokenStore) Create(ctx context.Context, token domain.OfflineToken) error {
	if token.Token == "" {
		return errors.Validation("token string is required")
	}
	fields, err := tokenFields(token)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode token")
	}
	args := append([]any{token.ExpiresAt.UnixMilli(), token.Token}, fields...)
	created, err := createTokenScript.Run(ctx, s.client, []string{tokenKey(token.Token), tokenExpiryKey}, args...).Int()
	if err != nil {
		return errors.External("redis", err)
	}
	if created == 0 {
		return errors.Validation("token " + token.Token + " already exists")
	}
	return nil
}

func (s *RedisTokenStore) FindByToken(ctx context.Context, token string) (domain.OfflineToken, error) {
	fields, err := s.client.HGetAll(ctx, tokenKey(token)).Result()
	if err != nil {
		return domain.OfflineToken{}, errors.External("redis", err)
	}
	if len(fields) == 0 {
		return domain.OfflineToken{}, errors.NotFound("token " + token)
	}
	return parseTokenFields(fields)
}

func (s *RedisTokenStore) Redeem(ctx context.Context, token, merchantID string, at time.Time) (domain.OfflineToken, error) {
	res, err := redeemTokenScript.Run(ctx, s.client,
		[]string{tokenKey(token), tokenExpiryKey}, at.UnixMilli(), merchantID, token).Text()
	if err != nil {
		return domain.OfflineToken{}, errors.External("redis", err)
	}
	if err := transitionResult(res); err != nil {
		return domain.OfflineToken{}, err
	}
	return s.FindByToken(ctx, token)
}

func (s *RedisTokenStore) Cancel(ctx context.Context, token string) (domain.OfflineToken, error) {
	res, err := cancelTokenScript.Run(ctx, s.client,
		[]string{tokenKey(token), tokenExpiryKey}, token).Text()
	if err != nil {
		return domain.OfflineToken{}, errors.External("redis", err)
	}
	if err := transitionResult(res); err != nil {
		return domain.OfflineToken{}, err
	}
	return s.FindByToken(ctx, token)
}

func (s *RedisTokenStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	n, err := expireTokensScript.Run(ctx, s.client,
		[]string{tokenExpiryKey}, now.UnixMilli(), tokenKeyPrefix).Int()
	if err != nil {
		return 0, errors.External("redis", err)
	}
	return n, nil
}

func transitionResult(res string) error {
	switch res {
	case "ok":
		return nil
	case "missing":
		return errors.TokenState("token not found")
	default:
		return errors.TokenState("token is " + res)
	}
}

func tokenFields(t domain.OfflineToken) ([]any, error) {
	allowed, err := json.Marshal(t.AllowedMerchants)
	if err != nil {
		return nil, err
	}
	blocked, err := json.Marshal(t.BlockedMerchants)
	if err != nil {
		return nil, err
	}
	types, err := json.Marshal(t.MerchantTypeRestriction)
	if err != nil {
		return nil, err
	}
	status := t.Status
	if status == "" {
		status = domain.TokenActive
	}
	fields := []any{
		"token", t.Token,
		"owner", t.Owner,
		"amount", t.Amount.String(),
		"currency", t.Currency,
		"status", string(status),
		"expires_at", t.ExpiresAt.UnixMilli(),
		"allowed_merchants", string(allowed),
		"blocked_merchants", string(blocked),
		"merchant_types", string(types),
		"transaction_id", t.TransactionID,
		"created_at", t.CreatedAt.UnixMilli(),
		"redeemed_by", t.RedeemedBy,
	}
	if t.UsedAt != nil {
		fields = append(fields, "used_at", t.UsedAt.UnixMilli())
	}
	return fields, nil
}

func parseTokenFields(f map[string]string) (domain.OfflineToken, error) {
	amount, err := decimal.NewFromString(f["amount"])
	if err != nil {
		return domain.OfflineToken{}, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt token amount")
	}
	t := domain.OfflineToken{
		Token:         f["token"],
		Owner:         f["owner"],
		Amount:        amount,
		Currency:      f["currency"],
		Status:        domain.TokenStatus(f["status"]),
		TransactionID: f["transaction_id"],
		RedeemedBy:    f["redeemed_by"],
	}
	if t.ExpiresAt, err = parseMillis(f["expires_at"]); err != nil {
		return domain.OfflineToken{}, err
	}
	if t.CreatedAt, err = parseMillis(f["created_at"]); err != nil {
		return domain.OfflineToken{}, err
	}
	if raw := f["used_at"]; raw != "" {
		usedAt, err := parseMillis(raw)
		if err != nil {
			return domain.OfflineToken{}, err
		}
		t.UsedAt = &usedAt
	}
	for field, dst := range map[string]*[]string{
		"allowed_merchants": &t.AllowedMerchants,
		"blocked_merchants": &t.BlockedMerchants,
		"merchant_types":    &t.MerchantTypeRestriction,
	} {
		if raw := f[field]; raw != "" {
			if err := json.Unmarshal([]byte(raw), dst); err != nil {
				return domain.OfflineToken{}, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt token "+field)
			}
		}
	}
	return t, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("corrupt timestamp %q", raw))
	}
	return time.UnixMilli(ms), nil
}

// RedisRateSource reads direct quotes from a redis hash keyed FROM/TO.
// Seed loads a rate table into it.
type RedisRateSource struct {
	client redis.UniversalClient
}

func NewRedisRateSource(client redis.UniversalClient) *RedisRateSource {
	return &RedisRateSource{client: client}
}

func (s *RedisRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	raw, err := s.client.HGet(ctx, ratesKey, pairKey(from, to)).Result()
	if stderrors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt rate %s->%s: %w", from, to, err)
	}
	return rate, true, nil
}

// Seed writes entries into the rate hash, replacing existing quotes
func (s *RedisRateSource) Seed(ctx context.Context, entries []config.RateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(entries))
	for _, e := range entries {
		values = append(values, pairKey(e.From, e.To), decimal.NewFromFloat(e.Rate).String())
	}
	if err := s.client.HSet(ctx, ratesKey, values...).Err(); err != nil {
		return errors.External("redis", err)
	}
	return nil
}
