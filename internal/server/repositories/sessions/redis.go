package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/dmitrijs2005/licensekeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// RedisRepository stores each session under <prefix>session:<id> with a TTL
// matching its expiry, plus a set <prefix>user:<username> of session ids.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix}
}

type redisRecord struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Scope     string `json:"scope"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

func (r *RedisRepository) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *RedisRepository) userKey(username string) string {
	return r.prefix + "user:" + username
}

func encodeRecord(s *models.Session) ([]byte, error) {
	return json.Marshal(redisRecord{
		ID:        s.ID,
		Username:  s.Username,
		Scope:     string(s.Scope),
		IssuedAt:  s.IssuedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

func decodeRecord(b []byte) (*models.Session, error) {
	var rec redisRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	issued, err := time.Parse(time.RFC3339Nano, rec.IssuedAt)
	if err != nil {
		return nil, err
	}
	expires, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		ID:        rec.ID,
		Username:  rec.Username,
		Scope:     models.Scope(rec.Scope),
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

func (r *RedisRepository) Create(ctx context.Context, s *models.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", s.ID)
	}
	b, err := encodeRecord(s)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.sessionKey(s.ID), b, ttl)
		p.SAdd(ctx, r.userKey(s.Username), s.ID)
		p.Expire(ctx, r.userKey(s.Username), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) Find(ctx context.Context, id string) (*models.Session, error) {
	b, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	s, err := decodeRecord(b)
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	s, err := r.Find(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.sessionKey(id))
		p.SRem(ctx, r.userKey(s.Username), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

var deleteUserScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return #ids
`)

func (r *RedisRepository) DeleteByUser(ctx context.Context, username string) (int, error) {
	n, err := deleteUserScript.Run(ctx, r.client, []string{r.userKey(username)}, r.sessionKey("")).Int()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return n, nil
}

// renameScript moves every live session of KEYS[1] to KEYS[2] in one step,
// keeping each session's remaining TTL.
var renameScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local moved = 0
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  local raw = redis.call("GET", key)
  local ttl = redis.call("PTTL", key)
  if raw and ttl > 0 then
    local s = cjson.decode(raw)
    s["username"] = ARGV[1]
    redis.call("SET", key, cjson.encode(s), "PX", ttl)
    redis.call("SADD", KEYS[2], id)
    local setttl = redis.call("PTTL", KEYS[2])
    if setttl < ttl then
      redis.call("PEXPIRE", KEYS[2], ttl)
    end
    moved = moved + 1
  end
end
redis.call("DEL", KEYS[1])
return moved
`)

func (r *RedisRepository) Rename(ctx context.Context, from, to string) (int, error) {
	n, err := renameScript.Run(ctx, r.client, []string{r.userKey(from), r.userKey(to)}, to, r.sessionKey("")).Int()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return n, nil
}
