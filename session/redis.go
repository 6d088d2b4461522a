package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound     int64 = 0
	rotateStatusExpired      int64 = 1
	rotateStatusMismatch     int64 = 2
	rotateStatusRotated      int64 = 3
	rotateStatusInvalidBlob  int64 = 4
	rotateStatusUserMismatch int64 = 5
)

// Shared by every script. parse_record mirrors the header layout in
// encoder.go; Lua strings are 1-indexed.
const luaHelpers = `
local function read_be64(s, i)
  local v = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end

local function parse_record(data)
  if not data or #data < 51 or string.byte(data, 1) ~= 1 then
    return nil
  end
  local user_len = string.byte(data, 50) * 256 + string.byte(data, 51)
  if user_len == 0 or #data < 51 + user_len then
    return nil
  end
  return {
    hash = string.sub(data, 2, 33),
    expires_at = read_be64(data, 42),
    user_id = string.sub(data, 52, 51 + user_len)
  }
end

local function adjust_count(count_key, delta)
  if delta == 0 then
    return
  end
  local count = tonumber(redis.call("GET", count_key) or "0") + delta
  if count > 0 then
    redis.call("SET", count_key, count)
  else
    redis.call("DEL", count_key)
  end
end
`

// KEYS: session, user index, tenant counter. ARGV: blob, ttl ms, sid.
var putLua = redis.NewScript(luaHelpers + `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
local added = redis.call("SADD", KEYS[2], ARGV[3])
adjust_count(KEYS[3], added)
return added
`)

// KEYS: session, user index, tenant counter. ARGV: sid.
var deleteLua = redis.NewScript(luaHelpers + `
local existed = redis.call("DEL", KEYS[1])
local removed = redis.call("SREM", KEYS[2], ARGV[1])
adjust_count(KEYS[3], -removed)
return existed
`)

// KEYS: user index, tenant counter. ARGV: session key prefix.
var deleteAllLua = redis.NewScript(luaHelpers + `
local members = redis.call("SMEMBERS", KEYS[1])
local existed = 0
for _, sid in ipairs(members) do
  existed = existed + redis.call("DEL", ARGV[1] .. sid)
end
redis.call("DEL", KEYS[1])
adjust_count(KEYS[2], -#members)
return existed
`)

// KEYS: user index, tenant counter. ARGV: session key prefix, now ms.
var sweepUserLua = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[2])
local removed = 0
local members = redis.call("SMEMBERS", KEYS[1])
for _, sid in ipairs(members) do
  local key = ARGV[1] .. sid
  local data = redis.call("GET", key)
  local stale = false
  if not data then
    stale = true
  else
    local parsed = parse_record(data)
    if parsed and parsed.expires_at <= now then
      redis.call("DEL", key)
      stale = true
    end
  end
  if stale then
    removed = removed + redis.call("SREM", KEYS[1], sid)
  end
end
adjust_count(KEYS[2], -removed)
return removed
`)

// KEYS: old session, next session, tenant counter, rotation marker.
// ARGV: old sid, user index prefix, presented hash, next blob, next sid,
// now ms, next ttl ms.
var rotateLua = redis.NewScript(luaHelpers + `
local old_key = KEYS[1]
local next_key = KEYS[2]
local count_key = KEYS[3]
local marker_key = KEYS[4]
local old_sid = ARGV[1]

local data = redis.call("GET", old_key)
if not data then
  return 0
end

local parsed = parse_record(data)
if not parsed then
  return 4
end
local user_key = ARGV[2] .. parsed.user_id

local function drop()
  redis.call("DEL", old_key)
  adjust_count(count_key, -redis.call("SREM", user_key, old_sid))
end

if parsed.expires_at <= tonumber(ARGV[6]) then
  drop()
  return 1
end

if parsed.hash ~= ARGV[3] then
  drop()
  return 2
end

local next_parsed = parse_record(ARGV[4])
if not next_parsed or next_parsed.user_id ~= parsed.user_id then
  return 5
end

local ttl = redis.call("PTTL", old_key)
if ttl <= 0 then
  drop()
  return 1
end

redis.call("DEL", old_key)
local removed = redis.call("SREM", user_key, old_sid)
redis.call("SET", marker_key, parsed.user_id, "PX", ttl)
redis.call("SET", next_key, ARGV[4], "PX", ARGV[7])
local added = redis.call("SADD", user_key, ARGV[5])
adjust_count(count_key, added - removed)
return 3
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key. Defaults to "gi".
	Prefix string
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// RedisStore implements Store on Redis. Each session is one key holding an
// encoded Record with a TTL matching its expiry; a per-user set indexes the
// session ids and a per-tenant counter tracks the indexed total.
//
// Key layout (tenant ids are checked by ValidTenantID, so they never
// contain ':'):
//
//	<prefix>:s:<tenant>:<sid>   encoded Record
//	<prefix>:u:<tenant>:<uid>   set of sids
//	<prefix>:c:<tenant>         indexed session count
//	<prefix>:r:<tenant>:<sid>   rotation marker holding the uid
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Store backed by client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "gi"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisStore{redis: client, prefix: opts.Prefix, now: opts.Now}
}

func (s *RedisStore) key(tenantID, sessionID string) string {
	return s.sessionKeyPrefix(tenantID) + sessionID
}

func (s *RedisStore) sessionKeyPrefix(tenantID string) string {
	return s.prefix + ":s:" + NormalizeTenantID(tenantID) + ":"
}

func (s *RedisStore) userKeyPrefix(tenantID string) string {
	return s.prefix + ":u:" + NormalizeTenantID(tenantID) + ":"
}

func (s *RedisStore) userKey(tenantID, userID string) string {
	return s.userKeyPrefix(tenantID) + userID
}

func (s *RedisStore) countKey(tenantID string) string {
	return s.prefix + ":c:" + NormalizeTenantID(tenantID)
}

func (s *RedisStore) markerKey(tenantID, sessionID string) string {
	return s.prefix + ":r:" + NormalizeTenantID(tenantID) + ":" + sessionID
}

func (s *RedisStore) ttlFor(rec *Record) (time.Duration, error) {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl < time.Millisecond {
		return 0, errors.New("session already expired")
	}
	return ttl, nil
}

// Put persists rec with a TTL matching its expiry.
//
//	Performance: 1 Lua EVALSHA (SET + SADD + counter).
func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if rec.SessionID == "" || rec.UserID == "" {
		return errors.New("session id and user id are required")
	}
	if !ValidTenantID(rec.TenantID) {
		return ErrInvalidTenant
	}
	ttl, err := s.ttlFor(rec)
	if err != nil {
		return err
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	err = putLua.Run(ctx, s.redis,
		[]string{s.key(rec.TenantID, rec.SessionID), s.userKey(rec.TenantID, rec.UserID), s.countKey(rec.TenantID)},
		data, ttl.Milliseconds(), rec.SessionID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Find returns the unexpired session. A record found past its expiry is
// removed before ErrNotFound is returned.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Find(ctx context.Context, tenantID, sessionID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.SessionID = sessionID

	if !rec.Active(s.now()) {
		if err := s.DeleteOne(ctx, tenantID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return rec, nil
}

// Rotate atomically swaps the old session for next using a Lua CAS on the
// stored token hash. A hash mismatch revokes the old session.
//
//	Performance: 1 Lua EVALSHA.
func (s *RedisStore) Rotate(ctx context.Context, tenantID, oldSessionID string, presentedHash [32]byte, next *Record) error {
	if next == nil || next.SessionID == "" || next.SessionID == oldSessionID {
		return errors.New("rotation requires a new session id")
	}
	if !ValidTenantID(tenantID) {
		return ErrInvalidTenant
	}
	if NormalizeTenantID(next.TenantID) != NormalizeTenantID(tenantID) {
		return errors.New("rotated session must stay in the same tenant")
	}
	ttl, err := s.ttlFor(next)
	if err != nil {
		return err
	}
	data, err := Encode(next)
	if err != nil {
		return err
	}

	code, err := rotateLua.Run(ctx, s.redis,
		[]string{
			s.key(tenantID, oldSessionID),
			s.key(next.TenantID, next.SessionID),
			s.countKey(tenantID),
			s.markerKey(tenantID, oldSessionID),
		},
		oldSessionID,
		s.userKeyPrefix(tenantID),
		presentedHash[:],
		data,
		next.SessionID,
		s.now().UnixMilli(),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound, rotateStatusExpired:
		return ErrNotFound
	case rotateStatusMismatch:
		return ErrTokenMismatch
	case rotateStatusInvalidBlob:
		return ErrCorrupt
	case rotateStatusUserMismatch:
		return errors.New("rotated session must belong to the same user")
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// DeleteOne removes a session and its index entry. Deleting a missing
// session is a no-op.
func (s *RedisStore) DeleteOne(ctx context.Context, tenantID, sessionID string) error {
	key := s.key(tenantID, sessionID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		if delErr := s.redis.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil
	}

	err = deleteLua.Run(ctx, s.redis,
		[]string{key, s.userKey(tenantID, rec.UserID), s.countKey(tenantID)},
		sessionID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session in the user's index in one
// script, so a concurrent Put either lands before and is removed or lands
// after and survives.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.redis,
		[]string{s.userKey(tenantID, userID), s.countKey(tenantID)},
		s.sessionKeyPrefix(tenantID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// ListForUser returns the user's unexpired sessions without mutating state.
func (s *RedisStore) ListForUser(ctx context.Context, tenantID, userID string) ([]*Record, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, sid := range ids {
		cmds[i] = pipe.Get(ctx, s.key(tenantID, sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := s.now()
	out := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		rec, err := Decode(data)
		if err != nil {
			return nil, err
		}
		rec.SessionID = ids[i]
		if rec.Active(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SweepExpired walks every user index, dropping entries whose record has
// expired or vanished. Each index is cleaned by one script, so concurrent
// sweeps never double count.
//
// This is an O(n) admin operation and must not run on a request path.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	pattern := s.prefix + ":u:*"
	now := s.now().UnixMilli()

	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, userKey := range keys {
			tenantID, ok := s.tenantFromUserKey(userKey)
			if !ok {
				continue
			}
			n, err := sweepUserLua.Run(ctx, s.redis,
				[]string{userKey, s.countKey(tenantID)},
				s.sessionKeyPrefix(tenantID), now,
			).Int64()
			if err != nil {
				return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			total += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// WasRotated reports whether sessionID was consumed by Rotate within the
// old record's lifetime.
func (s *RedisStore) WasRotated(ctx context.Context, tenantID, sessionID string) (string, bool, error) {
	userID, err := s.redis.Get(ctx, s.markerKey(tenantID, sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return userID, true, nil
}

// Count returns the tenant's indexed session count. Entries that expired
// by TTL are included until the next sweep.
func (s *RedisStore) Count(ctx context.Context, tenantID string) (int, error) {
	count, err := s.redis.Get(ctx, s.countKey(tenantID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// tenantFromUserKey extracts the tenant of a user index key. Put and
// Rotate refuse tenants with ':' so the first separator ends the tenant.
func (s *RedisStore) tenantFromUserKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, s.prefix+":u:")
	if !ok {
		return "", false
	}
	tenantID, userID, ok := strings.Cut(rest, ":")
	if !ok || userID == "" || !ValidTenantID(tenantID) {
		return "", false
	}
	return tenantID, true
}
