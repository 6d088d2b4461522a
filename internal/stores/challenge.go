package stores

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind separates challenge purposes so a reset token can never verify an
// email or the other way around.
type Kind byte

const (
	KindPasswordReset     Kind = 1
	KindEmailVerification Kind = 2
)

const (
	challengeVersionV1 = 1
	challengeHeaderLen = 1 + 1 + 2 + 8 + 32
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeSecretMismatch   = errors.New("challenge secret mismatch")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
	errChallengeCorrupt          = errors.New("challenge record corrupt")
)

// saveChallengeLua stores a record and drops whatever challenge of the same
// kind the user had outstanding.
// KEYS[1] = record key, KEYS[2] = per-user pointer key
// ARGV[1] = record bytes, ARGV[2] = ttl ms
var saveChallengeLua = redis.NewScript(`
local old = redis.call('GET', KEYS[2])
if old and old ~= KEYS[1] then
  redis.call('DEL', old)
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], KEYS[1], 'PX', ARGV[2])
return 1
`)

// consumeChallengeLua performs GET, validate and DEL or attempt bump in one
// step.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes), ARGV[2] = expected kind,
// ARGV[3] = max attempts, ARGV[4] = now unix ms
//
// Returns the record bytes on success or an error reply: "not_found",
// "expired", "kind_mismatch", "attempts_exceeded", "secret_mismatch".
var consumeChallengeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

if string.len(data) < 44 or string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local kind = string.byte(data, 2)
local attempts = string.byte(data, 3) * 256 + string.byte(data, 4)

local expiresAt = 0
for i = 5, 12 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

if tonumber(ARGV[4]) >= expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if kind ~= tonumber(ARGV[2]) then
  return {err='kind_mismatch'}
end

if string.sub(data, 13, 44) ~= ARGV[1] then
  attempts = attempts + 1
  if attempts >= tonumber(ARGV[3]) then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  local updated = string.sub(data, 1, 2) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 5)
  redis.call('SET', KEYS[1], updated, 'PX', ttl)
  return {err='secret_mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// Challenge is a single-use secret bound to a user, stored only as the
// SHA-256 of its secret half.
type Challenge struct {
	Kind       Kind
	UserID     string
	Email      string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Attempts   uint16
}

// ChallengeStore persists challenges under {prefix}:ch:{tenant}:{id}.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *ChallengeStore {
	if prefix == "" {
		prefix = "gi"
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *ChallengeStore) key(tenantID, id string) string {
	return s.prefix + ":ch:" + normalizeTenantID(tenantID) + ":" + id
}

func (s *ChallengeStore) userKey(tenantID string, kind Kind, userID string) string {
	return fmt.Sprintf("%s:chu:%s:%d:%s", s.prefix, normalizeTenantID(tenantID), kind, userID)
}

// Save stores c under id until c.ExpiresAt, replacing the user's previous
// challenge of the same kind.
func (s *ChallengeStore) Save(ctx context.Context, tenantID, id string, c *Challenge) error {
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrChallengeNotFound
	}
	encoded, err := encodeChallenge(c)
	if err != nil {
		return err
	}

	err = saveChallengeLua.Run(ctx, s.redis,
		[]string{s.key(tenantID, id), s.userKey(tenantID, c.Kind, c.UserID)},
		encoded,
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Consume returns and deletes the challenge when providedHash matches. A
// mismatch counts an attempt; reaching maxAttempts deletes the record.
func (s *ChallengeStore) Consume(
	ctx context.Context,
	tenantID, id string,
	kind Kind,
	providedHash [32]byte,
	maxAttempts int,
) (*Challenge, error) {
	result, err := consumeChallengeLua.Run(ctx, s.redis,
		[]string{s.key(tenantID, id)},
		string(providedHash[:]),
		int(kind),
		maxAttempts,
		s.now().UnixMilli(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return nil, ErrChallengeNotFound
		case "kind_mismatch", "secret_mismatch":
			return nil, ErrChallengeSecretMismatch
		case "attempts_exceeded":
			return nil, ErrChallengeAttemptsExceeded
		default:
			return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrChallengeRedisUnavailable)
	}
	c, err := decodeChallenge([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(c.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrChallengeSecretMismatch
	}
	return c, nil
}

// Get reads a challenge without consuming it.
func (s *ChallengeStore) Get(ctx context.Context, tenantID, id string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	c, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, ErrChallengeNotFound
	}
	return c, nil
}

// Layout: version(1) kind(1) attempts(2) expiresAt unix ms(8) hash(32)
// userLen(2) user emailLen(2) email. Fixed fields come first so the Lua
// script can read them at constant offsets.
func encodeChallenge(c *Challenge) ([]byte, error) {
	if c.UserID == "" {
		return nil, errors.New("challenge user id required")
	}
	if len(c.UserID) > 0xFFFF || len(c.Email) > 0xFFFF {
		return nil, errors.New("challenge field too long")
	}

	buf := make([]byte, challengeHeaderLen, challengeHeaderLen+4+len(c.UserID)+len(c.Email))
	buf[0] = challengeVersionV1
	buf[1] = byte(c.Kind)
	binary.BigEndian.PutUint16(buf[2:4], c.Attempts)
	binary.BigEndian.PutUint64(buf[4:12], uint64(c.ExpiresAt.UnixMilli()))
	copy(buf[12:44], c.SecretHash[:])

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.UserID)))
	buf = append(buf, c.UserID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Email)))
	buf = append(buf, c.Email...)
	return buf, nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	if len(data) < challengeHeaderLen || data[0] != challengeVersionV1 {
		return nil, errChallengeCorrupt
	}

	c := &Challenge{
		Kind:      Kind(data[1]),
		Attempts:  binary.BigEndian.Uint16(data[2:4]),
		ExpiresAt: time.UnixMilli(int64(binary.BigEndian.Uint64(data[4:12]))),
	}
	copy(c.SecretHash[:], data[12:44])

	rest := data[challengeHeaderLen:]
	user, rest, ok := readString(rest)
	if !ok || user == "" {
		return nil, errChallengeCorrupt
	}
	email, rest, ok := readString(rest)
	if !ok || len(rest) != 0 {
		return nil, errChallengeCorrupt
	}
	c.UserID, c.Email = user, email
	return c, nil
}

func readString(b []byte) (string, []byte, bool) {
	if len(b) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, false
	}
	return string(b[:n]), b[n:], true
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
