package emailotp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeRecordVersionV1 = 1

var (
	ErrCodeNotFound         = errors.New("email code not found")
	ErrCodeMismatch         = errors.New("email code mismatch")
	ErrCodeAttemptsExceeded = errors.New("email code attempts exceeded")
	ErrRedisUnavailable     = errors.New("email code redis unavailable")
)

// consumeCodeLua atomically checks a submitted hash against the stored record.
// KEYS[1] = record key
// ARGV[1] = submitted hash (32 bytes)
// ARGV[2] = max attempts
// ARGV[3] = now (unix seconds)
//
// Layout: version(1) attempts(2 BE) expiresAt(8 BE) hash(32).
// A match deletes the record; a miss bumps attempts and keeps the TTL.
var consumeCodeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
if string.byte(data, 1) ~= 1 or string.len(data) ~= 43 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)
local expiresAt = 0
for i = 4, 11 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
if tonumber(ARGV[3]) > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

if string.sub(data, 12, 43) ~= ARGV[1] then
  attempts = attempts + 1
  if attempts >= tonumber(ARGV[2]) then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='not_found'}
  end
  local updated = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  redis.call('SET', KEYS[1], updated, 'PX', ttl)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

type codeRecord struct {
	Attempts  uint16
	ExpiresAt int64
	CodeHash  [32]byte
}

// Store keeps one pending sign-in code per email address.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "signin:otp"
	}
	return &Store{redis: client, prefix: prefix, now: time.Now}
}

func (s *Store) key(emailKey string) string {
	return s.prefix + ":" + emailKey
}

// Put replaces any pending code for emailKey.
func (s *Store) Put(ctx context.Context, emailKey string, codeHash [32]byte, ttl time.Duration) error {
	rec := codeRecord{ExpiresAt: s.now().Add(ttl).Unix(), CodeHash: codeHash}
	if err := s.redis.Set(ctx, s.key(emailKey), encodeCodeRecord(rec), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete drops the pending code, if any.
func (s *Store) Delete(ctx context.Context, emailKey string) error {
	if err := s.redis.Del(ctx, s.key(emailKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume deletes the pending code when codeHash matches it.
func (s *Store) Consume(ctx context.Context, emailKey string, codeHash [32]byte, maxAttempts int) error {
	res, err := consumeCodeLua.Run(ctx, s.redis,
		[]string{s.key(emailKey)},
		string(codeHash[:]),
		maxAttempts,
		s.now().Unix(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return ErrCodeNotFound
		case "mismatch":
			return ErrCodeMismatch
		case "attempts_exceeded":
			return ErrCodeAttemptsExceeded
		default:
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	data, ok := res.(string)
	if !ok {
		return fmt.Errorf("%w: unexpected lua result type", ErrRedisUnavailable)
	}
	rec, err := decodeCodeRecord([]byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Lua string equality is not constant time.
	if subtle.ConstantTimeCompare(rec.CodeHash[:], codeHash[:]) != 1 {
		return ErrCodeMismatch
	}
	return nil
}

func encodeCodeRecord(rec codeRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(43)
	buf.WriteByte(codeRecordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, rec.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, rec.ExpiresAt)
	buf.Write(rec.CodeHash[:])
	return buf.Bytes()
}

func decodeCodeRecord(data []byte) (codeRecord, error) {
	var rec codeRecord
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return rec, err
	}
	if version != codeRecordVersionV1 {
		return rec, errors.New("invalid code record version")
	}
	if err := binary.Read(r, binary.BigEndian, &rec.Attempts); err != nil {
		return rec, err
	}
	if err := binary.Read(r, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return rec, err
	}
	if _, err := io.ReadFull(r, rec.CodeHash[:]); err != nil {
		return rec, err
	}
	return rec, nil
}
