package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptRecordVersion  = 2
	AttemptCodeCells      = 6

	attemptFlagExhausted   = 1 << 0
	attemptFlagTrustDevice = 1 << 1
)

var (
	ErrAttemptNotFound = errors.New("sign-in attempt not found")
	ErrAttemptExists   = errors.New("sign-in attempt already exists")
	ErrAttemptConflict = errors.New("sign-in attempt modified concurrently")
	ErrAttemptBackend  = errors.New("sign-in attempt backend unavailable")
)

// AttemptRecord is the persisted form of an in-progress sign-in. It never
// carries a password, a backup code or an issued session.
type AttemptRecord struct {
	Revision    uint64
	CreatedAt   int64
	Step        uint8
	Failures    uint8
	Exhausted   bool
	TrustDevice bool
	Focus       uint8
	Cells       [AttemptCodeCells]byte
	Email       string
	UserID      string
	// Verified is the hash of a second-factor code that was accepted but
	// whose session issuance has not succeeded yet.
	Verified string
}

// AttemptStore persists attempts under an opaque id with a sliding TTL.
type AttemptStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAttemptStore(redisClient redis.UniversalClient, prefix string) *AttemptStore {
	if prefix == "" {
		prefix = "signin:attempt"
	}
	return &AttemptStore{redis: redisClient, prefix: prefix}
}

func (s *AttemptStore) key(id string) string {
	return s.prefix + ":" + id
}

// Create stores a new record at revision 1.
func (s *AttemptStore) Create(ctx context.Context, id string, rec *AttemptRecord, ttl time.Duration) error {
	rec.Revision = 1
	encoded, err := encodeAttemptRecord(rec)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(id), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	if !ok {
		return ErrAttemptExists
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*AttemptRecord, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	rec, err := decodeAttemptRecord(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(id)).Result()
		return nil, ErrAttemptNotFound
	}
	return rec, nil
}

// Update replaces the record only if its stored revision still equals
// rec.Revision, then bumps rec.Revision. A lost race is ErrAttemptConflict.
func (s *AttemptStore) Update(ctx context.Context, id string, rec *AttemptRecord, ttl time.Duration) error {
	const maxRetries = 4
	key := s.key(id)
	expected := rec.Revision

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			current, err := decodeAttemptRecord(data)
			if err != nil {
				return err
			}
			if current.Revision != expected {
				return ErrAttemptConflict
			}

			next := *rec
			next.Revision = expected + 1
			encoded, err := encodeAttemptRecord(&next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrAttemptNotFound
			case errors.Is(err, ErrAttemptConflict):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
			}
		}
		rec.Revision = expected + 1
		return nil
	}
	return ErrAttemptConflict
}

func (s *AttemptStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return nil
}

func encodeAttemptRecord(rec *AttemptRecord) ([]byte, error) {
	if len(rec.Email) > 65535 || len(rec.UserID) > 65535 || len(rec.Verified) > 65535 {
		return nil, errors.New("attempt record field too long")
	}

	var flags byte
	if rec.Exhausted {
		flags |= attemptFlagExhausted
	}
	if rec.TrustDevice {
		flags |= attemptFlagTrustDevice
	}

	var buf bytes.Buffer
	buf.WriteByte(attemptRecordVersion)
	buf.WriteByte(rec.Step)
	buf.WriteByte(rec.Failures)
	buf.WriteByte(flags)
	buf.WriteByte(rec.Focus)
	buf.Write(rec.Cells[:])
	_ = binary.Write(&buf, binary.BigEndian, rec.Revision)
	_ = binary.Write(&buf, binary.BigEndian, rec.CreatedAt)
	writeString16(&buf, rec.Email)
	writeString16(&buf, rec.UserID)
	writeString16(&buf, rec.Verified)
	return buf.Bytes(), nil
}

func decodeAttemptRecord(data []byte) (*AttemptRecord, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != attemptRecordVersion {
		return nil, errors.New("invalid attempt record version")
	}

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	rec := &AttemptRecord{
		Step:        head[0],
		Failures:    head[1],
		Exhausted:   head[2]&attemptFlagExhausted != 0,
		TrustDevice: head[2]&attemptFlagTrustDevice != 0,
		Focus:       head[3],
	}
	if _, err := io.ReadFull(r, rec.Cells[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &rec.Revision); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if rec.Email, err = readString16(r); err != nil {
		return nil, err
	}
	if rec.UserID, err = readString16(r); err != nil {
		return nil, err
	}
	if rec.Verified, err = readString16(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes in attempt record")
	}
	return rec, nil
}

func writeString16(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
