package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Layout of an encoded record. The fixed header is read by the Lua scripts
// in redis.go, so offsets here and there must move together.
//
//	[0]      format version
//	[1:33]   refresh token hash
//	[33:41]  issued at, unix millis, big endian
//	[41:49]  expires at, unix millis, big endian
//	[49:]    user id, tenant id, ip, user agent; each a uint16 length + bytes
const (
	formatVersion = 1

	offsetHash      = 1
	offsetIssuedAt  = 33
	offsetExpiresAt = 41
	headerSize      = 49

	maxFieldLen = 1<<16 - 1
)

// ErrCorrupt is returned when a stored blob cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes r into the compact binary form stored in Redis.
// SessionID is not encoded; it is part of the key.
func Encode(r *Record) ([]byte, error) {
	fields := [...]string{r.UserID, r.TenantID, r.IP, r.UserAgent}
	size := headerSize
	for _, f := range fields {
		if len(f) > maxFieldLen {
			return nil, errors.New("session field too long")
		}
		size += 2 + len(f)
	}

	buf := make([]byte, size)
	buf[0] = formatVersion
	copy(buf[offsetHash:offsetIssuedAt], r.TokenHash[:])
	binary.BigEndian.PutUint64(buf[offsetIssuedAt:], uint64(r.IssuedAt.UnixMilli()))
	binary.BigEndian.PutUint64(buf[offsetExpiresAt:], uint64(r.ExpiresAt.UnixMilli()))

	idx := headerSize
	for _, f := range fields {
		binary.BigEndian.PutUint16(buf[idx:], uint16(len(f)))
		idx += 2
		idx += copy(buf[idx:], f)
	}

	return buf, nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Record, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if data[0] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, data[0])
	}

	r := &Record{}
	copy(r.TokenHash[:], data[offsetHash:offsetIssuedAt])
	r.IssuedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[offsetIssuedAt:])))
	r.ExpiresAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[offsetExpiresAt:])))

	idx := headerSize
	var fields [4]string
	for i := range fields {
		if len(data) < idx+2 {
			return nil, fmt.Errorf("%w: truncated field length", ErrCorrupt)
		}
		n := int(binary.BigEndian.Uint16(data[idx:]))
		idx += 2
		if len(data) < idx+n {
			return nil, fmt.Errorf("%w: truncated field", ErrCorrupt)
		}
		fields[i] = string(data[idx : idx+n])
		idx += n
	}
	if idx != len(data) {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorrupt)
	}

	r.UserID, r.TenantID, r.IP, r.UserAgent = fields[0], fields[1], fields[2], fields[3]
	if r.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrCorrupt)
	}
	return r, nil
}
