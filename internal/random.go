package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ChallengeID identifies a short-lived challenge record (password reset,
// email verification).
type ChallengeID [16]byte

const (
	challengeSecretSize   = 32
	challengeTokenRawSize = 16 + challengeSecretSize
)

var (
	errChallengeIDSize    = errors.New("invalid challenge id size")
	errChallengeTokenSize = errors.New("invalid challenge token size")
)

func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func ParseChallengeID(s string) (ChallengeID, error) {
	var id ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errChallengeIDSize
	}

	copy(id[:], raw)
	return id, nil
}

func NewSecret() ([challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [challengeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashToken is the digest under which a bearer token is persisted. The raw
// token is never stored.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// EncodeChallengeToken packs id and secret into the opaque string handed to
// the user.
func EncodeChallengeToken(id string, secret [challengeSecretSize]byte) (string, error) {
	cid, err := ParseChallengeID(id)
	if err != nil {
		return "", err
	}

	var raw [challengeTokenRawSize]byte
	copy(raw[:len(cid)], cid[:])
	copy(raw[len(cid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeChallengeToken(token string) (string, [challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != challengeTokenRawSize {
		return "", secret, errChallengeTokenSize
	}

	var id ChallengeID
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id.String(), secret, nil
}

// NewChallengeToken returns a fresh challenge id, the token that carries it,
// and the hash of the secret half.
func NewChallengeToken() (id, token string, secretHash [32]byte, err error) {
	cid, err := NewChallengeID()
	if err != nil {
		return "", "", secretHash, err
	}
	secret, err := NewSecret()
	if err != nil {
		return "", "", secretHash, err
	}
	token, err = EncodeChallengeToken(cid.String(), secret)
	if err != nil {
		return "", "", secretHash, err
	}
	return cid.String(), token, HashSecret(secret), nil
}
