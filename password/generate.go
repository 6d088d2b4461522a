package password

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	upperSet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerSet = "abcdefghijklmnopqrstuvwxyz"
	digitSet = "0123456789"
)

// Generate returns a random password of length n that satisfies p. It is
// used for administratively created accounts that must reset on first login.
func (p Policy) Generate(n int) (string, error) {
	if n < p.MinLength {
		n = p.MinLength
	}

	var required []string
	if p.RequireUpper {
		required = append(required, upperSet)
	}
	if p.RequireLower {
		required = append(required, lowerSet)
	}
	if p.RequireDigit {
		required = append(required, digitSet)
	}
	if p.RequireSymbol {
		required = append(required, p.symbols())
	}
	if n < len(required) {
		return "", errors.New("password: length too small for policy")
	}

	all := upperSet + lowerSet + digitSet + p.symbols()
	out := make([]byte, 0, n)
	for _, set := range required {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the required classes are not always leading.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		k := j.Int64()
		out[i], out[k] = out[k], out[i]
	}

	return string(out), nil
}

func pick(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[idx.Int64()], nil
}
