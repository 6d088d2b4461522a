package password

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultSymbols is the punctuation set that satisfies the symbol rule.
const DefaultSymbols = `!@#$%^&*(),.?":{}|<>`

// DefaultMinLength is the minimum password length in characters.
const DefaultMinLength = 8

// ErrWeakPassword matches every *WeakPasswordError via errors.Is.
var ErrWeakPassword = errors.New("password: weak password")

// Rule names a single strength requirement.
type Rule string

const (
	RuleMinLength Rule = "min_length"
	RuleUpper     Rule = "uppercase"
	RuleLower     Rule = "lowercase"
	RuleDigit     Rule = "digit"
	RuleSymbol    Rule = "symbol"
)

// Policy describes the strength rules checked before hashing.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	// Symbols overrides DefaultSymbols when non-empty.
	Symbols string
}

// DefaultPolicy requires 8 characters with at least one uppercase letter,
// one lowercase letter, one digit and one symbol from DefaultSymbols.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     DefaultMinLength,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
		Symbols:       DefaultSymbols,
	}
}

// WeakPasswordError lists every rule the candidate password failed.
type WeakPasswordError struct {
	Unmet     []Rule
	MinLength int
	Symbols   string
}

func (e *WeakPasswordError) Error() string {
	msgs := make([]string, 0, len(e.Unmet))
	for _, r := range e.Unmet {
		msgs = append(msgs, e.describe(r))
	}
	return "password: weak password: " + strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrWeakPassword) hold.
func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}

func (e *WeakPasswordError) describe(r Rule) string {
	switch r {
	case RuleMinLength:
		return "must be at least " + strconv.Itoa(e.MinLength) + " characters"
	case RuleUpper:
		return "must contain an uppercase letter"
	case RuleLower:
		return "must contain a lowercase letter"
	case RuleDigit:
		return "must contain a digit"
	case RuleSymbol:
		return "must contain one of " + e.Symbols
	default:
		return string(r)
	}
}

// Check returns nil when pw satisfies every rule, or a *WeakPasswordError
// naming all unmet rules. The letter and digit classes are ASCII only:
// "É" or "٣" count toward length but not toward upper or digit.
func (p Policy) Check(pw string) error {
	symbols := p.symbols()

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range pw {
		switch {
		case 'A' <= r && r <= 'Z':
			hasUpper = true
		case 'a' <= r && r <= 'z':
			hasLower = true
		case '0' <= r && r <= '9':
			hasDigit = true
		}
		if strings.ContainsRune(symbols, r) {
			hasSymbol = true
		}
	}

	var unmet []Rule
	if utf8.RuneCountInString(pw) < p.MinLength {
		unmet = append(unmet, RuleMinLength)
	}
	if p.RequireUpper && !hasUpper {
		unmet = append(unmet, RuleUpper)
	}
	if p.RequireLower && !hasLower {
		unmet = append(unmet, RuleLower)
	}
	if p.RequireDigit && !hasDigit {
		unmet = append(unmet, RuleDigit)
	}
	if p.RequireSymbol && !hasSymbol {
		unmet = append(unmet, RuleSymbol)
	}
	if len(unmet) == 0 {
		return nil
	}

	return &WeakPasswordError{Unmet: unmet, MinLength: p.MinLength, Symbols: symbols}
}

func (p Policy) symbols() string {
	if p.Symbols == "" {
		return DefaultSymbols
	}
	return p.Symbols
}

func (p Policy) isZero() bool {
	return p == Policy{}
}

func (p Policy) validate() error {
	if p.MinLength < 1 {
		return errors.New("password policy min length must be >= 1")
	}
	return nil
}
