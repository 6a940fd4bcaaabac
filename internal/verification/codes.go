package verification

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// CodeSource produces a fresh code. Tests inject a deterministic one.
type CodeSource func() (string, error)

// RandomCode draws a uniform code from 000000..999999.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// NormalizeCode strips everything but digits and requires exactly CodeLength
// of them.
func NormalizeCode(raw string) (string, bool) {
	b := make([]byte, 0, CodeLength)
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b = append(b, c)
		}
	}
	if len(b) != CodeLength {
		return "", false
	}
	return string(b), true
}

// Hasher turns a code into a one-way digest and checks candidates against it.
type Hasher interface {
	Hash(code string) (string, error)
	Matches(hash, code string) bool
}

// BcryptHasher hashes codes with bcrypt at Cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(code string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(b), nil
}

func (h BcryptHasher) Matches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// equalCodes compares two plaintext codes in constant time.
func equalCodes(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
