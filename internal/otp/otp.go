// Package otp generates and checks single-use ride start codes.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

type Generator interface {
	Generate() (string, error)
}

// Numeric produces zero-padded decimal codes of Digits length.
type Numeric struct {
	Digits int
}

func (n Numeric) Generate() (string, error) {
	digits := n.Digits
	if digits <= 0 {
		digits = 6
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, v), nil
}

// Equal compares a stored code with a supplied one in constant time. A consumed
// (empty) stored code never matches.
func Equal(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// Fixed always returns Code. Used by tests and local demos.
type Fixed string

func (f Fixed) Generate() (string, error) { return string(f), nil }
