// Package pickup mints and checks the codes customers type at the machine.
package pickup

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

// Alphabet leaves out 0/O and 1/I so codes survive being read off a screen.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	MinLength     = 6
	MaxLength     = 10
	DefaultLength = 8
)

type Issuer struct {
	length int
}

func NewIssuer(length int) (*Issuer, error) {
	if length == 0 {
		length = DefaultLength
	}
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("pickup code length %d outside [%d,%d]", length, MinLength, MaxLength)
	}
	return &Issuer{length: length}, nil
}

func (i *Issuer) Length() int { return i.length }

// Issue draws a fresh code. Codes are scoped to one sale and are not
// checked for global uniqueness.
func (i *Issuer) Issue() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, i.length)
	for n := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("issue pickup code: %w", err)
		}
		b[n] = Alphabet[idx.Int64()]
	}
	return string(b), nil
}

// Verify is an exact, case-sensitive match against the sale's stored code.
// A sale without a code never verifies.
func (i *Issuer) Verify(sale domain.Sale, supplied string) bool {
	if sale.PickupCode == nil || *sale.PickupCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*sale.PickupCode), []byte(supplied)) == 1
}

// WellFormed reports whether code could have been produced by an Issuer.
func WellFormed(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for n := 0; n < len(code); n++ {
		if !inAlphabet(code[n]) {
			return false
		}
	}
	return true
}

func inAlphabet(c byte) bool {
	for n := 0; n < len(Alphabet); n++ {
		if Alphabet[n] == c {
			return true
		}
	}
	return false
}
