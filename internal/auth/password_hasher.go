package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const timingEqualizerPassword = "jewelsketch-timing-equalizer"

var (
	// ErrInvalidHasherConfig reports a bcrypt cost outside the supported range.
	ErrInvalidHasherConfig = errors.New("auth: invalid password hasher config")
	// ErrPasswordTooLong reports a password longer than bcrypt can digest.
	ErrPasswordTooLong = errors.New("auth: password exceeds 72 bytes")
)

// PasswordHasher hashes and verifies local account passwords with bcrypt.
type PasswordHasher struct {
	cost        int
	dummyDigest []byte
}

// NewPasswordHasher constructs a hasher with the given bcrypt work factor.
// A zero cost selects bcrypt.DefaultCost.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: cost %d outside [%d, %d]", ErrInvalidHasherConfig, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummyDigest, err := bcrypt.GenerateFromPassword([]byte(timingEqualizerPassword), cost)
	if err != nil {
		return nil, err
	}
	return &PasswordHasher{cost: cost, dummyDigest: dummyDigest}, nil
}

// Hash returns a salted bcrypt digest of the plaintext.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", ErrPasswordTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. Mismatches and malformed digests return false.
func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// VerifyUnknown burns the same bcrypt work as Verify when there is no digest to compare against,
// so callers can keep "unknown account" indistinguishable from "wrong password".
func (h *PasswordHasher) VerifyUnknown(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyDigest, []byte(plaintext))
}
