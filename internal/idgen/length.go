package idgen

import (
	"fmt"
	"math"
)

// Length selection defaults. The hash portion of an ID grows with the number
// of top-level issues so that the birthday-paradox collision probability stays
// at or below DefaultMaxCollisionProb (or the configured maximum).
const (
	DefaultMinLength        = 3
	DefaultMaxLength        = 8
	DefaultMaxCollisionProb = 0.25

	// FallbackLength is used when the collision probability computation fails.
	FallbackLength = 6

	// ExhaustedLength is the last-resort width when every length up to the
	// maximum is exhausted across all nonces.
	ExhaustedLength = 16

	// MaxNonce bounds the per-length collision retry loop (nonce 0..9).
	MaxNonce = 10
)

// CollisionProbability returns the birthday-paradox approximation
// n^2 / (2 * 36^length) for n issues sharing a base36 hash of the given length.
func CollisionProbability(issueCount, length int) (float64, error) {
	if length <= 0 {
		return 0, fmt.Errorf("invalid hash length %d", length)
	}
	space := math.Pow(36, float64(length))
	if math.IsInf(space, 0) || space <= 0 {
		return 0, fmt.Errorf("hash space overflow for length %d", length)
	}
	n := float64(issueCount)
	return n * n / (2 * space), nil
}

// AdaptiveLength chooses the smallest length in [minLength, maxLength] whose
// collision probability against issueCount existing top-level issues is at or
// below maxProb. Falls back to FallbackLength if the computation fails, and to
// maxLength when no length satisfies the bound (the caller's nonce/grow loop
// handles the rest).
func AdaptiveLength(issueCount, minLength, maxLength int, maxProb float64) int {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if maxLength < minLength {
		maxLength = DefaultMaxLength
	}
	if maxProb <= 0 || maxProb >= 1 {
		maxProb = DefaultMaxCollisionProb
	}

	for length := minLength; length <= maxLength; length++ {
		p, err := CollisionProbability(issueCount, length)
		if err != nil {
			return FallbackLength
		}
		if p <= maxProb {
			return length
		}
	}
	return maxLength
}
