package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts a byte slice to a base36 string of specified length.
// Matches the algorithm used for bd hash IDs.
func EncodeBase36(data []byte, length int) string {
	// Convert bytes to big integer
	num := new(big.Int).SetBytes(data)

	// Convert to base36
	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	// Build the string in reverse
	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	// Reverse the string
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	// Pad with zeros if needed
	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}

	// Truncate to exact length if needed (keep least significant digits)
	if len(str) > length {
		str = str[len(str)-length:]
	}

	return str
}

// GenerateHashID creates a hash-based ID for an issue.
// Uses base36 encoding (0-9, a-z) for better information density than hex.
// The workspaceID salts the hash so identical titles created in different
// workspaces do not produce identical IDs. Include nonce to handle collisions.
func GenerateHashID(prefix, title, description, creator string, timestamp time.Time, nonce int, workspaceID string, length int) string {
	content := fmt.Sprintf("%s|%s|%s|%d|%d|%s", title, description, creator, timestamp.UnixNano(), nonce, workspaceID)

	hash := sha256.Sum256([]byte(content))

	// Determine how many bytes to use based on desired output length.
	// Each byte carries ~1.55 base36 chars; round up to keep the suffix dense.
	numBytes := length/2 + 2
	if numBytes > len(hash) {
		numBytes = len(hash)
	}

	shortHash := EncodeBase36(hash[:numBytes], length)

	return fmt.Sprintf("%s-%s", prefix, shortHash)
}
