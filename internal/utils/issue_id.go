package utils

import (
	"fmt"
	"strings"
)

// ExtractIssuePrefix extracts the prefix from an issue ID like "bd-a3f" -> "bd".
// Uses the last hyphen before a numeric or hash suffix:
//   - "beads-vscode-1" -> "beads-vscode" (numeric suffix)
//   - "web-app-a3f8e9" -> "web-app" (hash suffix)
//
// Only uses first hyphen for non-ID suffixes like "vc-baseline-test" -> "vc"
func ExtractIssuePrefix(issueID string) string {
	lastIdx := strings.LastIndex(issueID, "-")
	if lastIdx <= 0 {
		return ""
	}

	suffix := issueID[lastIdx+1:]
	if len(suffix) > 0 {
		// Strip hierarchical child numbering ("a3f.1.2" -> "a3f")
		hashPart := suffix
		if dotIdx := strings.Index(suffix, "."); dotIdx > 0 {
			hashPart = suffix[:dotIdx]
		}

		var num int
		if _, err := fmt.Sscanf(hashPart, "%d", &num); err == nil && isAllDigits(hashPart) {
			return issueID[:lastIdx]
		}

		if isLikelyHash(hashPart) {
			return issueID[:lastIdx]
		}
	}

	// Suffix is not numeric or hash-like, fall back to first hyphen
	firstIdx := strings.Index(issueID, "-")
	if firstIdx <= 0 {
		return ""
	}
	return issueID[:firstIdx]
}

// isLikelyHash checks if a string looks like a base36 hash ID suffix.
// Hash suffixes are 3-16 lowercase base36 characters (adaptive length
// scaling starts at 3 and falls back to 16 on exhaustion). Suffixes of four
// or more characters must contain a digit, so words like "test" are not taken
// for hashes; three-character suffixes may be all letters.
func isLikelyHash(s string) bool {
	if len(s) < 3 || len(s) > 16 {
		return false
	}
	hasDigit := false
	for _, c := range s {
		if c >= '0' && c <= '9' {
			hasDigit = true
		} else if c < 'a' || c > 'z' {
			return false
		}
	}
	return hasDigit || len(s) == 3
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// HashPortion returns the part of an issue ID after its prefix hyphen.
// IDs without a recognizable prefix are returned unchanged.
func HashPortion(issueID string) string {
	if idx := strings.Index(issueID, "-"); idx >= 0 {
		return issueID[idx+1:]
	}
	return issueID
}

// ContainsIDToken reports whether text contains issueID as a standalone token.
// Boundary-aware so that "bd-1" does not match inside "bd-10" or "bd-1a":
// the characters adjacent to the match must not be ID characters
// (alphanumerics, '-' or '.').
func ContainsIDToken(text, issueID string) bool {
	return indexIDToken(text, issueID, 0) >= 0
}

// ReplaceIDTokens replaces every standalone occurrence of oldID in text with
// newID, using the same token-boundary rules as ContainsIDToken.
func ReplaceIDTokens(text, oldID, newID string) string {
	if oldID == "" || !strings.Contains(text, oldID) {
		return text
	}
	var b strings.Builder
	start := 0
	for {
		idx := indexIDToken(text, oldID, start)
		if idx < 0 {
			b.WriteString(text[start:])
			return b.String()
		}
		b.WriteString(text[start:idx])
		b.WriteString(newID)
		start = idx + len(oldID)
	}
}

func indexIDToken(text, id string, from int) int {
	for {
		idx := strings.Index(text[from:], id)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(id)
		if (idx == 0 || !isIDChar(text[idx-1])) && (end == len(text) || !isIDChar(text[end])) {
			return idx
		}
		from = idx + 1
	}
}

func isIDChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '-' || c == '.'
}
