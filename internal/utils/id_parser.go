// Package utils provides utility functions for issue ID parsing and resolution.
package utils

import (
	"context"
	"fmt"
	"strings"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

// ResolvePartialID resolves a potentially partial issue ID to a full ID.
// Supports:
// - Full IDs: "bd-a3f8e9" or "a3f8e9" → "bd-a3f8e9"
// - Partial IDs: "a3f8" → "bd-a3f8e9" (if unique match)
// - Hierarchical: "a3f8e9.1" → "bd-a3f8e9.1"
//
// Resolution order: exact match, prefix-normalized exact match, exact match
// of the hash portion across prefixes, then substring match. Tombstones are
// excluded from substring disambiguation so deleted issues don't shadow
// live ones.
//
// Returns an error wrapping storage.ErrNotFound when nothing matches, and
// storage.ErrAmbiguousID (listing the candidates) when several do.
func ResolvePartialID(ctx context.Context, store storage.Storage, input string) (string, error) {
	if store == nil {
		return "", fmt.Errorf("cannot resolve issue ID %q: storage is nil", input)
	}

	// Fast path: exact ID match, tombstones included so explicit full IDs
	// still resolve to their tombstone for inspection.
	exactFilter := types.IssueFilter{IDs: []string{input}, IncludeTombstones: true}
	if issues, err := store.SearchIssues(ctx, "", exactFilter); err == nil && len(issues) > 0 {
		return issues[0].ID, nil
	}

	prefix, err := store.GetConfig(ctx, "issue_prefix")
	if err != nil || prefix == "" {
		prefix = "bd"
	}
	prefixWithHyphen := prefix
	if !strings.HasSuffix(prefix, "-") {
		prefixWithHyphen = prefix + "-"
	}

	var normalizedID string
	switch {
	case strings.HasPrefix(input, prefixWithHyphen):
		normalizedID = input
	case looksLikePrefixedID(input):
		// Has a different prefix; use as-is for cross-prefix lookup
		normalizedID = input
	default:
		normalizedID = prefixWithHyphen + input
	}

	normalizedFilter := types.IssueFilter{IDs: []string{normalizedID}, IncludeTombstones: true}
	if issues, err := store.SearchIssues(ctx, "", normalizedFilter); err == nil && len(issues) > 0 {
		return issues[0].ID, nil
	}

	// Substring search over the hash portion. Uses SQL-level filtering
	// (LIKE %hash%) instead of loading every issue into memory.
	hashPart := strings.TrimPrefix(normalizedID, prefixWithHyphen)

	issues, err := store.SearchIssues(ctx, hashPart, types.IssueFilter{})
	if err != nil {
		return "", fmt.Errorf("failed to search issues: %w", err)
	}

	var matches []string
	var exactMatch string

	for _, issue := range issues {
		if issue.ID == input {
			exactMatch = issue.ID
			break
		}

		issueHash := HashPortion(issue.ID)

		// Exact hash match wins over substring matches
		if issueHash == hashPart {
			exactMatch = issue.ID
		}

		if strings.Contains(issueHash, hashPart) {
			matches = append(matches, issue.ID)
		}
	}

	if exactMatch != "" {
		return exactMatch, nil
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no issue matching %q", storage.ErrNotFound, input)
	}

	if len(matches) > 1 {
		return "", fmt.Errorf("%w: %q matches %d issues: %v (use more characters to disambiguate)",
			storage.ErrAmbiguousID, input, len(matches), matches)
	}

	return matches[0], nil
}

// ResolvePartialIDs resolves multiple potentially partial issue IDs.
func ResolvePartialIDs(ctx context.Context, store storage.Storage, inputs []string) ([]string, error) {
	var resolved []string
	for _, input := range inputs {
		fullID, err := ResolvePartialID(ctx, store, input)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, fullID)
	}
	return resolved, nil
}

// looksLikePrefixedID checks if input appears to already have a prefix.
// A prefixed ID has the format "prefix-hash" where prefix is 1-8 lowercase
// letters/numbers and hash is alphanumeric (potentially with dots for
// hierarchical IDs). Examples: "aap-4ar", "bd-a3f8e9", "myproject-abc.1"
func looksLikePrefixedID(input string) bool {
	idx := strings.Index(input, "-")
	if idx <= 0 || idx > 8 {
		return false
	}

	prefix := input[:idx]
	suffix := input[idx+1:]

	for _, c := range prefix {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}

	if len(suffix) == 0 {
		return false
	}
	first := rune(suffix[0])
	if !((first >= 'a' && first <= 'z') || (first >= '0' && first <= '9')) {
		return false
	}

	return true
}
