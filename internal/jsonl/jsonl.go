// Package jsonl implements the line-delimited codec for the textual mirror:
// one JSON object per line, UTF-8, terminating newline after each record.
package jsonl

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/juanlu12332/beads/internal/storage"
	"github.com/juanlu12332/beads/internal/types"
)

// maxLineBytes allows very large descriptions without Scanner overflow.
const maxLineBytes = 64 * 1024 * 1024

// ParseReader parses issues from a JSONL stream. Any line beginning with a
// merge conflict marker aborts the whole parse before a single record is
// produced; any JSON error aborts likewise. Markers are detected on raw bytes
// before JSON decoding to avoid false positives when issue content contains
// those strings.
func ParseReader(r io.Reader, name string) ([]*types.Issue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)

	var issues []*types.Issue
	lineNum := 0
	seenIDs := make(map[string]int)

	for scanner.Scan() {
		lineNum++
		rawLine := scanner.Bytes()
		trimmed := bytes.TrimSpace(rawLine)
		if len(trimmed) == 0 {
			continue
		}

		if bytes.HasPrefix(trimmed, []byte("<<<<<<<")) ||
			bytes.HasPrefix(trimmed, []byte("=======")) ||
			bytes.HasPrefix(trimmed, []byte(">>>>>>>")) {
			return nil, fmt.Errorf("%w: merge conflict markers in %s (line %d); resolve the conflict before importing",
				storage.ErrCorruptInput, name, lineNum)
		}

		var issue types.Issue
		if err := json.Unmarshal(trimmed, &issue); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", storage.ErrCorruptInput, name, lineNum, err)
		}
		if issue.ID == "" {
			return nil, fmt.Errorf("%w: %s line %d: record has no id", storage.ErrCorruptInput, name, lineNum)
		}
		if prev, dup := seenIDs[issue.ID]; dup {
			return nil, fmt.Errorf("%w: %s line %d: duplicate id %s (first at line %d)",
				storage.ErrCorruptInput, name, lineNum, issue.ID, prev)
		}
		seenIDs[issue.ID] = lineNum

		issue.SetDefaults()
		issues = append(issues, &issue)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanning %s: %v", storage.ErrCorruptInput, name, err)
	}

	return issues, nil
}

// ParseFile parses the mirror file at path. A missing file yields an empty
// slice, not an error.
func ParseFile(path string) ([]*types.Issue, error) {
	f, err := os.Open(path) // #nosec G304 - path validated by caller
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f, path)
}

// WriteIssues serializes issues to the writer, one JSON object per line.
// HTML escaping of <, >, & is disabled so text fields survive round trips
// byte-for-byte. content_hash never appears: the field is internal and its
// JSON tag hides it.
func WriteIssues(w io.Writer, issues []*types.Issue) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	for _, issue := range issues {
		if err := encoder.Encode(issue); err != nil {
			return fmt.Errorf("failed to encode issue %s: %w", issue.ID, err)
		}
	}
	return nil
}

// CountIssues counts the non-empty lines of the mirror file.
func CountIssues(path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 - path validated by caller
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)
	count := 0
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			count++
		}
	}
	return count, scanner.Err()
}

// ComputeFileHash computes the SHA256 of a mirror file's content,
// hex-encoded. Used for staleness detection and the integrity guard.
func ComputeFileHash(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path validated by caller
	if err != nil {
		return "", err
	}
	hasher := sha256.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
