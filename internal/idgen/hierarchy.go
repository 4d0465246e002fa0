package idgen

import (
	"fmt"
	"strings"
)

// DefaultHierarchyMaxDepth bounds dot-separated child nesting (bd-a3f8e9.1.2).
const DefaultHierarchyMaxDepth = 3

// ChildID forms a hierarchical child ID from a parent ID and child number.
func ChildID(parentID string, n int) string {
	return fmt.Sprintf("%s.%d", parentID, n)
}

// IsHierarchicalID reports whether the ID has a parent, and returns the parent
// ID if so. Prefixes may themselves contain dots, so the parent boundary is the
// LAST dot that precedes a purely numeric suffix chain: "web.app-x1.2" has
// parent "web.app-x1", while "web.app-x1" itself has none.
func IsHierarchicalID(id string) (bool, string) {
	lastDot := strings.LastIndex(id, ".")
	if lastDot < 0 {
		return false, ""
	}
	suffix := id[lastDot+1:]
	if suffix == "" || !isAllDigits(suffix) {
		return false, ""
	}
	return true, id[:lastDot]
}

// Depth returns the hierarchy depth of an ID: 0 for a top-level issue,
// 1 for its direct child, and so on. Only numeric dot-suffixes count;
// dots inside the prefix do not contribute.
func Depth(id string) int {
	depth := 0
	for {
		isChild, parent := IsHierarchicalID(id)
		if !isChild {
			return depth
		}
		depth++
		id = parent
	}
}

// RootID strips all numeric child suffixes, returning the top-level ancestor.
func RootID(id string) string {
	for {
		isChild, parent := IsHierarchicalID(id)
		if !isChild {
			return id
		}
		id = parent
	}
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
