package importer

import (
	"strings"

	"github.com/juanlu12332/beads/internal/types"
	"github.com/juanlu12332/beads/internal/utils"
)

// RenamePrefixes rewrites every issue whose prefix differs from target to
// carry the target prefix, and rewrites all textual references to the old
// IDs across the batch: titles, descriptions, design, acceptance criteria,
// notes, comment text, and dependency endpoints. Matching is token-boundary
// aware so bd-1 never rewrites inside bd-10.
//
// Returns the old→new ID mapping.
func RenamePrefixes(issues []*types.Issue, target string) map[string]string {
	mapping := make(map[string]string)

	for _, issue := range issues {
		prefix := utils.ExtractIssuePrefix(issue.ID)
		if prefix == "" || prefix == target {
			continue
		}
		hash := strings.TrimPrefix(issue.ID, prefix+"-")
		newID := target + "-" + hash
		mapping[issue.ID] = newID
	}

	if len(mapping) == 0 {
		return mapping
	}

	for _, issue := range issues {
		if newID, ok := mapping[issue.ID]; ok {
			issue.ID = newID
		}

		for oldID, newID := range mapping {
			issue.Title = utils.ReplaceIDTokens(issue.Title, oldID, newID)
			issue.Description = utils.ReplaceIDTokens(issue.Description, oldID, newID)
			issue.Design = utils.ReplaceIDTokens(issue.Design, oldID, newID)
			issue.AcceptanceCriteria = utils.ReplaceIDTokens(issue.AcceptanceCriteria, oldID, newID)
			issue.Notes = utils.ReplaceIDTokens(issue.Notes, oldID, newID)
		}

		for _, dep := range issue.Dependencies {
			if newID, ok := mapping[dep.IssueID]; ok {
				dep.IssueID = newID
			}
			if newID, ok := mapping[dep.DependsOnID]; ok {
				dep.DependsOnID = newID
			}
		}

		for _, comment := range issue.Comments {
			if newID, ok := mapping[comment.IssueID]; ok {
				comment.IssueID = newID
			}
			for oldID, newID := range mapping {
				comment.Text = utils.ReplaceIDTokens(comment.Text, oldID, newID)
			}
		}

		// Identity and references changed; the stale hash must not leak into
		// phase-1 matching
		issue.ContentHash = issue.ComputeContentHash()
	}

	return mapping
}
