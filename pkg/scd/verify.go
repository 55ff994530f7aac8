// pkg/scd/verify.go
package scd

import (
	"fmt"
	"sort"
)

// Integrity issue types reported by VerifyHistory
const (
	IssueMultipleCurrent = "multiple_current"
	IssueEmptyInterval   = "empty_interval"
	IssueOverlap         = "overlap"
	IssueGap             = "gap"
	IssueOpenNotLast     = "open_not_last"
)

// IntegrityIssue describes a broken interval invariant for one key
type IntegrityIssue struct {
	Key         string
	IssueType   string
	Description string
}

// VerifyHistory checks that a key's versions form non-overlapping, contiguous
// intervals with at most one open version, which must be the last. A gap is
// allowed only after a version ended by a delete.
func VerifyHistory(key string, history []Version) []IntegrityIssue {
	versions := append([]Version(nil), history...)
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].StartAt.Before(versions[j].StartAt)
	})

	var issues []IntegrityIssue
	report := func(kind, format string, args ...interface{}) {
		issues = append(issues, IntegrityIssue{
			Key:         key,
			IssueType:   kind,
			Description: fmt.Sprintf(format, args...),
		})
	}

	open := 0
	for i, v := range versions {
		if v.IsCurrent() {
			open++
			if i != len(versions)-1 {
				report(IssueOpenNotLast, "open version starting %s is followed by later versions", v.StartAt)
			}
		} else if !v.EndAt.After(v.StartAt) {
			report(IssueEmptyInterval, "version ends at %s, not after its start %s", *v.EndAt, v.StartAt)
		}

		if i == 0 || versions[i-1].IsCurrent() {
			continue
		}
		prevEnd := *versions[i-1].EndAt
		switch {
		case v.StartAt.Before(prevEnd):
			report(IssueOverlap, "version starting %s overlaps previous ending %s", v.StartAt, prevEnd)
		case v.StartAt.After(prevEnd) && !versions[i-1].EndedByDelete:
			report(IssueGap, "gap between %s and %s", prevEnd, v.StartAt)
		}
	}

	if open > 1 {
		report(IssueMultipleCurrent, "%d open versions", open)
	}
	return issues
}
