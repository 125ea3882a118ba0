package workspace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchNameFor_TrackerSuppliedWins(t *testing.T) {
	got := BranchNameFor(IssueInfo{
		Identifier: "CEE-7",
		Title:      "Something else entirely",
		BranchName: "cee-7-refactor-api",
	})
	assert.Equal(t, "cee-7-refactor-api", got)
}

func TestBranchNameFor_DerivedFromTitle(t *testing.T) {
	got := BranchNameFor(IssueInfo{Identifier: "CEE-42", Title: "Fix login redirect loop"})
	assert.Equal(t, "CEE-42-fix-login-redirect-loop", got)
}

func TestBranchNameFor_SlugTruncation(t *testing.T) {
	got := BranchNameFor(IssueInfo{
		Identifier: "CEE-1",
		Title:      "An exceedingly long issue title that keeps going well past the limit",
	})
	slug := strings.TrimPrefix(got, "CEE-1-")
	assert.LessOrEqual(t, len(slug), maxSlugLength)
	assert.False(t, strings.HasSuffix(got, "-"), "no trailing hyphen after truncation")
}

func TestBranchNameFor_NeverContainsBackticks(t *testing.T) {
	cases := []IssueInfo{
		{Identifier: "CEE-2", Title: "Run `rm -rf` carefully"},
		{Identifier: "CEE-3", BranchName: "cee-3-`evil`-branch"},
		{Identifier: "CEE-`4`", Title: "plain"},
	}
	for _, issue := range cases {
		assert.NotContains(t, BranchNameFor(issue), "`")
	}
}

func TestBranchNameFor_PunctuationCollapses(t *testing.T) {
	got := BranchNameFor(IssueInfo{Identifier: "CEE-9", Title: "  Weird!!  title -- with   spaces  "})
	assert.Equal(t, "CEE-9-weird-title-with-spaces", got)
}

func TestBranchNameFor_EmptyTitle(t *testing.T) {
	got := BranchNameFor(IssueInfo{Identifier: "CEE-10", Title: "???"})
	assert.Equal(t, "CEE-10", got)
}
