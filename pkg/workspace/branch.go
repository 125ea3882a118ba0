package workspace

import (
	"strings"
	"unicode"
)

// maxSlugLength caps the title-derived part of generated branch names.
const maxSlugLength = 30

// BranchNameFor computes the branch name for an issue: the tracker-supplied
// branch name when present, otherwise "<identifier>-<slug(title)>".
// Backticks are stripped in either case as command-injection hygiene: branch
// names end up inside shell commands run by setup scripts and the agent.
func BranchNameFor(issue IssueInfo) string {
	if issue.BranchName != "" {
		return stripBackticks(issue.BranchName)
	}
	slug := slugify(issue.Title)
	if slug == "" {
		return stripBackticks(issue.Identifier)
	}
	return stripBackticks(issue.Identifier + "-" + slug)
}

func stripBackticks(s string) string {
	return strings.ReplaceAll(s, "`", "")
}

// slugify lowercases the title, maps runs of non-alphanumerics to single
// hyphens, and truncates to maxSlugLength without leaving a trailing hyphen.
func slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}
