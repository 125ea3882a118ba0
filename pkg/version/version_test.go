package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommit(t *testing.T) {
	orig := commit
	t.Cleanup(func() { commit = orig })

	commit = "0123456789abcdef"
	assert.Equal(t, "01234567", resolveCommit(), "long hashes abbreviate to 8")

	commit = "abc123"
	assert.Equal(t, "abc123", resolveCommit(), "short values pass through")
}

func TestFull(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), AppName+"/"))
}
