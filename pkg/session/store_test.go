package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, repo, issueID string) *Session {
	return &Session{
		ID:           id,
		ThreadType:   ThreadIssueRoot,
		Status:       StatusActive,
		Issue:        IssueRef{ID: issueID, Identifier: "CEE-1"},
		RepositoryID: repo,
	}
}

func TestStore_AddAndGet(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Add(newSession("s1", "r1", "i1")))

	got, ok := st.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)

	assert.Error(t, st.Add(newSession("s1", "r1", "i1")), "duplicate id rejected")
}

func TestStore_IssueIndex(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Add(newSession("s2", "r1", "i1")))
	require.NoError(t, st.Add(newSession("s1", "r1", "i1")))
	require.NoError(t, st.Add(newSession("s3", "r1", "i2")))
	require.NoError(t, st.Add(newSession("s4", "r2", "i1")))

	assert.Equal(t, []string{"s1", "s2"}, st.ForIssue("r1", "i1"))
	assert.Equal(t, []string{"s3"}, st.ForIssue("r1", "i2"))
	assert.Empty(t, st.ForIssue("r9", "i1"))
}

func TestStore_AgentTokenIndex(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Add(newSession("s1", "r1", "i1")))

	st.SetAgentToken("s1", "tok-a")
	got, ok := st.GetByAgentToken("tok-a")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)

	// Rebinding clears the old token.
	st.SetAgentToken("s1", "tok-b")
	_, ok = st.GetByAgentToken("tok-a")
	assert.False(t, ok)
	got, ok = st.GetByAgentToken("tok-b")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)

	st.SetAgentToken("s1", "")
	_, ok = st.GetByAgentToken("tok-b")
	assert.False(t, ok)
}

func TestStore_Remove(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Add(newSession("s1", "r1", "i1")))
	st.SetAgentToken("s1", "tok")

	st.Remove("s1")
	_, ok := st.Get("s1")
	assert.False(t, ok)
	_, ok = st.GetByAgentToken("tok")
	assert.False(t, ok)
	assert.Empty(t, st.ForIssue("r1", "i1"))
}

func TestStore_ParentLinks(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Add(newSession("parent", "r1", "i1")))
	require.NoError(t, st.Add(newSession("child", "r1", "i1")))
	require.NoError(t, st.Add(newSession("grandchild", "r1", "i1")))

	require.NoError(t, st.LinkChild("child", "parent"))
	require.NoError(t, st.LinkChild("grandchild", "child"))

	p, ok := st.Parent("child")
	require.True(t, ok)
	assert.Equal(t, "parent", p)

	// Cycles rejected.
	assert.Error(t, st.LinkChild("parent", "grandchild"))
	assert.Error(t, st.LinkChild("parent", "parent"))

	assert.Equal(t, []string{"child"}, st.ChildrenOf("parent"))
	assert.Equal(t, []string{"grandchild"}, st.ChildrenOf("child"))
	assert.Empty(t, st.ChildrenOf("grandchild"))

	st.DropChildrenOf("parent")
	_, ok = st.Parent("child")
	assert.False(t, ok)
	assert.Empty(t, st.ChildrenOf("parent"))
	_, ok = st.Parent("grandchild")
	assert.True(t, ok, "links to other parents untouched")
}

func TestStore_IDsSorted(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Add(newSession("s3", "r1", "i1")))
	require.NoError(t, st.Add(newSession("s1", "r1", "i2")))
	require.NoError(t, st.Add(newSession("s2", "r2", "i1")))

	assert.Equal(t, []string{"s1", "s2", "s3"}, st.IDs())

	st.Remove("s2")
	assert.Equal(t, []string{"s1", "s3"}, st.IDs())
}

func TestStore_RestoreRebuildsIndexes(t *testing.T) {
	s1 := newSession("s1", "r1", "i1")
	s1.AgentToken = "tok-1"
	s2 := newSession("s2", "r1", "i1")

	st := NewStore()
	st.Restore([]*Session{s1, s2}, map[string]string{
		"s2":     "s1",
		"orphan": "s1", // dangling entries dropped
	})

	got, ok := st.GetByAgentToken("tok-1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, []string{"s1", "s2"}, st.ForIssue("r1", "i1"))

	p, ok := st.Parent("s2")
	require.True(t, ok)
	assert.Equal(t, "s1", p)
	_, ok = st.Parent("orphan")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"s2": "s1"}, st.ParentMap())
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := newSession("s1", "r1", "i1")
	s.AppendEntry(EntryThought, "first")

	dup := s.Clone()
	dup.AppendEntry(EntryResponse, "second")

	assert.Len(t, s.Entries, 1)
	assert.Len(t, dup.Entries, 2)
}
