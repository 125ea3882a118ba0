package session

import (
	"fmt"
	"sort"
	"sync"
)

// issueKey indexes sessions by (repository, issue).
type issueKey struct {
	repoID  string
	issueID string
}

// Store is the in-memory session index. The primary map is bySessionID;
// byIssue and byAgentToken are secondary indexes rebuilt from the primary on
// restore. The store guards only its own maps; field-level mutation of a
// Session happens under the orchestrator's per-session lock.
type Store struct {
	mu sync.RWMutex

	bySessionID  map[string]*Session
	byIssue      map[issueKey]map[string]struct{}
	byAgentToken map[string]string // agent token → session id

	// parents maps child session id → parent session id. Entries are added
	// when a parent phase spawns a sub-session and removed when the parent
	// session itself ends.
	parents map[string]string
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		bySessionID:  make(map[string]*Session),
		byIssue:      make(map[issueKey]map[string]struct{}),
		byAgentToken: make(map[string]string),
		parents:      make(map[string]string),
	}
}

// Add inserts a session. Fails if the id is already present.
func (st *Store) Add(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.bySessionID[s.ID]; exists {
		return fmt.Errorf("session already exists: %s", s.ID)
	}
	st.bySessionID[s.ID] = s
	st.indexLocked(s)
	return nil
}

// Get returns the session with the given id.
func (st *Store) Get(sessionID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.bySessionID[sessionID]
	return s, ok
}

// GetByAgentToken resolves the session currently bound to an agent token.
func (st *Store) GetByAgentToken(token string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byAgentToken[token]
	if !ok {
		return nil, false
	}
	s, ok := st.bySessionID[id]
	return s, ok
}

// ForIssue returns the ids of every session on one issue, sorted for
// deterministic iteration.
func (st *Store) ForIssue(repoID, issueID string) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.byIssue[issueKey{repoID, issueID}]))
	for id := range st.byIssue[issueKey{repoID, issueID}] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetAgentToken rebinds the agent-token index for a session. An empty token
// only clears the previous binding.
func (st *Store) SetAgentToken(sessionID, token string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.bySessionID[sessionID]
	if !ok {
		return
	}
	if s.AgentToken != "" {
		delete(st.byAgentToken, s.AgentToken)
	}
	s.AgentToken = token
	if token != "" {
		st.byAgentToken[token] = sessionID
	}
}

// Remove deletes a session and its index entries.
func (st *Store) Remove(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.bySessionID[sessionID]
	if !ok {
		return
	}
	delete(st.bySessionID, sessionID)
	key := issueKey{s.RepositoryID, s.Issue.ID}
	if set, ok := st.byIssue[key]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(st.byIssue, key)
		}
	}
	if s.AgentToken != "" {
		delete(st.byAgentToken, s.AgentToken)
	}
	delete(st.parents, sessionID)
}

// IDs returns every session id, sorted.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.bySessionID))
	for id := range st.bySessionID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns deep copies of every session, sorted by id. Callers must
// guarantee no session is being mutated concurrently; the orchestrator
// snapshots via per-session locks instead.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.bySessionID))
	for _, s := range st.bySessionID {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LinkChild records child → parent. Both sessions must exist in the store
// and the link must not introduce a cycle.
func (st *Store) LinkChild(childID, parentID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.bySessionID[childID]; !ok {
		return fmt.Errorf("unknown child session: %s", childID)
	}
	if _, ok := st.bySessionID[parentID]; !ok {
		return fmt.Errorf("unknown parent session: %s", parentID)
	}
	// Walk up from the proposed parent; hitting the child means a cycle.
	for cur := parentID; cur != ""; cur = st.parents[cur] {
		if cur == childID {
			return fmt.Errorf("parent link would create a cycle: %s -> %s", childID, parentID)
		}
	}
	st.parents[childID] = parentID
	if s, ok := st.bySessionID[childID]; ok {
		s.ParentSessionID = parentID
	}
	return nil
}

// Parent returns the parent session id of a child, if linked.
func (st *Store) Parent(childID string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.parents[childID]
	return p, ok
}

// ChildrenOf returns the ids of every child linked to a parent, sorted.
func (st *Store) ChildrenOf(parentID string) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []string
	for child, parent := range st.parents {
		if parent == parentID {
			out = append(out, child)
		}
	}
	sort.Strings(out)
	return out
}

// DropChildrenOf removes every child link pointing at the given parent.
// Called when the parent session ends.
func (st *Store) DropChildrenOf(parentID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for child, parent := range st.parents {
		if parent == parentID {
			delete(st.parents, child)
		}
	}
}

// ParentMap returns a copy of the child → parent map for the snapshot.
func (st *Store) ParentMap() map[string]string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]string, len(st.parents))
	for k, v := range st.parents {
		out[k] = v
	}
	return out
}

// Restore replaces the store contents with the given sessions and parent
// map. Secondary indexes are rebuilt from the primary.
func (st *Store) Restore(sessions []*Session, parents map[string]string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.bySessionID = make(map[string]*Session, len(sessions))
	st.byIssue = make(map[issueKey]map[string]struct{})
	st.byAgentToken = make(map[string]string)
	st.parents = make(map[string]string, len(parents))

	for _, s := range sessions {
		st.bySessionID[s.ID] = s
		st.indexLocked(s)
	}
	for child, parent := range parents {
		if _, ok := st.bySessionID[child]; !ok {
			continue
		}
		if _, ok := st.bySessionID[parent]; !ok {
			continue
		}
		st.parents[child] = parent
	}
}

func (st *Store) indexLocked(s *Session) {
	key := issueKey{s.RepositoryID, s.Issue.ID}
	if st.byIssue[key] == nil {
		st.byIssue[key] = make(map[string]struct{})
	}
	st.byIssue[key][s.ID] = struct{}{}
	if s.AgentToken != "" {
		st.byAgentToken[s.AgentToken] = s.ID
	}
}
