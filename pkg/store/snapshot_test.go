package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/pkg/procedure"
	"github.com/ceedaragents/cyrus/pkg/session"
)

func sampleSnapshot() *Snapshot {
	s := &session.Session{
		ID:           "sess-1",
		ThreadType:   session.ThreadIssueRoot,
		Status:       session.StatusActive,
		Issue:        session.IssueRef{ID: "issue-1", Identifier: "CEE-7", Title: "Fix the thing"},
		RepositoryID: "repo-1",
		Workspace:    session.Workspace{Path: "/tmp/ws/CEE-7", IsWorktree: true},
		AgentToken:   "tok-1",
		Procedure: procedure.State{
			ProcedureName:     procedure.FullDevelopment,
			CurrentPhaseIndex: 1,
			History: []procedure.PhaseCompletion{
				{PhaseName: procedure.PhasePrimary, CompletedAt: time.Now().UTC(), AgentToken: "tok-1"},
			},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Entries: []session.Entry{
			{Kind: session.EntryThought, Payload: "thinking", Timestamp: time.Now().UTC()},
		},
	}
	return &Snapshot{
		ConfigPath: "/home/user/.cyrus/config.json",
		Sessions:   []*session.Session{s},
		ParentMap:  map[string]string{"child": "sess-1"},
	}
}

func TestStore_LoadMissing(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state", "snapshot.json"))
	snap, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state", "snapshot.json"))

	want := sampleSnapshot()
	require.NoError(t, st.Write(want))

	got, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, want.ConfigPath, got.ConfigPath)
	assert.Equal(t, want.ParentMap, got.ParentMap)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, want.Sessions[0].ID, got.Sessions[0].ID)
	assert.Equal(t, want.Sessions[0].Procedure, got.Sessions[0].Procedure)
	assert.Equal(t, want.Sessions[0].Entries, got.Sessions[0].Entries)
	// Pids never round-trip.
	assert.Zero(t, got.Sessions[0].AgentPID)
}

func TestStore_SerialiseIsStable(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, st.Write(sampleSnapshot()))

	first, err := os.ReadFile(st.Path())
	require.NoError(t, err)

	// Re-writing the loaded snapshot must produce identical bytes apart from
	// the savedAt stamp, which we pin before comparing.
	loaded, err := st.Load()
	require.NoError(t, err)

	var m1 map[string]any
	require.NoError(t, json.Unmarshal(first, &m1))
	delete(m1, "savedAt")

	require.NoError(t, st.Write(loaded))
	second, err := os.ReadFile(st.Path())
	require.NoError(t, err)
	var m2 map[string]any
	require.NoError(t, json.Unmarshal(second, &m2))
	delete(m2, "savedAt")

	assert.Equal(t, m1, m2)
}

func TestStore_QuarantinesCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	st := New(path)
	snap, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, snap, "corrupt snapshot treated as absent")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "snapshot.json.corrupt-")
}

func TestStore_QuarantinesWrongSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion": 99}`), 0o600))

	snap, err := New(path).Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStore_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st := New(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, st.Write(sampleSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot.json", entries[0].Name())
}

func TestWriter_CoalescesBursts(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "snapshot.json"))

	var mu sync.Mutex
	calls := 0
	w := NewWriter(st, func() *Snapshot {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond) // hold the writer busy
		return sampleSnapshot()
	})

	for i := 0; i < 50; i++ {
		w.Enqueue()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	w.Close(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
	assert.Less(t, calls, 50, "bursts must coalesce")

	snap, err := st.Load()
	require.NoError(t, err)
	assert.NotNil(t, snap, "final state flushed on close")
}

func TestWriter_EnqueueAfterCloseIsNoop(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "snapshot.json"))
	w := NewWriter(st, sampleSnapshot)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Close(ctx)

	assert.NotPanics(t, func() { w.Enqueue() })
}

func TestWriter_EnqueueRacingCloseDoesNotPanic(t *testing.T) {
	// Enqueue from handlers that outlive the shutdown wait must never send
	// on the closed kick channel.
	for i := 0; i < 200; i++ {
		st := New(filepath.Join(t.TempDir(), "snapshot.json"))
		w := NewWriter(st, sampleSnapshot)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 10; j++ {
					assert.NotPanics(t, w.Enqueue)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			w.Close(ctx)
		}()

		close(start)
		wg.Wait()
	}
}
