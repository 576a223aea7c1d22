package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jarvisproj/jarvis/internal/graph"
	"github.com/jarvisproj/jarvis/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleState() graph.State {
	state := graph.NewState(graph.ModeText)
	user := llm.NewUserMessage("你好")
	state.Messages = []llm.Message{user}
	state.CurrentRole = llm.RoleSmart
	state.Metadata["source"] = "test"
	return state
}

func TestSQLiteStoreGetLatestEmpty(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLatest(context.Background(), "missing")
	if !errors.Is(err, graph.ErrNoCheckpoint) {
		t.Errorf("err = %v, want ErrNoCheckpoint", err)
	}
}

func TestSQLiteStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp := graph.NewCheckpoint("t1", sampleState(), []string{graph.NodeTools})
	written, err := store.Put(ctx, cp)
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if written.Version != 1 {
		t.Errorf("first version = %d, want 1", written.Version)
	}

	got, err := store.GetLatest(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatest error = %v", err)
	}
	if got.ID != cp.ID {
		t.Errorf("ID = %q, want %q", got.ID, cp.ID)
	}
	if got.State.CurrentRole != llm.RoleSmart {
		t.Errorf("CurrentRole = %q, want smart", got.State.CurrentRole)
	}
	if len(got.State.Messages) != 1 || got.State.Messages[0].Content != "你好" {
		t.Errorf("messages = %+v", got.State.Messages)
	}
	if !got.NextIs(graph.NodeTools) {
		t.Errorf("Next = %v, want [tools]", got.Next)
	}
}

func TestSQLiteStoreVersionsAreMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		written, err := store.Put(ctx, graph.NewCheckpoint("t1", sampleState(), nil))
		if err != nil {
			t.Fatalf("Put %d error = %v", i, err)
		}
		if written.Version != int64(i+1) {
			t.Errorf("version = %d, want %d", written.Version, i+1)
		}
	}

	n, err := store.Versions(ctx, "t1")
	if err != nil {
		t.Fatalf("Versions error = %v", err)
	}
	if n != 3 {
		t.Errorf("Versions = %d, want 3", n)
	}
}

func TestSQLiteStoreThreadsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stateA := graph.NewState(graph.ModeText)
	stateA.CurrentRole = llm.RoleCoder
	stateB := graph.NewState(graph.ModeVoice)

	if _, err := store.Put(ctx, graph.NewCheckpoint("a", stateA, nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, graph.NewCheckpoint("b", stateB, nil)); err != nil {
		t.Fatal(err)
	}

	a, err := store.GetLatest(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if a.State.CurrentRole != llm.RoleCoder {
		t.Errorf("thread a role = %q, want coder", a.State.CurrentRole)
	}
	b, err := store.GetLatest(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if b.State.InteractionMode != graph.ModeVoice {
		t.Errorf("thread b mode = %q, want voice", b.State.InteractionMode)
	}
	if b.Version != 1 {
		t.Errorf("thread b version = %d, versions must not leak across threads", b.Version)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoints.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore error = %v", err)
	}
	cp := graph.NewCheckpoint("t1", sampleState(), []string{graph.NodeTools})
	if _, err := store.Put(ctx, cp); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetLatest(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatest after reopen error = %v", err)
	}
	if got.ID != cp.ID || !got.NextIs(graph.NodeTools) {
		t.Errorf("reopened checkpoint = %+v", got)
	}

	// The next write continues the version sequence.
	written, err := reopened.Put(ctx, graph.NewCheckpoint("t1", sampleState(), nil))
	if err != nil {
		t.Fatalf("Put after reopen error = %v", err)
	}
	if written.Version != 2 {
		t.Errorf("version after reopen = %d, want 2", written.Version)
	}
}

func TestSQLiteStorePrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Put(ctx, graph.NewCheckpoint("t1", sampleState(), nil)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Prune(ctx, "t1", 2); err != nil {
		t.Fatalf("Prune error = %v", err)
	}
	n, err := store.Versions(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Versions after prune = %d, want 2", n)
	}

	// The newest checkpoint is still the one GetLatest returns.
	got, err := store.GetLatest(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 5 {
		t.Errorf("latest version = %d, want 5", got.Version)
	}
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetLatest(ctx, "missing"); !errors.Is(err, graph.ErrNoCheckpoint) {
		t.Errorf("err = %v, want ErrNoCheckpoint", err)
	}

	first, err := store.Put(ctx, graph.NewCheckpoint("t1", sampleState(), []string{graph.NodeChatbot}))
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if first.Version != 1 {
		t.Errorf("version = %d, want 1", first.Version)
	}

	second, err := store.Put(ctx, graph.NewCheckpoint("t1", sampleState(), nil))
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if second.Version != 2 {
		t.Errorf("version = %d, want 2", second.Version)
	}

	got, err := store.GetLatest(ctx, "t1")
	if err != nil {
		t.Fatalf("GetLatest error = %v", err)
	}
	if got.Version != 2 || !got.Terminal() {
		t.Errorf("latest = %+v, want terminal version 2", got)
	}
	if store.Versions("t1") != 2 {
		t.Errorf("Versions = %d, want 2", store.Versions("t1"))
	}
}
