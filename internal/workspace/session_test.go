package workspace

import (
	"context"
	stderrors "errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/canopy/internal/config"
	"github.com/hpungsan/canopy/internal/db"
	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/ops"
	"github.com/hpungsan/canopy/internal/tree"
)

// memStore is an in-memory Store with switchable failures.
type memStore struct {
	mu        sync.Mutex
	tree      *tree.Tree
	settings  *db.Settings
	saves     int
	failSave  bool
	failLoad  bool
	saveDelay time.Duration
}

func (m *memStore) LoadTree(context.Context) (*tree.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return nil, stderrors.New("disk unavailable")
	}
	return m.tree, nil
}

func (m *memStore) SaveTree(_ context.Context, t *tree.Tree) error {
	time.Sleep(m.saveDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return stderrors.New("quota exceeded")
	}
	m.tree = t
	m.saves++
	return nil
}

func (m *memStore) LoadSettings(context.Context) (*db.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *memStore) SaveSettings(_ context.Context, st *db.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *st
	m.settings = &c
	return nil
}

func (m *memStore) snapshot() (*tree.Tree, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree, m.saves
}

func (m *memStore) setFailSave(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = v
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SaveDebounceMillis = 10
	return cfg
}

func openSession(t *testing.T, store Store, opts ...Option) *Session {
	t.Helper()
	s, err := Open(context.Background(), store, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpen_Defaults(t *testing.T) {
	s := openSession(t, nil)

	require.True(t, tree.Equal(tree.Default(), s.Snapshot()))
	require.Equal(t, []string{"readme"}, s.Tabs())
	require.Equal(t, "readme", s.Active())
	require.Equal(t, 1, s.HistoryState().Len)
	require.Equal(t, "dark", s.Settings().Theme)
	require.Equal(t, "gpt-4o", s.Settings().Model)
	require.Equal(t, SyncIdle, s.SyncStatus().State)
}

func TestOpen_LoadsStoredState(t *testing.T) {
	stored, id := tree.New().AddFile("index.html", "<p>", "")
	store := &memStore{tree: stored, settings: &db.Settings{Theme: "light"}}

	s := openSession(t, store)
	require.True(t, tree.Equal(stored, s.Snapshot()))
	require.Equal(t, id, s.Active())
	require.Equal(t, "light", s.Settings().Theme)
	require.Equal(t, "gpt-4o", s.Settings().Model, "missing fields keep defaults")
}

func TestOpen_StoreOffline(t *testing.T) {
	s := openSession(t, &memStore{failLoad: true})

	require.True(t, tree.Equal(tree.Default(), s.Snapshot()))
	st := s.SyncStatus()
	require.Equal(t, SyncError, st.State)
	require.Equal(t, ErrStorageOffline, st.Error)
}

func TestOpen_StoreOfflineKeepsStoredTree(t *testing.T) {
	stored, _ := tree.New().AddFile("precious.html", "<h1>keep</h1>", tree.RootID)
	store := &memStore{tree: stored, failLoad: true}
	s, err := Open(context.Background(), store, testConfig())
	require.NoError(t, err)

	store.mu.Lock()
	store.failLoad = false
	store.mu.Unlock()

	_, err = s.CreateFile("draft.js", "")
	require.NoError(t, err)
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	got, saves := store.snapshot()
	require.Zero(t, saves)
	require.Same(t, stored, got)
	require.Equal(t, ErrStorageOffline, s.SyncStatus().Error)
}

func TestOpen_StoreOfflineRestoreResumesSaving(t *testing.T) {
	stored, _ := tree.New().AddFile("precious.html", "<h1>keep</h1>", tree.RootID)
	store := &memStore{tree: stored, failLoad: true}
	s := openSession(t, store)

	backup, _ := tree.New().AddFile("backup.html", "<p>restored</p>", tree.RootID)
	require.NoError(t, s.Restore(backup))
	require.NoError(t, s.Flush(context.Background()))

	got, saves := store.snapshot()
	require.GreaterOrEqual(t, saves, 1)
	require.NotNil(t, got.FindFileByName("backup.html"))
	require.Empty(t, s.SyncStatus().Error)
}

func TestSession_CreateAndDelete(t *testing.T) {
	s := openSession(t, nil)

	folder, err := s.CreateFolder("src", "")
	require.NoError(t, err)
	file, err := s.CreateFile("app.js", folder)
	require.NoError(t, err)
	require.Equal(t, file, s.Active())
	require.Contains(t, s.Tabs(), file)

	_, err = s.CreateFile("x", file)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	removed, err := s.Delete(folder)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{folder, file}, removed)
	require.NotContains(t, s.Tabs(), file)
	require.Empty(t, s.Active())

	_, err = s.Delete(tree.RootID)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = s.Delete("missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSession_RenameMoveToggle(t *testing.T) {
	s := openSession(t, nil)
	folder, _ := s.CreateFolder("lib", "")

	require.NoError(t, s.Rename("mainjs", "index.js"))
	require.Equal(t, "index.js", s.Snapshot().Get("mainjs").Name)
	require.True(t, errors.Is(s.Rename("mainjs", ""), errors.ErrInvalidRequest))
	require.True(t, errors.Is(s.Rename("ghost", "x"), errors.ErrNotFound))

	require.NoError(t, s.Move("mainjs", folder))
	require.Equal(t, "lib/index.js", s.Snapshot().Path("mainjs"))
	require.NoError(t, s.Move("mainjs", folder), "move to current parent is a no-op")
	require.True(t, errors.Is(s.Move(folder, "mainjs"), errors.ErrInvalidRequest))

	before := s.HistoryState().Len
	require.NoError(t, s.ToggleOpen(folder))
	require.False(t, s.Snapshot().Get(folder).IsOpen)
	require.Equal(t, before, s.HistoryState().Len, "toggle is not recorded")
	require.True(t, errors.Is(s.ToggleOpen("mainjs"), errors.ErrNotFound))
}

func TestSession_BatchIsOneHistoryEntry(t *testing.T) {
	s := openSession(t, nil)
	before := s.Snapshot()
	lenBefore := s.HistoryState().Len

	affected := s.ApplyOperations([]ops.FileOperation{
		{Path: "main.js", Content: "updated"},
		{Path: "index.html", Content: "<html>"},
		{Path: "style.css", Content: "body{}"},
	})

	require.Len(t, affected, 3)
	require.Equal(t, lenBefore+1, s.HistoryState().Len)
	for _, id := range affected {
		require.Contains(t, s.Tabs(), id)
	}
	require.Equal(t, "readme", s.Active(), "active file unchanged")

	require.True(t, s.Undo())
	require.True(t, tree.Equal(before, s.Snapshot()), "one undo reverts the whole batch")
	require.Equal(t, []string{"readme", "mainjs"}, s.Tabs(), "tabs for removed files closed")
}

func TestSession_UndoRedoDoNotRecord(t *testing.T) {
	s := openSession(t, nil)
	_, _ = s.CreateFile("a.js", "")
	_, _ = s.CreateFile("b.js", "")
	after := s.Snapshot()

	require.True(t, s.Undo())
	require.True(t, s.Undo())
	require.False(t, s.Undo())
	require.Equal(t, 3, s.HistoryState().Len, "replayed states are not recorded")
	require.True(t, tree.Equal(tree.Default(), s.Snapshot()))

	require.True(t, s.Redo())
	require.True(t, s.Redo())
	require.False(t, s.Redo())
	require.Same(t, after, s.Snapshot())

	// New change after undo discards the redo branch
	require.True(t, s.Undo())
	_, _ = s.CreateFolder("f", "")
	require.False(t, s.HistoryState().CanRedo)
}

func TestSession_EditIsNotRecordedUntilCheckpoint(t *testing.T) {
	s := openSession(t, nil)
	lenBefore := s.HistoryState().Len

	require.NoError(t, s.Edit("mainjs", "one"))
	require.NoError(t, s.Edit("mainjs", "two"))
	require.Equal(t, lenBefore, s.HistoryState().Len)
	require.True(t, errors.Is(s.Edit(tree.RootID, "x"), errors.ErrNotFound))

	require.True(t, s.Checkpoint())
	require.False(t, s.Checkpoint(), "nothing new to record")
	require.Equal(t, lenBefore+1, s.HistoryState().Len)

	require.True(t, s.Undo())
	require.Equal(t, `console.log("Canopy engine online.");`, s.Snapshot().Get("mainjs").Content)

	require.NoError(t, s.Write("mainjs", "three"))
	require.Equal(t, lenBefore+1, s.HistoryState().Len)
}

func TestSession_Import(t *testing.T) {
	s := openSession(t, nil)
	lenBefore := s.HistoryState().Len

	ids := s.Import([]ops.ImportFile{{Name: "a.css", Content: "a"}, {Name: "b.js", Content: "b"}})
	require.Len(t, ids, 2)
	require.Equal(t, lenBefore+1, s.HistoryState().Len)
}

func TestSession_Restore(t *testing.T) {
	s := openSession(t, nil)
	s.CloseTab("readme")
	backup, id := tree.New().AddFile("only.txt", "x", "")

	require.NoError(t, s.Restore(backup))
	require.Same(t, backup, s.Snapshot())
	require.Equal(t, id, s.Active())
	require.True(t, s.Undo())
	require.True(t, tree.Equal(tree.Default(), s.Snapshot()))
}

func TestSession_Tabs(t *testing.T) {
	s := openSession(t, nil)

	require.NoError(t, s.OpenTab("mainjs"))
	require.NoError(t, s.OpenTab("mainjs"))
	require.Equal(t, []string{"readme", "mainjs"}, s.Tabs())
	require.True(t, errors.Is(s.OpenTab(tree.RootID), errors.ErrNotFound))

	require.NoError(t, s.Activate("readme"))
	s.CloseTab("readme")
	require.Equal(t, "mainjs", s.Active())
	s.CloseTab("mainjs")
	require.Empty(t, s.Active())
	require.Empty(t, s.Tabs())
}

func TestSession_Lookup(t *testing.T) {
	s := openSession(t, nil)
	folder, _ := s.CreateFolder("src", "")
	file, _ := s.CreateFile("app.js", folder)

	for _, ref := range []string{file, "app.js", "src/app.js", "/src/app.js"} {
		n, err := s.Lookup(ref)
		require.NoError(t, err, ref)
		require.Equal(t, file, n.ID, ref)
	}
	n, err := s.Lookup("src")
	require.NoError(t, err)
	require.Equal(t, folder, n.ID)

	_, err = s.Lookup("nope.js")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSession_DebouncedSave(t *testing.T) {
	store := &memStore{}
	s := openSession(t, store)

	for i := range 5 {
		require.NoError(t, s.Edit("mainjs", string(rune('a'+i))))
	}
	require.Eventually(t, func() bool {
		saved, _ := store.snapshot()
		return saved != nil && saved.Get("mainjs").Content == "e"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return s.SyncStatus().State == SyncSaved }, time.Second, 5*time.Millisecond)
	_, saves := store.snapshot()
	require.Less(t, saves, 5, "rapid edits should coalesce")
}

func TestSession_SaveFailureAndRecovery(t *testing.T) {
	store := &memStore{failSave: true}
	s := openSession(t, store)

	_, _ = s.CreateFile("x.js", "")
	require.Eventually(t, func() bool { return s.SyncStatus().State == SyncError }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, ErrWriteRestricted, s.SyncStatus().Error)
	require.Len(t, s.Snapshot().Files(), 3, "in-memory state keeps the change")

	err := s.Flush(context.Background())
	require.True(t, errors.Is(err, errors.ErrPersistence))

	store.setFailSave(false)
	_, _ = s.CreateFile("y.js", "")
	require.Eventually(t, func() bool { return s.SyncStatus().State == SyncSaved }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, s.SyncStatus().Error)

	saved, _ := store.snapshot()
	require.True(t, tree.Equal(s.Snapshot(), saved))
}

func TestSession_FlushAndClose(t *testing.T) {
	store := &memStore{}
	cfg := testConfig()
	cfg.SaveDebounceMillis = 60_000
	s, err := Open(context.Background(), store, cfg)
	require.NoError(t, err)

	_, _ = s.CreateFile("late.js", "")
	require.Equal(t, SyncPending, s.SyncStatus().State)
	require.NoError(t, s.Close(context.Background()))

	saved, _ := store.snapshot()
	require.NotNil(t, saved.FindFileByName("late.js"))
}

func TestSession_UpdateSettings(t *testing.T) {
	store := &memStore{}
	s := openSession(t, store)

	got, err := s.UpdateSettings(context.Background(), db.Settings{Model: "gpt-4.1"})
	require.NoError(t, err)
	require.Equal(t, db.Settings{Theme: "dark", Model: "gpt-4.1"}, got)
	require.Equal(t, &got, store.settings)

	_, err = s.UpdateSettings(context.Background(), db.Settings{Theme: "neon"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSession_Preview(t *testing.T) {
	dir := t.TempDir()
	s := openSession(t, nil, WithPreviewDir(dir))

	_, err := s.BuildPreview()
	require.NoError(t, err, "active README.md is the fallback entry")

	s.ApplyOperations([]ops.FileOperation{
		{Path: "index.html", Content: `<script src="main.js"></script>`},
	})
	first, err := s.BuildPreview()
	require.NoError(t, err)
	require.Equal(t, "index.html", first.EntryName)
	require.Contains(t, first.Document, `<script>console.log("Canopy engine online.");</script>`)
	require.FileExists(t, first.Path)

	second, err := s.BuildPreview()
	require.NoError(t, err)
	require.NoFileExists(t, first.Path, "previous artifact released")
	require.FileExists(t, second.Path)
	require.Same(t, second, s.Preview())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "at most one live artifact")

	require.NoError(t, s.Close(context.Background()))
	require.NoFileExists(t, second.Path)
	require.Nil(t, s.Preview())
}

func TestSession_PreviewNoEntryKeepsPrevious(t *testing.T) {
	s := openSession(t, nil)
	s.ApplyOperations([]ops.FileOperation{{Path: "index.html", Content: "<p>"}})
	prev, err := s.BuildPreview()
	require.NoError(t, err)

	_, err = s.Delete(prev.EntryID)
	require.NoError(t, err)
	for _, id := range slices.Clone(s.Tabs()) {
		s.CloseTab(id)
	}

	_, err = s.BuildPreview()
	require.True(t, errors.Is(err, errors.ErrNoRenderableContent), "err = %v", err)
	require.Same(t, prev, s.Preview())
}
