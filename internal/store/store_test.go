package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
	"github.com/roach88/remindr/internal/storage/storagetest"
	"github.com/roach88/remindr/internal/testutil"
)

func TestContract(t *testing.T) {
	storagetest.Run(t, storagetest.Config{
		Tier:       storage.TierDurable,
		Persistent: true,
		New: func(t *testing.T, clock reminder.Clock) storage.Backend {
			return New(Options{Path: filepath.Join(t.TempDir(), "remindr.db"), Clock: clock})
		},
	})
}

func TestInitialize_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	createTestStore(t, Options{Path: path})

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	s := createTestStore(t, Options{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() failed: %v", err)
	}
	if !s.connected() {
		t.Error("store not connected after repeated Initialize")
	}
}

func TestInitialize_RequiresPath(t *testing.T) {
	s := New(Options{})
	err := s.Initialize(context.Background())
	if !storage.IsStorageUnavailable(err) {
		t.Fatalf("Initialize() error = %v, want StorageUnavailable", err)
	}
}

func TestInitialize_InvalidPath(t *testing.T) {
	// A regular file where the parent directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(Options{Path: filepath.Join(blocker, "test.db")})
	err := s.Initialize(context.Background())
	if !storage.IsStorageUnavailable(err) {
		t.Fatalf("Initialize() error = %v, want StorageUnavailable", err)
	}
}

func TestInitialize_ConnectTimeout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locked.db")

	// Another process holds an exclusive lock, so opening blocks in
	// SQLite's busy handler.
	holder, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	for _, stmt := range []string{"CREATE TABLE held (x)", "BEGIN EXCLUSIVE", "INSERT INTO held VALUES (1)"} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	s := New(Options{Path: path, ConnectTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { s.Close() })

	start := time.Now()
	err = s.Initialize(ctx)
	if !storage.IsTimeout(err) {
		t.Fatalf("Initialize() error = %v, want Timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Initialize() returned after %v, want about the connect timeout", elapsed)
	}
	if s.connected() {
		t.Error("store connected despite timeout")
	}

	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		t.Fatal(err)
	}
	s.connectTimeout = DefaultConnectTimeout
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() after lock released failed: %v", err)
	}
}

func TestOperations_BeforeInitialize(t *testing.T) {
	s := New(Options{Path: filepath.Join(t.TempDir(), "test.db")})
	ctx := context.Background()

	if _, err := s.List(ctx, "u1", query.Filter{}); !storage.IsStorageUnavailable(err) {
		t.Errorf("List() error = %v, want StorageUnavailable", err)
	}
	if _, err := s.Save(ctx, testutil.NewRecord("u1", "x")); !storage.IsStorageUnavailable(err) {
		t.Errorf("Save() error = %v, want StorageUnavailable", err)
	}
}

func TestOperations_ValidateBeforeConnecting(t *testing.T) {
	s := New(Options{Path: filepath.Join(t.TempDir(), "test.db")})

	_, err := s.Save(context.Background(), reminder.Record{Owner: "u1"})
	if !storage.IsValidation(err) {
		t.Fatalf("Save() error = %v, want ValidationError", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s := createTestStore(t, Options{})

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t, Options{})
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t, Options{})

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t, Options{})
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestSchema_UserVersion(t *testing.T) {
	s := createTestStore(t, Options{})
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestSchema_ReminderIndexes(t *testing.T) {
	s := createTestStore(t, Options{})

	got := getTableIndexes(t, s.db, "reminders")
	for _, idx := range []string{indexOwner, indexOwnerStatus, indexOwnerCategory, indexOwnerDue} {
		if !contains(got, idx) {
			t.Errorf("reminders table missing index %q", idx)
		}
	}
}

func TestSchema_ReopenDoesNotDuplicateIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s := New(Options{Path: path})
		if err := s.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s := createTestStore(t, Options{Path: path})
	if got := getTableIndexes(t, s.db, "reminders"); len(got) != 4 {
		t.Errorf("got %d indexes after reopening, want 4: %v", len(got), got)
	}
}

func TestSchema_MigrationWritesMarkerOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first := createTestStore(t, Options{Path: path})

	data, err := os.ReadFile(first.markerPath())
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if !strings.HasPrefix(string(data), first.instance+" ") {
		t.Errorf("marker = %q, want written by first instance", data)
	}

	// Already migrated, so the second instance leaves the marker alone.
	createTestStore(t, Options{Path: path})
	again, err := os.ReadFile(first.markerPath())
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("marker rewritten by second instance: %q", again)
	}
}

func TestChooseIndex(t *testing.T) {
	due := testutil.Epoch
	tests := []struct {
		name   string
		filter query.Filter
		want   string
	}{
		{"no filter", query.Filter{}, indexOwner},
		{"status", query.Filter{Status: reminder.StatusActive}, indexOwnerStatus},
		{"status wins over category", query.Filter{Status: reminder.StatusActive, Category: reminder.CategoryWork}, indexOwnerStatus},
		{"category", query.Filter{Category: reminder.CategoryWork}, indexOwnerCategory},
		{"category wins over due", query.Filter{Category: reminder.CategoryWork, DueFrom: due}, indexOwnerCategory},
		{"due from", query.Filter{DueFrom: due}, indexOwnerDue},
		{"due to", query.Filter{DueTo: due}, indexOwnerDue},
		{"search only", query.Filter{Search: "rent"}, indexOwner},
		{"priority only", query.Filter{Priority: 3}, indexOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chooseIndex(tt.filter); got != tt.want {
				t.Errorf("chooseIndex() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileList_ParameterizesValues(t *testing.T) {
	from := testutil.Epoch
	to := testutil.Epoch.Add(time.Hour)

	stmt, params := compileList("u1", query.Filter{DueFrom: from, DueTo: to})

	if !strings.Contains(stmt, "INDEXED BY "+indexOwnerDue) {
		t.Errorf("statement does not force the due index: %s", stmt)
	}
	if !strings.HasSuffix(stmt, "ORDER BY id COLLATE BINARY ASC") {
		t.Errorf("statement is not ordered by id: %s", stmt)
	}
	want := []any{"u1", from.UnixMilli(), to.UnixMilli()}
	require.Equal(t, want, params)
}

func TestList_QueryPlanUsesChosenIndex(t *testing.T) {
	s := createTestStore(t, Options{})

	filters := []query.Filter{
		{},
		{Status: reminder.StatusCompleted},
		{Category: reminder.CategoryHealth},
		{DueFrom: testutil.Epoch},
	}
	for _, f := range filters {
		stmt, params := compileList("u1", f)
		rows, err := s.db.Query("EXPLAIN QUERY PLAN "+stmt, params...)
		if err != nil {
			t.Fatalf("explain %q: %v", stmt, err)
		}

		var plan []string
		for rows.Next() {
			var id, parent, notused int
			var detail string
			if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
				t.Fatalf("scan plan: %v", err)
			}
			plan = append(plan, detail)
		}
		rows.Close()

		index := chooseIndex(f)
		if !strings.Contains(strings.Join(plan, "\n"), index) {
			t.Errorf("plan for %+v does not use %s: %v", f, index, plan)
		}
	}
}

func TestList_MatchesInMemoryFilter(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Options{})

	for _, r := range []reminder.Record{
		testutil.Build("u1", "Pay rent", testutil.WithCategory(reminder.CategoryFinance), testutil.WithPriority(4)),
		testutil.Build("u1", "Renew passport", testutil.WithCategory(reminder.CategoryPersonal)),
		testutil.Build("u1", "Rent a car", testutil.WithCategory(reminder.CategoryFinance), testutil.WithStatus(reminder.StatusCompleted)),
	} {
		if _, err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}

	got, err := s.List(ctx, "u1", query.Filter{Category: reminder.CategoryFinance, Status: reminder.StatusActive, Search: "RENT"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Pay rent" {
		t.Errorf("List() = %v, want only Pay rent", got)
	}
}

func TestDeleteByStatus_IncludesNewlyOverdue(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeClock(testutil.Epoch)
	s := createTestStore(t, Options{Clock: clock})

	if _, err := s.Save(ctx, testutil.Build("u1", "Soon", testutil.WithDue(testutil.Epoch.Add(time.Hour)))); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	n, err := s.DeleteByStatus(ctx, "u1", reminder.StatusOverdue)
	if err != nil {
		t.Fatalf("DeleteByStatus() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteByStatus() = %d, want 1", n)
	}
}

func TestImportAll_FailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Options{})

	if _, err := s.db.ExecContext(ctx, `CREATE TRIGGER reject_boom BEFORE INSERT ON reminders
		WHEN NEW.title = 'boom' BEGIN SELECT RAISE(ABORT, 'boom rejected'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	env := query.BuildEnvelope(storage.TierDurable, testutil.Epoch, []reminder.Record{
		testutil.NewRecord("x", "first"),
		testutil.NewRecord("x", "second"),
		testutil.NewRecord("x", "boom"),
	}, &reminder.Preferences{Settings: map[string]any{"theme": "dark"}}, nil)

	n, err := s.ImportAll(ctx, env, "u1")
	if !storage.IsStorageUnavailable(err) {
		t.Fatalf("ImportAll() error = %v, want StorageUnavailable", err)
	}
	if n != 0 {
		t.Errorf("ImportAll() = %d, want 0", n)
	}

	got, err := s.List(ctx, "u1", query.Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List() = %d records after failed import, want none", len(got))
	}
	prefs, err := s.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreferences() failed: %v", err)
	}
	if prefs != nil {
		t.Errorf("GetPreferences() = %v after failed import, want nil", prefs)
	}
}

func TestSave_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s := createTestStore(t, Options{Path: path})
	saved, err := s.Save(ctx, testutil.NewRecord("u1", "Water plants"))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	s.Close()

	reopened := createTestStore(t, Options{Path: path})
	got, err := reopened.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got == nil || got.Title != "Water plants" {
		t.Fatalf("GetByID() = %v, want saved record", got)
	}
	if diff := cmp.Diff(saved, *got); diff != "" {
		t.Errorf("record changed across reopen (-saved +got):\n%s", diff)
	}
}

func TestInfo_Features(t *testing.T) {
	s := createTestStore(t, Options{WatchVersion: true})

	info, err := s.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() failed: %v", err)
	}
	for _, f := range []string{storage.FeatureTransactions, storage.FeatureIndexes, storage.FeaturePersistent, storage.FeatureVersionWatch} {
		if !info.HasFeature(f) {
			t.Errorf("Info() missing feature %q", f)
		}
	}
	if info.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want positive", info.SizeBytes)
	}
	if info.Location != s.path {
		t.Errorf("Location = %q, want %q", info.Location, s.path)
	}
}

func TestVersionChange_ReopensTransparently(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Options{})

	saved, err := s.Save(ctx, testutil.NewRecord("u1", "Stretch"))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	s.onVersionChange("test")
	if s.connected() {
		t.Fatal("connection still open after version change")
	}

	got, err := s.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetByID() after version change failed: %v", err)
	}
	if got == nil {
		t.Fatal("record lost after reopening")
	}
	if !s.connected() {
		t.Error("store did not reconnect")
	}
}

func TestVersionChange_ClosedUnderOperationRetries(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Options{})

	saved, err := s.Save(ctx, testutil.NewRecord("u1", "Stretch"))
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// The connection is closed while the store still holds it, as when the
	// watcher closes it after conn handed it out.
	for _, tc := range []struct {
		name string
		run  func() error
	}{
		{"Save", func() error {
			_, err := s.Save(ctx, testutil.NewRecord("u1", "Again"))
			return err
		}},
		{"GetByID", func() error {
			got, err := s.GetByID(ctx, saved.ID)
			if err == nil && got == nil {
				t.Error("record lost after reopening")
			}
			return err
		}},
		{"GetPreferences", func() error {
			_, err := s.GetPreferences(ctx, "u1")
			return err
		}},
		{"Delete", func() error {
			ok, err := s.Delete(ctx, saved.ID)
			if err == nil && !ok {
				t.Error("Delete() = false, want true")
			}
			return err
		}},
	} {
		s.mu.Lock()
		s.db.Close()
		s.mu.Unlock()

		if err := tc.run(); err != nil {
			t.Fatalf("%s() on a closed connection failed: %v", tc.name, err)
		}
		if !s.connected() {
			t.Errorf("%s(): store did not reconnect", tc.name)
		}
	}
}

func TestVersionChange_ForeignMarkerClosesConnection(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, Options{WatchVersion: true})

	if err := os.WriteFile(s.markerPath(), []byte("other-instance 1\n"), 0o640); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	require.Eventually(t, func() bool { return !s.connected() }, 5*time.Second, 20*time.Millisecond)

	if _, err := s.List(ctx, "u1", query.Filter{}); err != nil {
		t.Fatalf("List() after foreign migration failed: %v", err)
	}
	if !s.connected() {
		t.Error("store did not reconnect")
	}
}

func TestForeignMarker(t *testing.T) {
	s := createTestStore(t, Options{})

	if s.foreignMarker() {
		t.Error("own marker reported as foreign")
	}
	if err := os.WriteFile(s.markerPath(), []byte("someone-else 1\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if !s.foreignMarker() {
		t.Error("foreign marker not detected")
	}
}

func TestProbe_LeavesNoFiles(t *testing.T) {
	dir := t.TempDir()

	if err := Probe(context.Background(), dir, nil); err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe left %d files behind", len(entries))
	}
}

func TestProbe_UnwritableLocation(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Probe(context.Background(), filepath.Join(blocker, "sub"), nil); err == nil {
		t.Error("Probe() succeeded under a regular file")
	}
}
