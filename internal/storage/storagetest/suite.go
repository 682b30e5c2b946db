// Package storagetest is a conformance suite for storage.Backend
// implementations. Each tier's tests call Run with a factory; the suite
// checks the behaviour every tier must share.
package storagetest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
	"github.com/roach88/remindr/internal/testutil"
)

// Factory builds an uninitialized backend reading time from clock.
type Factory func(t *testing.T, clock reminder.Clock) storage.Backend

// Config describes the tier under test.
type Config struct {
	Tier       string
	Persistent bool
	New        Factory
}

// ignoreAssigned drops the fields the storage layer assigns.
var ignoreAssigned = cmpopts.IgnoreFields(reminder.Record{}, "ID", "CreatedAt", "UpdatedAt")

// Run executes the conformance suite.
func Run(t *testing.T, cfg Config) {
	t.Helper()

	for _, tc := range []struct {
		name string
		fn   func(*testing.T, *env)
	}{
		{"SaveThenGetRoundTrips", testSaveThenGet},
		{"TeamMeeting", testTeamMeeting},
		{"SaveAgainKeepsCreatedAt", testSaveAgain},
		{"SaveRejectsInvalidRecord", testSaveInvalid},
		{"GetByIDMissingReturnsNil", testGetMissing},
		{"UpdateMergesFields", testUpdateMerges},
		{"UpdateMissingIsNotFound", testUpdateMissing},
		{"UpdateInvalidPatchLeavesRecord", testUpdateInvalid},
		{"DeleteReportsExistence", testDelete},
		{"DeleteByStatus", testDeleteByStatus},
		{"ListStatusFilter", testListStatus},
		{"ListPriorityDescending", testListPriorityDesc},
		{"ListIsOwnerScoped", testListOwnerScoped},
		{"ListSearchAndPagination", testListSearchAndPaging},
		{"ListRejectsInvalidFilter", testListInvalidFilter},
		{"OverduePromotionIsPersisted", testOverdue},
		{"PreferencesOverwrite", testPreferences},
		{"MetadataOverwrite", testMetadata},
		{"Statistics", testStatistics},
		{"ExportClearImportRoundTrip", testExportImport},
		{"ImportRegeneratesIDs", testImportTwice},
		{"ImportRejectsInvalidAtomically", testImportInvalid},
		{"ClearIsOwnerScoped", testClear},
		{"Info", testInfo},
		{"HealthCheck", testHealth},
		{"ConcurrentSaves", testConcurrentSaves},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newEnv(t, cfg))
		})
	}
}

type env struct {
	cfg   Config
	b     storage.Backend
	clock *testutil.FakeClock
	ctx   context.Context
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)
	b := cfg.New(t, clock)
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx))
	t.Cleanup(func() { _ = b.Close() })
	return &env{cfg: cfg, b: b, clock: clock, ctx: ctx}
}

func (e *env) save(t *testing.T, r reminder.Record) reminder.Record {
	t.Helper()
	saved, err := e.b.Save(e.ctx, r)
	require.NoError(t, err)
	return saved
}

func (e *env) list(t *testing.T, owner string, f query.Filter) []reminder.Record {
	t.Helper()
	got, err := e.b.List(e.ctx, owner, f)
	require.NoError(t, err)
	return got
}

func titles(records []reminder.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return out
}

func testSaveThenGet(t *testing.T, e *env) {
	in := testutil.Build("u1", "Renew passport",
		testutil.WithDescription("Bring two photos"),
		testutil.WithCategory(reminder.CategoryOther),
		testutil.WithPriority(reminder.PriorityHigh),
		testutil.WithAlerts(true, 60, 1440))

	saved := e.save(t, in)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, testutil.Epoch, saved.CreatedAt)
	assert.Equal(t, testutil.Epoch, saved.UpdatedAt)

	got, err := e.b.GetByID(e.ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	if diff := cmp.Diff(in, *got, ignoreAssigned); diff != "" {
		t.Errorf("round-trip mismatch (-saved +got):\n%s", diff)
	}
	if diff := cmp.Diff(saved, *got); diff != "" {
		t.Errorf("GetByID differs from Save result (-saved +got):\n%s", diff)
	}
}

func testTeamMeeting(t *testing.T, e *env) {
	saved := e.save(t, reminder.Record{
		Owner:    "u1",
		Title:    "Team Meeting",
		Due:      e.clock.Now().Add(2 * time.Hour),
		Priority: 3,
	})

	got, err := e.b.GetByID(e.ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Team Meeting", got.Title)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, reminder.StatusActive, got.Status)
}

func testSaveAgain(t *testing.T, e *env) {
	first := e.save(t, testutil.Build("u1", "Draft", testutil.WithID("fixed-id")))

	e.clock.Advance(time.Minute)
	again := first
	again.Title = "Final"
	second := e.save(t, again)

	assert.Equal(t, "fixed-id", second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), second.UpdatedAt)

	all := e.list(t, "u1", query.Filter{})
	require.Len(t, all, 1)
	assert.Equal(t, "Final", all[0].Title)
}

func testSaveInvalid(t *testing.T, e *env) {
	bad := testutil.NewRecord("u1", strings.Repeat("x", reminder.MaxTitleLen+1))
	_, err := e.b.Save(e.ctx, bad)
	assert.True(t, storage.IsValidation(err), "got %v", err)

	assert.Empty(t, e.list(t, "u1", query.Filter{}))
}

func testGetMissing(t *testing.T, e *env) {
	got, err := e.b.GetByID(e.ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testUpdateMerges(t *testing.T, e *env) {
	saved := e.save(t, testutil.Build("u1", "Gym", testutil.WithDescription("Leg day")))

	e.clock.Advance(time.Hour)
	updated, err := e.b.Update(e.ctx, saved.ID, reminder.Patch{
		Priority: reminder.Ptr(reminder.PriorityUrgent),
		Status:   reminder.Ptr(reminder.StatusCompleted),
	})
	require.NoError(t, err)

	assert.Equal(t, "Gym", updated.Title)
	assert.Equal(t, "Leg day", updated.Description)
	assert.Equal(t, reminder.PriorityUrgent, updated.Priority)
	assert.Equal(t, reminder.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, saved.CreatedAt, updated.CreatedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Hour), updated.UpdatedAt)

	got, err := e.b.GetByID(e.ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(updated, *got); diff != "" {
		t.Errorf("stored record differs from Update result (-updated +got):\n%s", diff)
	}
}

func testUpdateMissing(t *testing.T, e *env) {
	_, err := e.b.Update(e.ctx, "ghost", reminder.Patch{Title: reminder.Ptr("x")})
	assert.True(t, storage.IsNotFound(err), "got %v", err)
}

func testUpdateInvalid(t *testing.T, e *env) {
	saved := e.save(t, testutil.NewRecord("u1", "Keep me"))

	_, err := e.b.Update(e.ctx, saved.ID, reminder.Patch{Priority: reminder.Ptr(5)})
	assert.True(t, storage.IsValidation(err), "got %v", err)

	got, err := e.b.GetByID(e.ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.Priority, got.Priority)
}

func testDelete(t *testing.T, e *env) {
	saved := e.save(t, testutil.NewRecord("u1", "Temporary"))

	ok, err := e.b.Delete(e.ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.b.Delete(e.ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := e.b.GetByID(e.ctx, saved.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDeleteByStatus(t *testing.T, e *env) {
	for i := range 3 {
		e.save(t, testutil.NewRecord("u1", fmt.Sprintf("active %d", i)))
	}
	for i := range 2 {
		e.save(t, testutil.Build("u1", fmt.Sprintf("done %d", i), testutil.WithStatus(reminder.StatusCompleted)))
	}
	e.save(t, testutil.Build("u2", "other owner", testutil.WithStatus(reminder.StatusCompleted)))

	n, err := e.b.DeleteByStatus(e.ctx, "u1", reminder.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rest := e.list(t, "u1", query.Filter{})
	assert.Len(t, rest, 3)
	for _, r := range rest {
		assert.Equal(t, reminder.StatusActive, r.Status)
	}
	assert.Len(t, e.list(t, "u2", query.Filter{}), 1, "other owners are untouched")

	_, err = e.b.DeleteByStatus(e.ctx, "u1", "bogus")
	assert.True(t, storage.IsValidation(err))
}

func seedMixed(t *testing.T, e *env) {
	t.Helper()
	due := testutil.Epoch.Add(48 * time.Hour)
	e.save(t, testutil.Build("u1", "Pay rent", testutil.WithCategory(reminder.CategoryFinance), testutil.WithPriority(4), testutil.WithDue(due.Add(3*time.Hour))))
	e.save(t, testutil.Build("u1", "Call dentist", testutil.WithCategory(reminder.CategoryHealth), testutil.WithPriority(2), testutil.WithDue(due.Add(1*time.Hour))))
	e.save(t, testutil.Build("u1", "Book flights", testutil.WithCategory(reminder.CategoryPersonal), testutil.WithPriority(3), testutil.WithDue(due.Add(2*time.Hour)), testutil.WithStatus(reminder.StatusCompleted)))
	e.save(t, testutil.Build("u1", "Team standup", testutil.WithCategory(reminder.CategoryWork), testutil.WithPriority(1), testutil.WithDue(due), testutil.WithStatus(reminder.StatusSnoozed)))
	e.save(t, testutil.Build("u1", "Quarterly taxes", testutil.WithCategory(reminder.CategoryFinance), testutil.WithPriority(3), testutil.WithDue(due.Add(4*time.Hour)), testutil.WithDescription("Ask the accountant")))
}

func testListStatus(t *testing.T, e *env) {
	seedMixed(t, e)

	for _, s := range reminder.Statuses {
		for _, r := range e.list(t, "u1", query.Filter{Status: s}) {
			assert.Equal(t, s, r.Status)
		}
	}
	assert.Equal(t, []string{"Call dentist", "Pay rent", "Quarterly taxes"}, titles(e.list(t, "u1", query.Filter{Status: reminder.StatusActive})))
	assert.Equal(t, []string{"Pay rent", "Quarterly taxes"}, titles(e.list(t, "u1", query.Filter{Category: reminder.CategoryFinance})))
}

func testListPriorityDesc(t *testing.T, e *env) {
	seedMixed(t, e)

	got := e.list(t, "u1", query.Filter{SortBy: query.SortByPriority, Dir: query.Desc})
	require.Len(t, got, 5)
	assert.True(t, slices.IsSortedFunc(got, func(a, b reminder.Record) int { return b.Priority - a.Priority }),
		"priorities not non-increasing: %v", got)
}

func testListOwnerScoped(t *testing.T, e *env) {
	e.save(t, testutil.NewRecord("u1", "Mine"))
	e.save(t, testutil.NewRecord("u2", "Theirs"))

	assert.Equal(t, []string{"Mine"}, titles(e.list(t, "u1", query.Filter{})))
	assert.Empty(t, e.list(t, "nobody", query.Filter{}))
}

func testListSearchAndPaging(t *testing.T, e *env) {
	seedMixed(t, e)

	assert.Equal(t, []string{"Quarterly taxes"}, titles(e.list(t, "u1", query.Filter{Search: "ACCOUNTANT"})))

	from := testutil.Epoch.Add(49 * time.Hour)
	to := testutil.Epoch.Add(51 * time.Hour)
	assert.Equal(t, []string{"Call dentist", "Book flights", "Pay rent"}, titles(e.list(t, "u1", query.Filter{DueFrom: from, DueTo: to})))

	assert.Equal(t, []string{"Call dentist", "Book flights"}, titles(e.list(t, "u1", query.Filter{Offset: 1, Limit: 2})))
}

func testListInvalidFilter(t *testing.T, e *env) {
	_, err := e.b.List(e.ctx, "u1", query.Filter{Status: "later"})
	assert.True(t, storage.IsValidation(err), "got %v", err)

	_, err = e.b.List(e.ctx, "", query.Filter{})
	assert.True(t, storage.IsValidation(err), "got %v", err)
}

func testOverdue(t *testing.T, e *env) {
	saved := e.save(t, testutil.Build("u1", "Soon", testutil.WithDue(testutil.Epoch.Add(time.Hour))))
	e.save(t, testutil.Build("u1", "Later", testutil.WithDue(testutil.Epoch.Add(72*time.Hour))))

	e.clock.Advance(2 * time.Hour)

	overdue := e.list(t, "u1", query.Filter{Status: reminder.StatusOverdue})
	require.Len(t, overdue, 1)
	assert.Equal(t, saved.ID, overdue[0].ID)

	got, err := e.b.GetByID(e.ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reminder.StatusOverdue, got.Status)

	stats, err := e.b.Statistics(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[reminder.StatusOverdue])
	assert.Equal(t, 1, stats.ByStatus[reminder.StatusActive])
}

func testPreferences(t *testing.T, e *env) {
	got, err := e.b.GetPreferences(e.ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = e.b.SavePreferences(e.ctx, reminder.Preferences{Owner: "u1", Settings: map[string]any{"theme": "dark", "snooze": 5}})
	require.NoError(t, err)

	e.clock.Advance(time.Second)
	saved, err := e.b.SavePreferences(e.ctx, reminder.Preferences{Owner: "u1", Settings: map[string]any{"sound": false}})
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(time.Second), saved.UpdatedAt)

	got, err = e.b.GetPreferences(e.ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"sound": false}, got.Settings, "settings are replaced, not merged")
	assert.Equal(t, saved.UpdatedAt, got.UpdatedAt)

	_, err = e.b.SavePreferences(e.ctx, reminder.Preferences{})
	assert.True(t, storage.IsValidation(err))
}

func testMetadata(t *testing.T, e *env) {
	got, err := e.b.GetMetadata(e.ctx, "lastSync")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = e.b.SaveMetadata(e.ctx, "lastSync", "first")
	require.NoError(t, err)
	_, err = e.b.SaveMetadata(e.ctx, "lastSync", map[string]any{"count": 2})
	require.NoError(t, err)

	got, err = e.b.GetMetadata(e.ctx, "lastSync")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"count": float64(2)}, got.Value)
	assert.Equal(t, testutil.Epoch, got.Timestamp)
}

func testStatistics(t *testing.T, e *env) {
	seedMixed(t, e)
	e.save(t, testutil.Build("u1", "Tomorrow", testutil.WithAlerts(true, 5, 10, 15)))
	e.save(t, testutil.Build("u2", "Not counted"))

	stats, err := e.b.Statistics(e.ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 4, stats.ByStatus[reminder.StatusActive])
	assert.Equal(t, 1, stats.ByStatus[reminder.StatusCompleted])
	assert.Equal(t, 2, stats.ByCategory[reminder.CategoryFinance])
	assert.Equal(t, 2, stats.ByPriority[3])
	assert.Equal(t, 6, stats.NotifyEnabled)
	assert.Equal(t, 1, stats.Upcoming)
	assert.InDelta(t, 1.33, stats.AvgAlerts, 0.001)
}

func testExportImport(t *testing.T, e *env) {
	seedMixed(t, e)
	_, err := e.b.SavePreferences(e.ctx, reminder.Preferences{Owner: "u1", Settings: map[string]any{"theme": "dark"}})
	require.NoError(t, err)

	before := e.list(t, "u1", query.Filter{SortBy: query.SortByTitle})

	envl, err := e.b.ExportAll(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, reminder.EnvelopeVersion, envl.Version)
	assert.Equal(t, e.cfg.Tier, envl.TierName)
	assert.Len(t, envl.Data.Records, 5)
	assert.Equal(t, 5, envl.Statistics.Total)

	removed, err := e.b.Clear(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Empty(t, e.list(t, "u1", query.Filter{}))
	prefs, err := e.b.GetPreferences(e.ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, prefs)

	e.clock.Advance(time.Minute)
	n, err := e.b.ImportAll(e.ctx, envl, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	after := e.list(t, "u1", query.Filter{SortBy: query.SortByTitle})
	if diff := cmp.Diff(before, after, ignoreAssigned); diff != "" {
		t.Errorf("export/import lost data (-before +after):\n%s", diff)
	}
	for i := range after {
		assert.NotEqual(t, before[i].ID, after[i].ID, "ids are regenerated on import")
	}

	prefs, err = e.b.GetPreferences(e.ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.Equal(t, map[string]any{"theme": "dark"}, prefs.Settings)
}

func testImportTwice(t *testing.T, e *env) {
	e.save(t, testutil.NewRecord("u1", "Only one"))

	envl, err := e.b.ExportAll(e.ctx, "u1")
	require.NoError(t, err)

	n, err := e.b.ImportAll(e.ctx, envl, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, e.list(t, "u1", query.Filter{}), 2)

	// Importing into another owner re-owns the records
	n, err = e.b.ImportAll(e.ctx, envl, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Only one"}, titles(e.list(t, "u2", query.Filter{})))
}

func testImportInvalid(t *testing.T, e *env) {
	bad := testutil.NewRecord("x", "Bad")
	bad.Category = "hobby"
	envl := query.BuildEnvelope(e.cfg.Tier, testutil.Epoch, []reminder.Record{
		testutil.NewRecord("x", "Good"),
		bad,
	}, nil, nil)

	_, err := e.b.ImportAll(e.ctx, envl, "u1")
	assert.True(t, storage.IsValidation(err), "got %v", err)
	assert.Empty(t, e.list(t, "u1", query.Filter{}), "nothing is written when any record is invalid")
}

func testClear(t *testing.T, e *env) {
	e.save(t, testutil.NewRecord("u1", "a"))
	e.save(t, testutil.NewRecord("u1", "b"))
	e.save(t, testutil.NewRecord("u2", "c"))

	n, err := e.b.Clear(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, e.list(t, "u1", query.Filter{}))
	assert.Len(t, e.list(t, "u2", query.Filter{}), 1)

	n, err = e.b.Clear(e.ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testInfo(t *testing.T, e *env) {
	e.save(t, testutil.NewRecord("u1", "a"))

	info, err := e.b.Info(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, e.cfg.Tier, info.TierName)
	assert.Equal(t, e.cfg.Persistent, info.Persistent)
	assert.Equal(t, 1, info.RecordCount)
	if !e.cfg.Persistent {
		assert.NotEmpty(t, info.Warning)
	}
}

func testHealth(t *testing.T, e *env) {
	report := e.b.HealthCheck(e.ctx)
	assert.True(t, report.Healthy, report.Detail)
	assert.Equal(t, e.cfg.Tier, report.TierName)

	assert.Empty(t, e.list(t, storage.HealthOwner, query.Filter{}), "health check cleans up after itself")
}

func testConcurrentSaves(t *testing.T, e *env) {
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.b.Save(e.ctx, testutil.NewRecord("u1", fmt.Sprintf("task %02d", i)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, e.list(t, "u1", query.Filter{}), n)
}
