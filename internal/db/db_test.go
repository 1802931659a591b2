package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesPragmasAndMigrations(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	for _, table := range []string{"sessions", "tick_stats", "bg_snapshots"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestOpen_ReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sessions'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrateForce_ClearsDirtyState(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`)
	require.NoError(t, err)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.True(t, dirty)

	require.NoError(t, db.MigrateForce(1))
	version, dirty, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// a clean state lets migrations run again
	require.NoError(t, db.MigrateUp())
}

func TestCreateSession(t *testing.T) {
	db := openTestDB(t)

	s, err := db.CreateSession("", "synthetic", `{"threshold":2.5}`)
	require.NoError(t, err)
	assert.Len(t, s.SessionID, 36)

	got, err := db.GetSession(s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = db.GetSession("missing")
	assert.Error(t, err)

	_, err = db.CreateSession(s.SessionID, "synthetic", "")
	assert.Error(t, err, "duplicate session id")
}

func TestTickStats_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	s, err := db.CreateSession("sess-1", "cam0", "")
	require.NoError(t, err)

	base := time.Unix(1700000000, 0)
	var stats []pipeline.TickStats
	for i := 1; i <= 5; i++ {
		stats = append(stats, pipeline.TickStats{
			Tick:               uint64(i),
			Timestamp:          base.Add(time.Duration(i) * 33 * time.Millisecond),
			ProcWidth:          32,
			ProcHeight:         24,
			ForegroundFraction: float64(i) / 10,
			MeanMask:           float64(i) / 20,
			Duration:           time.Duration(i) * time.Millisecond,
			Reset:              i == 1,
			ResetReason:        map[bool]string{true: pipeline.ResetInit}[i == 1],
		})
	}
	require.NoError(t, db.InsertTickStats(s.SessionID, stats))
	require.NoError(t, db.InsertTickStats(s.SessionID, nil))

	all, err := db.ListTickStats(s.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, got := range all {
		want := stats[i]
		assert.Equal(t, want.Tick, got.Tick)
		assert.Equal(t, "cam0", got.Source)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, want.ForegroundFraction, got.ForegroundFraction)
		assert.Equal(t, want.Duration, got.Duration)
		assert.Equal(t, want.Reset, got.Reset)
		assert.Equal(t, want.ResetReason, got.ResetReason)
	}

	last, err := db.ListTickStats(s.SessionID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, uint64(4), last[0].Tick)
	assert.Equal(t, uint64(5), last[1].Tick)
}

func TestInsertTickStats_UnknownSession(t *testing.T) {
	db := openTestDB(t)
	err := db.InsertTickStats("nope", []pipeline.TickStats{{Tick: 1, Timestamp: time.Now()}})
	assert.Error(t, err)
}

func TestBgSnapshots(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetLatestBgSnapshot("")
	require.NoError(t, err)
	assert.Nil(t, got)

	id, err := db.InsertBgSnapshot(nil)
	require.NoError(t, err)
	assert.Zero(t, id)

	older := &background.BgSnapshot{
		Source: "cam0", TakenUnixNanos: 100, Width: 4, Height: 3, Channels: 1,
		Mode: "luminance", ModelBlob: []byte{1, 2, 3}, Reason: "periodic",
	}
	newer := &background.BgSnapshot{
		SessionID: "sess", Source: "cam0", TakenUnixNanos: 200, Width: 4, Height: 3, Channels: 3,
		Mode: "color", ModelBlob: []byte{4, 5}, Reason: "shutdown",
	}
	other := &background.BgSnapshot{
		Source: "cam1", TakenUnixNanos: 300, Width: 8, Height: 8, Channels: 1,
		Mode: "luminance", ModelBlob: []byte{9},
	}
	for _, s := range []*background.BgSnapshot{older, newer, other} {
		id, err := db.InsertBgSnapshot(s)
		require.NoError(t, err)
		require.NotNil(t, s.SnapshotID)
		assert.Equal(t, id, *s.SnapshotID)
	}

	got, err = db.GetLatestBgSnapshot("cam0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer, got)

	got, err = db.GetLatestBgSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, "cam1", got.Source)

	got, err = db.GetLatestBgSnapshot("cam9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBgSnapshots_PersistRestore(t *testing.T) {
	db := openTestDB(t)

	m := background.NewModel(3, 2, background.ModeLuminance)
	id, err := background.Persist(m, db, "", "cam0", "manual")
	require.NoError(t, err)
	assert.NotZero(t, id)

	row, err := db.GetLatestBgSnapshot("cam0")
	require.NoError(t, err)
	snap, err := background.SnapshotFromRow(row)
	require.NoError(t, err)
	require.NoError(t, background.NewModel(3, 2, background.ModeLuminance).Restore(snap))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
