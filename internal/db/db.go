package db

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/motiontrail/internal/monitoring"
	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

var logf = monitoring.Component("db")

// Pragmas applied to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

type DB struct {
	*sql.DB
	path string
}

// Session is one run of the pipeline against a single source.
type Session struct {
	SessionID        string
	Source           string
	StartedUnixNanos int64
	SettingsJSON     string
}

// Open opens (creating if needed) the SQLite database at path and migrates
// it to the latest schema.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqldb, path: path}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, err
	}
	logf("opened %s", path)
	return db, nil
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// CreateSession records a new session and returns it. A session id is
// generated when sessionID is empty.
func (db *DB) CreateSession(sessionID, source, settingsJSON string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	s := &Session{
		SessionID:        sessionID,
		Source:           source,
		StartedUnixNanos: time.Now().UnixNano(),
		SettingsJSON:     settingsJSON,
	}
	_, err := db.Exec(`INSERT INTO sessions (session_id, source, started_unix_nanos, settings_json) VALUES (?, ?, ?, ?)`,
		s.SessionID, s.Source, s.StartedUnixNanos, nullString(s.SettingsJSON))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession looks a session up by id.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var s Session
	var settings sql.NullString
	err := db.QueryRow(`SELECT session_id, source, started_unix_nanos, settings_json FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&s.SessionID, &s.Source, &s.StartedUnixNanos, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.SettingsJSON = settings.String
	return &s, nil
}

// InsertTickStats writes a batch of per-tick statistics in one transaction.
func (db *DB) InsertTickStats(sessionID string, stats []pipeline.TickStats) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tick_stats (
			session_id, tick, taken_unix_nanos, proc_width, proc_height,
			fg_fraction, mean_mask, duration_us, reset, reset_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tick_stats insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.Exec(
			sessionID,
			int64(s.Tick),
			s.Timestamp.UnixNano(),
			s.ProcWidth,
			s.ProcHeight,
			s.ForegroundFraction,
			s.MeanMask,
			s.Duration.Microseconds(),
			s.Reset,
			nullString(s.ResetReason),
		); err != nil {
			return fmt.Errorf("insert tick %d: %w", s.Tick, err)
		}
	}
	return tx.Commit()
}

// ListTickStats returns the most recent limit ticks of a session in tick
// order. limit <= 0 returns all of them.
func (db *DB) ListTickStats(sessionID string, limit int) ([]pipeline.TickStats, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT * FROM (
			SELECT t.tick, s.source, t.taken_unix_nanos, t.proc_width, t.proc_height,
			       t.fg_fraction, t.mean_mask, t.duration_us, t.reset, t.reset_reason
			FROM tick_stats t JOIN sessions s ON s.session_id = t.session_id
			WHERE t.session_id = ?
			ORDER BY t.tick DESC
			LIMIT ?
		) ORDER BY tick ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tick stats: %w", err)
	}
	defer rows.Close()

	var out []pipeline.TickStats
	for rows.Next() {
		var (
			s          pipeline.TickStats
			tick       int64
			takenNanos int64
			durationUs int64
			reason     sql.NullString
		)
		if err := rows.Scan(&tick, &s.Source, &takenNanos, &s.ProcWidth, &s.ProcHeight,
			&s.ForegroundFraction, &s.MeanMask, &durationUs, &s.Reset, &reason); err != nil {
			return nil, err
		}
		s.Tick = uint64(tick)
		s.Timestamp = time.Unix(0, takenNanos)
		s.Duration = time.Duration(durationUs) * time.Microsecond
		s.ResetReason = reason.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertBgSnapshot persists a background snapshot and returns its id.
func (db *DB) InsertBgSnapshot(s *background.BgSnapshot) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := db.Exec(`INSERT INTO bg_snapshots (
			session_id, source, taken_unix_nanos, width, height, channels, mode, model_blob, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(s.SessionID), s.Source, s.TakenUnixNanos, s.Width, s.Height, s.Channels, s.Mode, s.ModelBlob, nullString(s.Reason))
	if err != nil {
		return 0, fmt.Errorf("insert bg snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.SnapshotID = &id
	return id, nil
}

// GetLatestBgSnapshot returns the newest snapshot, restricted to source when
// it is non-empty. It returns nil, nil when there is none.
func (db *DB) GetLatestBgSnapshot(source string) (*background.BgSnapshot, error) {
	query := `SELECT snapshot_id, session_id, source, taken_unix_nanos, width, height, channels, mode, model_blob, reason
		FROM bg_snapshots`
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY taken_unix_nanos DESC, snapshot_id DESC LIMIT 1`

	var (
		s         background.BgSnapshot
		id        int64
		sessionID sql.NullString
		reason    sql.NullString
	)
	err := db.QueryRow(query, args...).Scan(&id, &sessionID, &s.Source, &s.TakenUnixNanos,
		&s.Width, &s.Height, &s.Channels, &s.Mode, &s.ModelBlob, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest bg snapshot: %w", err)
	}
	s.SnapshotID = &id
	s.SessionID = sessionID.String
	s.Reason = reason.String
	return &s, nil
}

// AttachAdminRoutes mounts tailsql and a backup download under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Motiontrail DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("motiontrail-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			logf("failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		logf("backup copy failed: %v", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
