// Package recorder persists CSI capture sessions to SQLite and plays them
// back. A session holds the raw frames of one run together with the track
// lifecycle events and poses the pipeline produced from them, so a capture
// can be re-run offline and the new output compared with the old.
package recorder

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("recorder: session not found")

// Store is a recording database.
type Store struct {
	db   *sql.DB
	path string
}

// Session describes one recording.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	Shape        csi.GridShape `json:"shape"`
	SampleRateHz float64       `json:"sample_rate_hz"`
	Source       string        `json:"source"`
	Frames       int           `json:"frames"`
	Events       int           `json:"events"`
}

// Open opens or creates the database at path and applies any pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; WAL keeps readers (replay, tailsql) unblocked.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// Closing the migrate instance would close s.db, so it is left to the
// garbage collector.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { diagf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// CreateSession starts a new recording.
func (s *Store) CreateSession(ctx context.Context, shape csi.GridShape, sampleRateHz float64, source string, startedAt time.Time) (*Session, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	sess := &Session{
		ID:           uuid.New(),
		StartedAt:    startedAt,
		Shape:        shape,
		SampleRateHz: sampleRateHz,
		Source:       source,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at_ns, tx, rx, subcarriers, sample_rate_hz, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), startedAt.UnixNano(), shape.Tx, shape.Rx, shape.Subcarriers, sampleRateHz, source)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

const sessionColumns = `s.session_id, s.started_at_ns, s.tx, s.rx, s.subcarriers, s.sample_rate_hz, s.source,
	(SELECT COUNT(*) FROM csi_frames f WHERE f.session_id = s.session_id),
	(SELECT COUNT(*) FROM track_events e WHERE e.session_id = s.session_id)`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		sess    Session
		id      string
		started int64
	)
	if err := row.Scan(&id, &started, &sess.Shape.Tx, &sess.Shape.Rx, &sess.Shape.Subcarriers,
		&sess.SampleRateHz, &sess.Source, &sess.Frames, &sess.Events); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", id, err)
	}
	sess.ID = parsed
	sess.StartedAt = time.Unix(0, started).UTC()
	return &sess, nil
}

// Session returns one session with its counts.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.session_id = ?`, id.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// Sessions lists every session, newest first.
func (s *Store) Sessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.started_at_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and everything recorded in it.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Batch is a set of rows written in one transaction.
type Batch struct {
	Frames []*csi.Frame
	Events []csi.TrackEvent
	Poses  []csi.PoseEstimate
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int { return len(b.Frames) + len(b.Events) + len(b.Poses) }

// Write stores a batch for session id in one transaction.
func (s *Store) Write(ctx context.Context, id uuid.UUID, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sid := id.String()
	if len(b.Frames) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO csi_frames (session_id, seq, ts_ns, samples, valid) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range b.Frames {
			if err := f.CheckLayout(); err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, sid, int64(f.Seq), f.Timestamp.UnixNano(), encodeSamples(f.Samples), encodeMask(f.Valid)); err != nil {
				return fmt.Errorf("insert frame %d: %w", f.Seq, err)
			}
		}
	}
	for _, ev := range b.Events {
		if _, err := tx.ExecContext(ctx, `INSERT INTO track_events (session_id, track_id, event, ts_ns) VALUES (?, ?, ?, ?)`,
			sid, int64(ev.TrackID), ev.Event.String(), ev.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	for _, p := range b.Poses {
		kp, err := json.Marshal(p.Keypoints)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO pose_updates (session_id, ts_ns, track_id, confidence, keypoints) VALUES (?, ?, ?, ?, ?)`,
			sid, p.Timestamp.UnixNano(), int64(p.TrackID), meanConfidence(p.Confidence), string(kp)); err != nil {
			return fmt.Errorf("insert pose: %w", err)
		}
	}
	return tx.Commit()
}

// Frames returns up to limit frames of a session with Seq > after, in
// order.
func (s *Store) Frames(ctx context.Context, sess *Session, after uint64, limit int) ([]*csi.Frame, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ts_ns, samples, valid FROM csi_frames WHERE session_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		sess.ID.String(), int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*csi.Frame
	for rows.Next() {
		var (
			seq, ts        int64
			samples, valid []byte
		)
		if err := rows.Scan(&seq, &ts, &samples, &valid); err != nil {
			return nil, err
		}
		f := &csi.Frame{Seq: uint64(seq), Timestamp: time.Unix(0, ts).UTC(), Shape: sess.Shape}
		if f.Samples, err = decodeSamples(samples); err != nil {
			return nil, fmt.Errorf("frame %d: %w", seq, err)
		}
		f.Valid = decodeMask(valid)
		out = append(out, f)
	}
	return out, rows.Err()
}

// TrackEvents returns the lifecycle events of a session in time order.
func (s *Store) TrackEvents(ctx context.Context, id uuid.UUID) ([]csi.TrackEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT track_id, event, ts_ns FROM track_events WHERE session_id = ? ORDER BY ts_ns, rowid`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []csi.TrackEvent
	for rows.Next() {
		var (
			track int64
			name  string
			ts    int64
		)
		if err := rows.Scan(&track, &name, &ts); err != nil {
			return nil, err
		}
		ev, err := parseEvent(name)
		if err != nil {
			return nil, err
		}
		out = append(out, csi.TrackEvent{TrackID: csi.TrackID(track), Event: ev, Timestamp: time.Unix(0, ts).UTC()})
	}
	return out, rows.Err()
}

// PoseCount returns how many pose rows a session holds per track.
func (s *Store) PoseCount(ctx context.Context, id uuid.UUID) (map[csi.TrackID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT track_id, COUNT(*) FROM pose_updates WHERE session_id = ? GROUP BY track_id`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[csi.TrackID]int)
	for rows.Next() {
		var track int64
		var n int
		if err := rows.Scan(&track, &n); err != nil {
			return nil, err
		}
		out[csi.TrackID(track)] = n
	}
	return out, rows.Err()
}

func parseEvent(name string) (csi.LifecycleEvent, error) {
	for _, ev := range []csi.LifecycleEvent{csi.Spawned, csi.Confirmed, csi.Retired} {
		if ev.String() == name {
			return ev, nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle event %q", name)
}

func meanConfidence(c []float64) float64 {
	if len(c) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range c {
		sum += v
	}
	return sum / float64(len(c))
}
