package scanstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/model"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// DefaultFileName is the on-device database file name.
const DefaultFileName = "crop_diagnosis.db"

// Store is the durable on-device record of every diagnosis scan.
//
// A Store must be initialized with Init before any other call; until then
// every operation fails with ErrNotInitialized. Writes are serialized by
// keeping a single open connection to SQLite.
type Store struct {
	db          *sql.DB
	logger      logging.Logger
	initialized atomic.Bool
}

// Open opens (or creates) the SQLite database at path. Use ":memory:" for a
// throwaway store. The returned Store still needs Init.
func Open(path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("scanstore: empty database path")
	}
	if logger == nil {
		return nil, errors.New("scanstore: nil logger")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		logger.Warn("applying sqlite pragmas", logging.Err(err))
	}

	return New(db, logger)
}

// New wraps an already opened database handle.
func New(db *sql.DB, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("scanstore: nil db")
	}
	if logger == nil {
		return nil, errors.New("scanstore: nil logger")
	}
	return &Store{db: db, logger: logger.With(logging.Field{Key: "component", Value: "scanstore"})}, nil
}

// Init creates the scans table if it does not exist. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return storageErr("init", fmt.Errorf("read schema.sql: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return storageErr("init", fmt.Errorf("execute schema: %w", err))
	}
	if !s.initialized.Swap(true) {
		s.logger.Info("scan store initialized")
	}
	return nil
}

func (s *Store) ready(op string) error {
	if !s.initialized.Load() {
		return storageErr(op, ErrNotInitialized)
	}
	return nil
}

// NormalizeConfidence converts a confidence value to a 0-1 fraction. Values
// in (1, 100] are treated as percentages.
func NormalizeConfidence(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("confidence is not a finite number")
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("confidence %v out of range", v)
	}
	if v > 1 {
		return v / 100, nil
	}
	return v, nil
}

// TimestampLayout is the fixed-width UTC form every stored timestamp takes,
// so that text ordering in SQL matches chronological ordering.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NormalizeTimestamp parses an RFC 3339 timestamp and renders it in
// TimestampLayout. Precision below a millisecond is dropped.
func NormalizeTimestamp(v string) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("timestamp %q is not RFC 3339", v)
	}
	return t.UTC().Format(TimestampLayout), nil
}

func validate(rec *model.ScanRecord) (string, bool) {
	switch {
	case strings.TrimSpace(rec.CropName) == "":
		return "crop_name is required", false
	case strings.TrimSpace(rec.DiseaseName) == "":
		return "disease_name is required", false
	case strings.TrimSpace(rec.ImageURI) == "":
		return "image_uri is required", false
	case strings.TrimSpace(rec.Timestamp) == "":
		return "timestamp is required", false
	case math.IsNaN(rec.QualityScore) || math.IsInf(rec.QualityScore, 0):
		return "quality_score is not a finite number", false
	case (rec.Latitude == nil) != (rec.Longitude == nil):
		return "latitude and longitude must be set together", false
	}
	if _, err := NormalizeTimestamp(rec.Timestamp); err != nil {
		return err.Error(), false
	}
	return "", true
}

// SaveScan inserts rec and returns the identifier assigned by the store.
// rec.ID, rec.Confidence and rec.Timestamp are updated in place to the
// stored values.
func (s *Store) SaveScan(ctx context.Context, rec *model.ScanRecord) (int64, error) {
	const op = "save"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, invalid(op, "record is nil")
	}
	if reason, ok := validate(rec); !ok {
		return 0, invalid(op, reason)
	}
	confidence, err := NormalizeConfidence(rec.Confidence)
	if err != nil {
		return 0, invalid(op, err.Error())
	}
	timestamp, err := NormalizeTimestamp(rec.Timestamp)
	if err != nil {
		return 0, invalid(op, err.Error())
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (crop_name, disease_name, confidence, image_uri, quality_score, latitude, longitude, timestamp, is_synced)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CropName,
		rec.DiseaseName,
		confidence,
		rec.ImageURI,
		rec.QualityScore,
		nullableFloat(rec.Latitude),
		nullableFloat(rec.Longitude),
		timestamp,
		boolToInt(rec.IsSynced),
	)
	if err != nil {
		return 0, storageErr(op, fmt.Errorf("insert scan: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr(op, fmt.Errorf("last insert id: %w", err))
	}

	rec.ID = id
	rec.Confidence = confidence
	rec.Timestamp = timestamp
	s.logger.Debug("saved scan",
		logging.Field{Key: "id", Value: id},
		logging.Field{Key: "crop", Value: rec.CropName},
		logging.Field{Key: "is_synced", Value: rec.IsSynced})
	return id, nil
}

const selectColumns = `SELECT id, crop_name, disease_name, confidence, image_uri, quality_score, latitude, longitude, timestamp, is_synced FROM scans`

// GetUnsyncedScans returns every record with is_synced = 0, oldest id first.
func (s *Store) GetUnsyncedScans(ctx context.Context) ([]*model.ScanRecord, error) {
	const op = "list_unsynced"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.query(ctx, op, selectColumns+` WHERE is_synced = 0 ORDER BY id ASC`)
}

// GetAllScans returns every record, most recent timestamp first.
func (s *Store) GetAllScans(ctx context.Context) ([]*model.ScanRecord, error) {
	const op = "list_all"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.query(ctx, op, selectColumns+` ORDER BY timestamp DESC, id DESC`)
}

// GetScan returns a single record or ErrScanNotFound.
func (s *Store) GetScan(ctx context.Context, id int64) (*model.ScanRecord, error) {
	const op = "get"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	recs, err := s.query(ctx, op, selectColumns+` WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, storageErr(op, ErrScanNotFound)
	}
	return recs[0], nil
}

// MarkAsSynced flags the record as delivered. Unknown ids are ignored.
func (s *Store) MarkAsSynced(ctx context.Context, id int64) error {
	const op = "mark_synced"
	if err := s.ready(op); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scans SET is_synced = 1 WHERE id = ?`, id)
	if err != nil {
		return storageErr(op, fmt.Errorf("update scan: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("mark synced: no such scan", logging.Field{Key: "id", Value: id})
	}
	return nil
}

// DeleteScan removes the record. Unknown ids are ignored.
func (s *Store) DeleteScan(ctx context.Context, id int64) error {
	const op = "delete"
	if err := s.ready(op); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id); err != nil {
		return storageErr(op, fmt.Errorf("delete scan: %w", err))
	}
	return nil
}

// Stats summarizes the stored history.
func (s *Store) Stats(ctx context.Context) (*model.ScanStats, error) {
	const op = "stats"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
                COALESCE(SUM(CASE WHEN is_synced = 1 THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN LOWER(disease_name) LIKE '%healthy%' THEN 1 ELSE 0 END), 0),
                MAX(timestamp)
         FROM scans`)

	var st model.ScanStats
	var last sql.NullString
	if err := row.Scan(&st.Total, &st.Synced, &st.Healthy, &last); err != nil {
		return nil, storageErr(op, fmt.Errorf("scan stats: %w", err))
	}
	st.Unsynced = st.Total - st.Synced
	if last.Valid {
		st.LastScanAt = last.String
	}
	return &st, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.initialized.Store(false)
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]*model.ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, fmt.Errorf("query scans: %w", err))
	}
	defer rows.Close()

	out := []*model.ScanRecord{}
	for rows.Next() {
		var (
			rec      model.ScanRecord
			lat, lon sql.NullFloat64
			synced   int64
		)
		if err := rows.Scan(&rec.ID, &rec.CropName, &rec.DiseaseName, &rec.Confidence, &rec.ImageURI,
			&rec.QualityScore, &lat, &lon, &rec.Timestamp, &synced); err != nil {
			return nil, storageErr(op, fmt.Errorf("scan row: %w", err))
		}
		if lat.Valid {
			rec.Latitude = &lat.Float64
		}
		if lon.Valid {
			rec.Longitude = &lon.Float64
		}
		rec.IsSynced = synced != 0
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
