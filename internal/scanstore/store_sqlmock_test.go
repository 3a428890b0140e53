package scanstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"github.com/raysh454/cropscan/internal/testutil"
)

var (
	mockDB *sql.DB
	mock   sqlmock.Sqlmock
	store  *Store
)

func setUp() {
	mockDB, mock, _ = sqlmock.New()
	store, _ = New(mockDB, &testutil.DummyLogger{})
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scans").WillReturnResult(sqlmock.NewResult(0, 0))
	_ = store.Init(context.Background())
}

func tearDown() {
	mockDB.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestStore_DriverErrorsSurfaceAsStorageError(t *testing.T) {
	it(func() {
		driverErr := errors.New("disk I/O error")
		mock.ExpectExec("INSERT INTO scans").WillReturnError(driverErr)

		_, err := store.SaveScan(context.Background(), testutil.NewScan("Tomato"))
		if !errors.Is(err, driverErr) {
			t.Fatalf("expected driver error to be wrapped, got %v", err)
		}
		var se *StorageError
		if !errors.As(err, &se) || se.Op != "save" {
			t.Fatalf("expected *StorageError{Op: save}, got %#v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestStore_InitFailureLeavesStoreUninitialized(t *testing.T) {
	it(func() {
		db, m, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		s, err := New(db, &testutil.DummyLogger{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		m.ExpectExec("CREATE TABLE IF NOT EXISTS scans").WillReturnError(errors.New("read-only file system"))

		if err := s.Init(context.Background()); err == nil {
			t.Fatal("expected Init to fail")
		}
		if _, err := s.GetAllScans(context.Background()); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized after failed Init, got %v", err)
		}
	})
}

func TestStore_QueryErrorOnUnsynced(t *testing.T) {
	it(func() {
		mock.ExpectQuery("WHERE is_synced = 0").WillReturnError(errors.New("database is locked"))

		if _, err := store.GetUnsyncedScans(context.Background()); err == nil {
			t.Fatal("expected error from GetUnsyncedScans")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestStore_UnsyncedRowsDecoded(t *testing.T) {
	it(func() {
		rows := sqlmock.NewRows([]string{"id", "crop_name", "disease_name", "confidence", "image_uri", "quality_score", "latitude", "longitude", "timestamp", "is_synced"}).
			AddRow(int64(7), "Tomato", "Early Blight", 0.85, "file:///a.jpg", 85.0, nil, nil, "2026-01-28T14:30:00Z", int64(0)).
			AddRow(int64(9), "Maize", "Rust", 0.6, "file:///b.jpg", 70.0, 1.5, 2.5, "2026-01-29T14:30:00Z", int64(0))
		mock.ExpectQuery("WHERE is_synced = 0").WillReturnRows(rows)

		recs, err := store.GetUnsyncedScans(context.Background())
		if err != nil {
			t.Fatalf("GetUnsyncedScans: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
		if recs[0].ID != 7 || recs[0].HasLocation() || recs[0].IsSynced {
			t.Errorf("unexpected first record %+v", recs[0])
		}
		if recs[1].ID != 9 || !recs[1].HasLocation() || *recs[1].Latitude != 1.5 {
			t.Errorf("unexpected second record %+v", recs[1])
		}
	})
}

func TestStore_MarkAsSyncedMissingRowIsNotAnError(t *testing.T) {
	it(func() {
		mock.ExpectExec("UPDATE scans SET is_synced = 1").WithArgs(int64(42)).WillReturnResult(sqlmock.NewResult(0, 0))

		if err := store.MarkAsSynced(context.Background(), 42); err != nil {
			t.Fatalf("MarkAsSynced: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}
