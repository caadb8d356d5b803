package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/example/userdirectory/internal/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(sqlite.Open(dsn), gormLogger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := Open(postgres.New(postgres.Config{Conn: sqlDB}), gormLogger.Silent)
	require.NoError(t, err)
	return db, mock
}

func countLedger(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&n).Error)
	return n
}

func claim(tx *gorm.DB, address string) error {
	return tx.Create(&models.LedgerEntry{Address: address, UserID: uuid.New(), Slot: models.SlotPrimary}).Error
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, time.Second, func(tx *gorm.DB) error {
		return claim(tx, "a@example.com")
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), countLedger(t, db), "must commit on success")
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, time.Second, func(tx *gorm.DB) error {
		require.NoError(t, claim(tx, "a@example.com"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrTransient)
	require.Equal(t, int64(0), countLedger(t, db), "must rollback when fn returns error")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	func() {
		defer func() {
			r := recover()
			require.Equal(t, "kaboom", r)
		}()
		_ = WithTx(context.Background(), db, time.Second, func(tx *gorm.DB) error {
			require.NoError(t, claim(tx, "a@example.com"))
			panic("kaboom")
		})
	}()

	require.Equal(t, int64(0), countLedger(t, db), "must rollback on panic")
}

func TestWithTx_BeginFailureIsTransient(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many clients"))

	called := false
	err := WithTx(context.Background(), db, time.Second, func(tx *gorm.DB) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrTransient)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailureIsTransient(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset by peer"))

	err := WithTx(context.Background(), db, time.Second, func(tx *gorm.DB) error { return nil })
	require.ErrorIs(t, err, ErrTransient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_TransientFnErrorIsWrapped(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := WithTx(context.Background(), db, time.Second, func(tx *gorm.DB) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40P01"})
	})
	require.ErrorIs(t, err, ErrTransient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_StatementAfterDeadlineIsTransient(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, 50*time.Millisecond, func(tx *gorm.DB) error {
		time.Sleep(120 * time.Millisecond)
		return claim(tx, "late@example.com")
	})
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int64(0), countLedger(t, db))
}

func TestIsDuplicateKey(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, claim(db, "dup@example.com"))
	sqliteErr := claim(db, "dup@example.com")
	require.Error(t, sqliteErr)

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm", fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey), true},
		{"pgx", &pgconn.PgError{Code: "23505"}, true},
		{"pgx other", &pgconn.PgError{Code: "23503"}, false},
		{"pq", &pq.Error{Code: "23505"}, true},
		{"sqlite", sqliteErr, true},
		{"plain", errors.New("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKey(tc.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("q: %w", context.DeadlineExceeded), true},
		{"sentinel", ErrTransient, true},
		{"connection class", &pgconn.PgError{Code: "08006"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pq lock", &pq.Error{Code: "55P03"}, true},
		{"unique", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, gormLogger.Silent, logLevel("silent"))
	assert.Equal(t, gormLogger.Info, logLevel("INFO"))
	assert.Equal(t, gormLogger.Warn, logLevel(""))
}

func TestEnsureDatabase_SkipsNonURLDSN(t *testing.T) {
	require.NoError(t, ensureDatabase("host=localhost dbname=x"))
	require.NoError(t, ensureDatabase("postgres://localhost:5432/"))
}
