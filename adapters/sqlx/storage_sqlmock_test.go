package sqlx_test

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "leaderwatch/adapters/sqlx"
	"leaderwatch/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_SetScore_Upsert(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO leaderboard`).
		WithArgs("u1", 42.5, "Ana", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.SetScore(context.Background(), core.ScoreRecord{UserID: "u1", Score: 42.5, DisplayName: "Ana"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetScore_EmptyUser(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	err := store.SetScore(context.Background(), core.ScoreRecord{Score: 1})
	require.ErrorIs(t, err, core.ErrEmptyUserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_LoadScores(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, score, name FROM leaderboard`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "score", "name"}).
			AddRow("a", 10.0, "Ana").
			AddRow("b", 7.5, ""))

	recs, err := store.LoadScores(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, core.ScoreRecord{UserID: "a", Score: 10, DisplayName: "Ana"}, recs[0])
	require.Equal(t, core.DefaultDisplayName, recs[1].Name())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ScoresInRange(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, score, name FROM leaderboard WHERE score >= \$1 AND score < \$2`).
		WithArgs(10.0, 20.0).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "score", "name"}).
			AddRow("b", 12.0, "Bia"))

	recs, err := store.ScoresInRange(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Equal(t, []core.ScoreRecord{{UserID: "b", Score: 12, DisplayName: "Bia"}}, recs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_ScoresInRange_Error(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, score, name FROM leaderboard`).
		WillReturnError(errors.New("connection reset"))

	_, err := store.ScoresInRange(context.Background(), 0, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

func TestSQLMock_DeviceTokens(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT token FROM user_tokens WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("t1").AddRow("t2"))

	tokens, err := store.DeviceTokens(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, tokens)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AddDeviceTokens(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_tokens`).
		WithArgs("u1", "t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO user_tokens`).
		WithArgs("u1", "t2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, store.AddDeviceTokens(context.Background(), "u1", "t1", "t2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RemoveDeviceTokens(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM user_tokens WHERE user_id = \$1 AND token = ANY`).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RemoveDeviceTokens(context.Background(), "u1", []string{"t1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RemoveDeviceTokens_Empty(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	require.NoError(t, store.RemoveDeviceTokens(context.Background(), "u1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_WatchRequiresDSN(t *testing.T) {
	store, _, cleanup := newMockStore(t)
	defer cleanup()

	_, err := store.Watch(context.Background())
	require.Error(t, err)
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	_, err := storage.New(storage.Config{Driver: "mysql", DSN: "x"})
	require.Error(t, err)

	_, err = storage.New(storage.DefaultConfig(storage.DriverPostgres))
	require.Error(t, err)
}

func TestSQLMock_MigrateUsesConfiguredChannel(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()
	store.WithChannel("lb")
	require.Equal(t, "lb", store.Channel())

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leaderboard`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TRIGGER IF EXISTS leaderboard_notify_trg`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`EXECUTE FUNCTION leaderboard_notify\('lb'\)`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_MigrateDefaultChannel(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TRIGGER`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`leaderboard_notify\('leaderboard_changes'\)`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_MigrateSchemaError(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))

	err := store.Migrate(context.Background())
	require.ErrorContains(t, err, "failed to apply schema")
	require.NoError(t, mock.ExpectationsWereMet())
}
