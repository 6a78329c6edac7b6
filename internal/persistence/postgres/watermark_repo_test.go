package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

func newMockWatermarkRepo(t *testing.T) (persistence.WatermarkRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewWatermarkRepo(sqlxDB, 5*time.Second), mock
}

func TestWatermarkRepo_Get_NoRowsReturnsNilNoError(t *testing.T) {
	repo, mock := newMockWatermarkRepo(t)
	mock.ExpectQuery(`SELECT id, tf, NULL as period`).
		WithArgs("BTC", "1D").
		WillReturnError(sql.ErrNoRows)

	wm, err := repo.Get(context.Background(), "cmc_price_bars_1d", "BTC", "1D", nil)
	require.NoError(t, err)
	assert.Nil(t, wm)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkRepo_Get_RowFoundPopulatesWatermark(t *testing.T) {
	repo, mock := newMockWatermarkRepo(t)
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "tf", "period", "daily_min_seen", "daily_max_seen",
		"last_time_close", "last_canonical_ts", "last_bar_seq", "updated_at"}).
		AddRow("BTC", "1D", nil, now, now, now, now, int64(42), now)

	mock.ExpectQuery(`SELECT id, tf, NULL as period`).
		WithArgs("BTC", "1D").
		WillReturnRows(rows)

	wm, err := repo.Get(context.Background(), "cmc_price_bars_1d", "BTC", "1D", nil)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "BTC", wm.ID)
	assert.Equal(t, int64(42), wm.LastBarSeq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkRepo_Get_WithPeriodUsesThreeArgQuery(t *testing.T) {
	repo, mock := newMockWatermarkRepo(t)
	period := 14
	mock.ExpectQuery(`SELECT id, tf, period`).
		WithArgs("BTC", "1D", period).
		WillReturnError(sql.ErrNoRows)

	wm, err := repo.Get(context.Background(), "cmc_price_bars_1d", "BTC", "1D", &period)
	require.NoError(t, err)
	assert.Nil(t, wm)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkRepo_Upsert_ExecutesInsertOnConflict(t *testing.T) {
	repo, mock := newMockWatermarkRepo(t)
	mock.ExpectExec(`INSERT INTO cmc_price_bars_1d`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	wm := persistence.Watermark{ID: "BTC", TF: "1D", UpdatedAt: time.Now()}
	err := repo.Upsert(context.Background(), "cmc_price_bars_1d", wm)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkRepo_Reset_ExecutesDelete(t *testing.T) {
	repo, mock := newMockWatermarkRepo(t)
	mock.ExpectExec(`DELETE FROM cmc_price_bars_1d`).
		WithArgs("BTC", "1D").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Reset(context.Background(), "cmc_price_bars_1d", "BTC", "1D", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkRepo_ListIDs_ReturnsDistinctIDs(t *testing.T) {
	repo, mock := newMockWatermarkRepo(t)
	rows := sqlmock.NewRows([]string{"id"}).AddRow("BTC").AddRow("ETH")
	mock.ExpectQuery(`SELECT DISTINCT id FROM cmc_price_bars_1d`).
		WithArgs("1D").
		WillReturnRows(rows)

	ids, err := repo.ListIDs(context.Background(), "cmc_price_bars_1d", "1D")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
