package chain

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStoreAppendEmptyLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "authority_ledger")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT entry_hash FROM authority_ledger ORDER BY seq DESC").
		WillReturnRows(sqlmock.NewRows([]string{"entry_hash"}))
	mock.ExpectExec("INSERT INTO authority_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, err := store.Append(context.Background(), func(prev *string) (Entry, error) {
		assert.Nil(t, prev, "empty ledger must hand the builder a nil tip")
		return Seal(Entry{"entry_id": "TST-1"}, prev)
	})
	require.NoError(t, err)
	assert.Nil(t, entry["prev_entry_hash"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendChainsToTip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "authority_ledger")
	tip := "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT entry_hash FROM authority_ledger ORDER BY seq DESC").
		WillReturnRows(sqlmock.NewRows([]string{"entry_hash"}).AddRow(tip))
	mock.ExpectExec("INSERT INTO authority_ledger").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	entry, err := store.Append(context.Background(), func(prev *string) (Entry, error) {
		require.NotNil(t, prev)
		assert.Equal(t, tip, *prev)
		return Seal(Entry{"entry_id": "TST-2"}, prev)
	})
	require.NoError(t, err)
	assert.Equal(t, tip, entry["prev_entry_hash"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendRollsBackOnBuildError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "tlog")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT entry_hash FROM tlog ORDER BY seq DESC").
		WillReturnRows(sqlmock.NewRows([]string{"entry_hash"}))
	mock.ExpectRollback()

	_, err = store.Append(context.Background(), func(prev *string) (Entry, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "authority_ledger")

	mock.ExpectQuery("SELECT body FROM authority_ledger WHERE entry_id").
		WithArgs("AUTH-deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).
			AddRow(`{"entry_id":"AUTH-deadbeef","entry_hash":"sha256:ff"}`))

	entry, err := store.Get(context.Background(), "AUTH-deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "AUTH-deadbeef", entry["entry_id"])
}

func TestSQLStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "authority_ledger")
	mock.ExpectQuery("SELECT body FROM authority_ledger WHERE entry_id").
		WithArgs("AUTH-missing").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	_, err = store.Get(context.Background(), "AUTH-missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
