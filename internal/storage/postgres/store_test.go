package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

var sourceCols = []string{"id", "url", "name", "file_name", "state", "processed_at", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
}

func TestCreateSourceFillsIdentity(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("INSERT INTO sources").
		WithArgs("https://example.com/a.pdf", "A1", "a.pdf", "OK").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	src := watch.Source{URL: "https://example.com/a.pdf", Name: "A1", FileName: "a.pdf"}
	require.NoError(t, store.CreateSource(context.Background(), &src))
	assert.Equal(t, int64(42), src.ID)
	assert.Equal(t, watch.SourceStateOK, src.State)
	assert.Equal(t, now, src.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSourceMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO sources").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	src := watch.Source{URL: "https://example.com/a.pdf", FileName: "a.pdf"}
	err := store.CreateSource(context.Background(), &src)
	require.ErrorIs(t, err, watch.ErrDuplicateSource)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSourceByURL(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM sources WHERE url").
		WithArgs("https://example.com/a.pdf").
		WillReturnRows(pgxmock.NewRows(sourceCols).
			AddRow(int64(1), "https://example.com/a.pdf", "A1", "a.pdf", "BAD_SOURCE", nil, now, now))
	mock.ExpectQuery("SELECT (.+) FROM sources WHERE url").
		WithArgs("https://example.com/missing.pdf").
		WillReturnRows(pgxmock.NewRows(sourceCols))

	src, err := store.FindSourceByURL(context.Background(), "https://example.com/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, watch.SourceStateBadSource, src.State)
	assert.Nil(t, src.ProcessedAt)

	_, err = store.FindSourceByURL(context.Background(), "https://example.com/missing.pdf")
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPendingSource(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("FROM sources\\s+WHERE processed_at IS NULL AND state = 'OK'").
		WillReturnRows(pgxmock.NewRows(sourceCols).
			AddRow(int64(3), "https://example.com/c.pdf", "C", "c.pdf", "OK", nil, now, now))
	mock.ExpectQuery("FROM sources\\s+WHERE processed_at IS NULL").
		WillReturnRows(pgxmock.NewRows(sourceCols))

	src, err := store.NextPendingSource(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), src.ID)
	assert.True(t, src.Pending())

	_, err = store.NextPendingSource(context.Background())
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSourceState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sources SET state").
		WithArgs("BAD_SOURCE", int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE sources SET state").
		WithArgs("BAD_SOURCE", int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateSourceState(context.Background(), 5, watch.SourceStateBadSource))
	err := store.UpdateSourceState(context.Background(), 6, watch.SourceStateBadSource)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSourceInvalid(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE sources SET state").
		WithArgs("INVALID_PDF", at, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkSourceInvalid(context.Background(), 5, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveParsedNumbersCommitsOnce(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	numbers := []watch.InfoNumber{
		{Identifier: watch.Identifier{Number: 12345, Year: 2021}},
		{Identifier: watch.Identifier{Number: 999, Code: "RD", Year: 2020}},
	}

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"info_numbers"}, []string{"number", "code", "year", "source_id"}).
		WillReturnResult(2)
	mock.ExpectExec("UPDATE sources SET processed_at").
		WithArgs(at, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveParsedNumbers(context.Background(), 7, numbers, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveParsedNumbersWithoutNumbersStillStamps(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sources SET processed_at").
		WithArgs(at, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveParsedNumbers(context.Background(), 7, nil, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveParsedNumbersRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("copy failed")

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"info_numbers"}, []string{"number", "code", "year", "source_id"}).
		WillReturnError(boom)
	mock.ExpectRollback()

	numbers := []watch.InfoNumber{{Identifier: watch.Identifier{Number: 12345, Year: 2021}}}
	err := store.SaveParsedNumbers(context.Background(), 7, numbers, time.Now())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindInfoNumberIgnoresCode(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "number", "code", "year", "source_id", "created_at"}

	mock.ExpectQuery("FROM info_numbers").
		WithArgs(int64(12345), 2021).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(9), int64(12345), "RD", 2021, int64(3), now))
	mock.ExpectQuery("FROM info_numbers").
		WithArgs(int64(1), 2000).
		WillReturnRows(pgxmock.NewRows(cols))

	n, err := store.FindInfoNumber(context.Background(), 12345, 2021)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n.ID)
	assert.Equal(t, "RD", n.Code)
	assert.Equal(t, int64(3), n.SourceID)

	_, err = store.FindInfoNumber(context.Background(), 1, 2000)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingWatches(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "number", "code", "year", "user_id", "info_number_id", "enabled", "search_at", "label", "created_at"}
	limit := 2

	mock.ExpectQuery("ORDER BY search_at ASC NULLS FIRST").
		WithArgs(&limit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(1), int64(12345), "", 2021, int64(7), nil, true, nil, "", now).
			AddRow(int64(2), int64(999), "RD", 2020, int64(8), nil, true, now, "mine", now))

	got, err := store.ListPendingWatches(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].SearchAt)
	require.NotNil(t, got[1].SearchAt)
	assert.True(t, got[1].SearchAt.Equal(now))
	assert.Equal(t, "RD", got[1].Code)
	assert.Nil(t, got[1].InfoNumberID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingWatchesWithoutLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM user_numbers").
		WithArgs((*int)(nil)).
		WillReturnError(errors.New("boom"))

	_, err := store.ListPendingWatches(context.Background(), 0)
	require.ErrorContains(t, err, "list pending watches")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWatchResultsGuardsExistingMatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	match := int64(9)
	watches := []watch.UserNumber{
		{ID: 1, SearchAt: &now, InfoNumberID: &match},
		{ID: 2, SearchAt: &now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("WHERE id = \\$3 AND info_number_id IS NULL").
		WithArgs(&now, &match, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("WHERE id = \\$3 AND info_number_id IS NULL").
		WithArgs(&now, (*int64)(nil), int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	require.NoError(t, store.SaveWatchResults(context.Background(), watches))
	require.NoError(t, store.SaveWatchResults(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatchExistsAndCreateWatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	id := watch.Identifier{Number: 12345, Code: "AB", Year: 2021}

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7), int64(12345), "AB", 2021).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO user_numbers").
		WithArgs(int64(12345), "AB", 2021, int64(7), true, "mine").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))

	exists, err := store.WatchExists(context.Background(), 7, id)
	require.NoError(t, err)
	assert.False(t, exists)

	w := watch.UserNumber{Identifier: id, UserID: 7, Enabled: true, Label: "mine"}
	require.NoError(t, store.CreateWatch(context.Background(), &w))
	assert.Equal(t, int64(11), w.ID)
	assert.Equal(t, now, w.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	cols := []string{"id", "number", "code", "year", "user_id", "info_number_id", "enabled", "search_at", "label", "created_at"}

	mock.ExpectQuery("FROM user_numbers WHERE id = \\$1").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(3), int64(12345), "", 2021, int64(7), int64(9), false, now, "", now))
	mock.ExpectQuery("FROM user_numbers WHERE id = \\$1").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(cols))

	got, err := store.GetWatch(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.False(t, got.Enabled)
	require.NotNil(t, got.InfoNumberID)
	assert.Equal(t, int64(9), *got.InfoNumberID)

	_, err = store.GetWatch(context.Background(), 4)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetWatchEnabledChecksOwner(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE user_numbers SET enabled").
		WithArgs(false, int64(3), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE user_numbers SET enabled").
		WithArgs(true, int64(3), int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetWatchEnabled(context.Background(), 7, 3, false))
	require.ErrorIs(t, store.SetWatchEnabled(context.Background(), 8, 3, true), watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteWatchChecksOwner(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM user_numbers").
		WithArgs(int64(3), int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM user_numbers").
		WithArgs(int64(3), int64(8)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM user_numbers").
		WithArgs(int64(5), int64(7)).
		WillReturnError(errors.New("boom"))

	require.NoError(t, store.DeleteWatch(context.Background(), 7, 3))
	require.ErrorIs(t, store.DeleteWatch(context.Background(), 8, 3), watch.ErrNotFound)
	require.ErrorContains(t, store.DeleteWatch(context.Background(), 7, 5), "delete watch 5")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cols := []string{
		"email", "email_enabled", "email_verified", "phone", "phone_enabled", "phone_verified",
		"verification_type", "verification_code", "verification_attempts",
	}

	mock.ExpectQuery("FROM notification_settings").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("a@example.com", true, true, "373", false, false, "PHONE", int64(123456), 2))
	mock.ExpectQuery("FROM notification_settings").
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows(cols))

	got, err := store.GetNotificationSettings(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email())
	assert.True(t, got.EmailDeliverable())
	assert.False(t, got.SMSDeliverable())
	require.NotNil(t, got.Verification)
	assert.Equal(t, watch.VerificationPhone, got.Verification.Type)
	assert.Equal(t, 123456, got.Verification.Code)
	assert.Equal(t, 2, got.Verification.Attempts)

	_, err = store.GetNotificationSettings(context.Background(), 8)
	require.ErrorIs(t, err, watch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveNotificationSettingsUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	settings := watch.RestoreNotificationSettings(7, "a@example.com", "")
	settings.EmailEnabled = true
	settings.Verification = &watch.Verification{Type: watch.VerificationEmail, Code: 654321, Attempts: 1}

	mock.ExpectExec("ON CONFLICT \\(user_id\\) DO UPDATE").
		WithArgs(
			int64(7), "a@example.com", true, false, "", false, false,
			pgtype.Text{String: "EMAIL", Valid: true},
			pgtype.Int4{Int32: 654321, Valid: true},
			1,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveNotificationSettings(context.Background(), settings))
	require.NoError(t, mock.ExpectationsWereMet())
}
