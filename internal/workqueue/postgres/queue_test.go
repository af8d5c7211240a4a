package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

func newMockQueue(t *testing.T) (*Queue, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	q, err := NewQueueWithPool(mock, "work_items", "pagecount", fixedIDs{id: "0192-id"})
	require.NoError(t, err)
	return q, mock
}

func TestNewQueueWithPoolValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewQueueWithPool(nil, "", "", fixedIDs{})
	require.ErrorContains(t, err, "pool is required")
	_, err = NewQueueWithPool(mock, "", "", nil)
	require.ErrorContains(t, err, "id generator is required")
	_, err = NewQueueWithPool(mock, "items; DROP TABLE x", "", fixedIDs{})
	require.ErrorContains(t, err, "invalid table name")

	q, err := NewQueueWithPool(mock, "", "", fixedIDs{})
	require.NoError(t, err)
	require.Equal(t, "work_items", q.table)
	require.Equal(t, "default", q.queue)
}

func TestNewQueueRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewQueue(context.Background(), Config{}, fixedIDs{})
	require.ErrorContains(t, err, "postgres.dsn is required")
}

func TestAddInsertsNewItem(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectExec("INSERT INTO work_items").
		WithArgs("0192-id", "pagecount", "https://www.bbc.com",
			[]byte(`{"url":"https://www.bbc.com","imagecount":0,"hrefcount":0}`), "new").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	item, err := q.Add(context.Background(), workqueue.NewItemData("https://www.bbc.com"), "https://www.bbc.com")
	require.NoError(t, err)
	require.Equal(t, "0192-id", item.ID)
	require.Equal(t, workqueue.StatusNew, item.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearDeletesByStatus(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectExec("DELETE FROM work_items").
		WithArgs("pagecount", "new").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	require.NoError(t, q.Clear(context.Background(), workqueue.StatusNew))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextClaimsItem(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	rows := mock.NewRows([]string{"id", "reference", "data", "status", "message"}).
		AddRow("0192-id", "https://example.com",
			[]byte(`{"url":"https://example.com","imagecount":0,"hrefcount":0}`), "in progress", "")
	mock.ExpectQuery("UPDATE work_items SET status").
		WithArgs("in progress", "pagecount", "new").
		WillReturnRows(rows)

	item, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0192-id", item.ID)
	require.Equal(t, "https://example.com", item.Data.URL)
	require.Equal(t, workqueue.StatusInProgress, item.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextEmpty(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectQuery("UPDATE work_items SET status").
		WithArgs("in progress", "pagecount", "new").
		WillReturnError(pgx.ErrNoRows)

	_, err := q.Next(context.Background())
	require.ErrorIs(t, err, workqueue.ErrEmpty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPropagatesQueryError(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectQuery("UPDATE work_items SET status").
		WithArgs("in progress", "pagecount", "new").
		WillReturnError(errors.New("connection refused"))

	_, err := q.Next(context.Background())
	require.ErrorContains(t, err, "claim item: connection refused")
}

func TestUpdateAndSetStatus(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectExec("UPDATE work_items SET data").
		WithArgs([]byte(`{"url":"https://example.com","imagecount":3,"hrefcount":4}`), "0192-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE work_items SET status").
		WithArgs("completed", "", "0192-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	data := workqueue.ItemData{URL: "https://example.com", ImageCount: 3, HrefCount: 4}
	require.NoError(t, q.Update(context.Background(), "0192-id", data, "https://example.com"))
	require.NoError(t, q.SetStatus(context.Background(), "0192-id", workqueue.StatusCompleted, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusUnknownID(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectExec("UPDATE work_items SET status").
		WithArgs("failed", "timeout", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := q.SetStatus(context.Background(), "missing", workqueue.StatusFailed, "timeout")
	require.ErrorIs(t, err, workqueue.ErrNotFound)
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	q, mock := newMockQueue(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS work_items").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, q.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
