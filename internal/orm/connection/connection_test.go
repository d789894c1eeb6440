package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLConnectionAutoCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	c, err := Open(ctx, db)
	require.NoError(t, err)
	assert.True(t, c.AutoCommit())
	assert.False(t, c.InTransaction())

	mock.ExpectExec("DELETE FROM person").WillReturnResult(sqlmock.NewResult(0, 2))
	q, err := c.Querier()
	require.NoError(t, err)
	_, err = q.ExecContext(ctx, "DELETE FROM person")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Commit(), ErrNoTransaction)
	assert.ErrorIs(t, c.Rollback(), ErrNoTransaction)

	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())
	assert.NoError(t, c.Close(), "closing twice is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConnectionTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	c, err := Open(ctx, db)
	require.NoError(t, err)

	mock.ExpectBegin()
	require.NoError(t, c.SetAutoCommit(false))
	assert.True(t, c.InTransaction())

	mock.ExpectExec("INSERT INTO person").WillReturnResult(sqlmock.NewResult(1, 1))
	q, err := c.Querier()
	require.NoError(t, err)
	_, err = q.ExecContext(ctx, "INSERT INTO person (id) VALUES (1)")
	require.NoError(t, err)

	mock.ExpectCommit()
	mock.ExpectBegin()
	require.NoError(t, c.Commit())
	assert.True(t, c.InTransaction(), "a new transaction follows commit")

	mock.ExpectRollback()
	mock.ExpectBegin()
	require.NoError(t, c.Rollback())

	mock.ExpectCommit()
	require.NoError(t, c.SetAutoCommit(true))
	assert.False(t, c.InTransaction())

	mock.ExpectBegin()
	require.NoError(t, c.SetAutoCommit(false))
	mock.ExpectRollback()
	require.NoError(t, c.Close(), "close rolls back the open transaction")

	assert.ErrorIs(t, c.Commit(), ErrClosed)
	assert.ErrorIs(t, c.SetAutoCommit(true), ErrClosed)
	_, err = c.Querier()
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("no more connections"))
	_, err = Open(context.Background(), db, WithAutoCommit(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
}

func TestWith(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE person").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		var used *SQLConnection
		err = With(ctx, db, func(c *SQLConnection) error {
			used = c
			q, err := c.Querier()
			if err != nil {
				return err
			}
			_, err = q.ExecContext(ctx, "UPDATE person SET name = ?", "x")
			return err
		})
		require.NoError(t, err)
		assert.True(t, used.IsClosed())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = With(ctx, db, func(c *SQLConnection) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		var used *SQLConnection
		assert.PanicsWithValue(t, "kaboom", func() {
			_ = With(ctx, db, func(c *SQLConnection) error {
				used = c
				panic("kaboom")
			})
		})
		assert.True(t, used.IsClosed())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err = WithRetry(context.Background(), db, &RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond},
		func(c *SQLConnection) error {
			attempts++
			if attempts == 1 {
				return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err = WithRetry(context.Background(), db, nil, func(c *SQLConnection) error {
		attempts++
		return errors.New("syntax error")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsDeadlock(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("pq: deadlock detected"), true},
		{errors.New("Error 1213 (40001): Deadlock found when trying to get lock"), true},
		{errors.New("mssql: Transaction (Process ID 52) was deadlocked on lock resources"), true},
		{errors.New("database is locked"), true},
		{ErrDeadlock, true},
		{errors.New("duplicate key value"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDeadlock(tt.err), "%v", tt.err)
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	_, ok := FromContext(ctx)
	assert.False(t, ok)

	m := NewMemory(nil)
	scoped := WithContext(ctx, m)
	got, ok := FromContext(scoped)
	require.True(t, ok)
	assert.Same(t, m, got)
}

func TestMemory(t *testing.T) {
	store := map[string]int{}
	m := NewMemory(store)
	var _ ObjectConnection = m

	assert.Equal(t, store, m.Datastore())
	assert.True(t, m.AutoCommit())
	require.NoError(t, m.SetReadOnly(true))
	assert.True(t, m.ReadOnly())
	require.NoError(t, m.Commit())

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
	assert.ErrorIs(t, m.Rollback(), ErrClosed)
}
