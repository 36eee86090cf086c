package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/pkg/apperr"
)

func TestPostgresGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM documents WHERE path = $1")).
		WithArgs("sessions/s1/polls/p1").
		WillReturnError(pgx.ErrNoRows)

	var dst map[string]interface{}
	err = NewPostgres(mock, nil).Get(context.Background(), "sessions/s1/polls/p1", &dst)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetNotifiesSubscribers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (path, parent, data, updated_at)")).
		WithArgs("sessions/s1/handRaises/alice", "sessions/s1/handRaises", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p := NewPostgres(mock, nil)
	var got []Change
	p.Subscribe(SessionPath("s1"), func(ch Change) { got = append(got, ch) })

	require.NoError(t, p.Set(context.Background(), "sessions/s1/handRaises/alice", map[string]string{"state": "requested"}))
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"state":"requested"}`, string(got[0].Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementReturnsMergedDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO documents (path, parent, data, updated_at)")).
		WithArgs("sessions/s1/recordingStats/stats", "sessions/s1/recordingStats", "views", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"views":4}`)))

	require.NoError(t, NewPostgres(mock, nil).Increment(context.Background(), "sessions/s1/recordingStats/stats", "views", 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListAndDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, data, updated_at FROM documents WHERE parent = $1")).
		WithArgs("sessions/s1/polls").
		WillReturnRows(pgxmock.NewRows([]string{"path", "data", "updated_at"}).
			AddRow("sessions/s1/polls/p1", []byte(`{"state":"closed"}`), now).
			AddRow("sessions/s1/polls/p2", []byte(`{"state":"upcoming"}`), now))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE path = $1 OR starts_with(path, $2)")).
		WithArgs("sessions/s1/polls/p1", "sessions/s1/polls/p1/").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	p := NewPostgres(mock, nil)
	docs, err := p.List(context.Background(), "sessions/s1/polls")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "p2", docs[1].ID())

	require.NoError(t, p.Delete(context.Background(), "sessions/s1/polls/p1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
