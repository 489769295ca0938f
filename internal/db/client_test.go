package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	// sqlite3 bindvars are ?, so queries pass through Rebind unchanged.
	c := newClientWithDB(sqlx.NewDb(raw, "sqlite3"), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = c.Close() })
	return c, mock
}

func TestUpsertEntityCreates(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO entities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, created, err := c.UpsertEntity(context.Background(), &EntityRecord{
		ID:           "ent-1",
		NaturalKey:   "acme",
		DisplayName:  "Acme",
		Payload:      []byte(`{"name":"Acme"}`),
		Completeness: 0.9,
		Status:       "created",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ent-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntityUpdatesOnConflict(t *testing.T) {
	c, mock := newMockClient(t)

	// ON CONFLICT DO NOTHING affects zero rows: first writer already won.
	mock.ExpectExec("INSERT INTO entities").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE entities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id FROM entities WHERE natural_key = ?").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ent-0"))

	id, created, err := c.UpsertEntity(context.Background(), &EntityRecord{
		ID:         "ent-1",
		NaturalKey: "acme",
		Payload:    []byte(`{}`),
		Status:     "updated",
	})
	require.NoError(t, err)
	assert.False(t, created, "creation is first-writer-wins")
	assert.Equal(t, "ent-0", id, "the existing entity id survives")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityMissing(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery("SELECT \\* FROM entities WHERE natural_key = ?").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec, err := c.GetEntity(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPatchEntityMedia(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("UPDATE entities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.PatchEntityMedia(context.Background(), "acme", []byte(`["https://cdn/a.png"]`), 1, "created")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchEntityMediaMissingRow(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("UPDATE entities").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.PatchEntityMedia(context.Background(), "ghost", nil, 0, "degraded")
	assert.Error(t, err, "patching a never-committed entity is a bug, not a silent no-op")
}

func TestQueuedPhaseWrite(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO pipeline_phases").
		WillReturnResult(sqlmock.NewResult(1, 1))

	done := make(chan error, 1)
	err := c.QueueWrite(WriteTypePhase, &PhaseRecord{
		RunID:      "run-1",
		NaturalKey: "acme",
		Phase:      "RESEARCHED",
		Seq:        2,
	}, func(err error) { done <- err })
	require.NoError(t, err)

	select {
	case werr := <-done:
		assert.NoError(t, werr)
	case <-time.After(2 * time.Second):
		t.Fatal("queued write never processed")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueWriteAfterClose(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()
	c := newClientWithDB(sqlx.NewDb(raw, "sqlite3"), zaptest.NewLogger(t))
	require.NoError(t, c.Close())

	err = c.QueueWrite(WriteTypePhase, &PhaseRecord{}, nil)
	assert.Error(t, err)
}
