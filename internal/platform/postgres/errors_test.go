package postgres

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/deepfocal/taskwatch/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, MapError(nil))

	err := MapError(sql.ErrNoRows)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = MapError(&pgconn.PgError{Code: checkViolationCode, ConstraintName: "analysis_results_kind_check"})
	assert.True(t, errors.Is(err, store.ErrInvalidEntity))
	assert.Contains(t, err.Error(), "analysis_results_kind_check")

	err = MapError(&pgconn.PgError{Code: notNullViolationCode, ColumnName: "task_id"})
	assert.True(t, errors.Is(err, store.ErrInvalidEntity))
	assert.Contains(t, err.Error(), "task_id")

	plain := errors.New("connection reset")
	assert.Equal(t, plain, MapError(plain))
}

func TestNewPostgresResultStore_NilDB(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewPostgresResultStore(nil, nil) })
}
