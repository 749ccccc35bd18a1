package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/deepfocal/taskwatch/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes that indicate a row the schema refuses.
const (
	checkViolationCode   = "23514"
	notNullViolationCode = "23502"
)

// MapError translates driver errors into store sentinels. Errors it does not
// recognize are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case checkViolationCode:
		return fmt.Errorf("%w: violates %s: %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case notNullViolationCode:
		return fmt.Errorf("%w: %s is required: %v", store.ErrInvalidEntity, pgErr.ColumnName, err)
	default:
		return err
	}
}
