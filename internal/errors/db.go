package errors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgRule maps one postgres SQLSTATE onto the taxonomy. field picks the
// offending column or constraint out of the server error, when there is one.
type pgRule struct {
	code    ErrorCode
	message string
	field   func(*pgconn.PgError) string
}

func constraintOf(e *pgconn.PgError) string { return e.ConstraintName }
func columnOf(e *pgconn.PgError) string     { return e.ColumnName }

var (
	timedOut = pgRule{code: ErrCodeTimeout, message: "request timed out, please retry"}
	badValue = pgRule{code: ErrCodeInvalidParameters, message: "value has an invalid format", field: columnOf}

	pgRules = map[string]pgRule{
		pgerrcode.CheckViolation:            {code: ErrCodeInvalidState, message: "update rejected by a run state constraint", field: constraintOf},
		pgerrcode.UniqueViolation:           {code: ErrCodeInvalidState, message: "row already exists", field: constraintOf},
		pgerrcode.ForeignKeyViolation:       {code: ErrCodeNotFound, message: "referenced row does not exist", field: constraintOf},
		pgerrcode.NotNullViolation:          {code: ErrCodeInvalidParameters, message: "required field is missing", field: columnOf},
		pgerrcode.InvalidTextRepresentation: badValue,
		pgerrcode.InvalidJSONText:           badValue,
		pgerrcode.QueryCanceled:             timedOut,
		pgerrcode.LockNotAvailable:          timedOut,
	}
)

// MapDBError converts a driver or context error into an *AppError.
// AppErrors pass through; unrecognised failures become opaque Storage errors.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: timedOut.message, Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "request was canceled", Cause: err}
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "resource not found", Cause: err}
	case errors.As(err, &pgErr):
		rule, ok := pgRules[pgErr.Code]
		if !ok {
			return Storage(pgErr)
		}
		mapped := &AppError{Code: rule.code, Message: rule.message, Cause: pgErr}
		if rule.field != nil {
			mapped.Field = rule.field(pgErr)
		}
		return mapped
	default:
		return Storage(err)
	}
}
