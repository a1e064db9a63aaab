package db

import (
	"context"
	"errors"

	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeInvalidText          = "22P02"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Classify maps a storage error onto the apperr taxonomy. Errors that are
// already classified pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFoundf("record not found")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return &apperr.Error{Kind: apperr.KindConflict, Message: uniqueMessage(pgErr), Err: err}
		case codeForeignKeyViolation:
			return &apperr.Error{Kind: apperr.KindNotFound, Message: "referenced record not found", Err: err}
		case codeCheckViolation, codeInvalidText:
			return &apperr.Error{Kind: apperr.KindValidation, Message: "invalid value", Err: err}
		}
	}
	return apperr.Unavailable(err)
}

func uniqueMessage(pgErr *pgconn.PgError) string {
	switch pgErr.ConstraintName {
	case "ward_name_key":
		return "ward name already exists"
	case "bed_ward_id_bed_number_key":
		return "bed number already exists in ward"
	case "admission_active_bed_idx":
		return "bed not available"
	}
	return "duplicate record"
}

// IsRetryable reports whether the whole transaction may be replayed.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return pgconn.SafeToRetry(err)
}
