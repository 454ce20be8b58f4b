package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeInvalidTextRepr      = "22P02"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// classify maps driver errors onto the errs taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			switch pqErr.Constraint {
			case "referral_edges_pkey":
				return fmt.Errorf("%w: %w", errs.ErrAlreadyDistributed, err)
			case "ledger_entries_reverses_entry_id_key":
				return fmt.Errorf("%w: %w", errs.ErrAlreadyReversed, err)
			case "accounts_pkey":
				return fmt.Errorf("%w: account already exists: %w", errs.ErrInvalidArgument, err)
			}
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
		case codeCheckViolation:
			if pqErr.Constraint == "accounts_balance_check" {
				return fmt.Errorf("%w: %w", errs.ErrInsufficientBalance, err)
			}
			return fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
		case codeInvalidTextRepr:
			return fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %w", errs.ErrStorageConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", errs.ErrStorageFailure, err)
}
