package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payouts_account_external_id"}

	if !IsUniqueViolation(pgErr, "") {
		t.Fatal("expected unique violation without constraint filter")
	}
	if !IsUniqueViolation(pgErr, "ux_payouts_account_external_id") {
		t.Fatal("expected unique violation with matching constraint")
	}
	if IsUniqueViolation(pgErr, "ux_some_other_index") {
		t.Fatal("constraint filter should reject other constraints")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}, "") {
		t.Fatal("serialization failure is not a unique violation")
	}

	wrapped := fmt.Errorf("insert payout: %w", pgErr)
	if !IsUniqueViolation(wrapped, "") {
		t.Fatal("expected detection through wrapping")
	}

	sqliteErr := errors.New("UNIQUE constraint failed: payouts.external_id")
	if !IsUniqueViolation(sqliteErr, "") {
		t.Fatal("expected sqlite fallback detection")
	}
}

func TestIsSerializationFailure(t *testing.T) {
	if !IsSerializationFailure(&pgconn.PgError{Code: "40001"}) {
		t.Fatal("expected serialization failure for 40001")
	}
	if IsSerializationFailure(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation is not a serialization failure")
	}
	if !IsSerializationFailure(errors.New("ERROR: could not serialize access due to concurrent update")) {
		t.Fatal("expected message fallback detection")
	}
	if IsSerializationFailure(nil) {
		t.Fatal("nil is not a failure")
	}
}
