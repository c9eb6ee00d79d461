package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

func TestMigrateURLRewritesScheme(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db":   "pgx5://u:p@localhost:5432/db",
		"postgresql://u:p@localhost:5432/db": "pgx5://u:p@localhost:5432/db",
		"pgx5://already":                     "pgx5://already",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Fatalf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down migrations, got %d", len(entries))
	}
}

func TestMapError(t *testing.T) {
	if !errors.Is(MapError(pgx.ErrNoRows), shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "leave_types_code_key"})
	if !errors.Is(MapError(dup), shared.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate")
	}
	if !errors.Is(ExpectOne(pgconn.NewCommandTag("UPDATE 0"), nil), shared.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict")
	}
	if err := ExpectOne(pgconn.NewCommandTag("UPDATE 1"), nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRetryableTxErrors(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", &pgconn.PgError{Code: serializationFailure})
	if !retryable(wrapped) {
		t.Fatalf("serialization failure should be retried")
	}
	if !retryable(&pgconn.PgError{Code: deadlockDetected}) {
		t.Fatalf("deadlock should be retried")
	}
	if retryable(&pgconn.PgError{Code: "23505"}) || retryable(shared.ErrLockedPeriod) || retryable(nil) {
		t.Fatalf("only transient conflicts are retried")
	}
}
