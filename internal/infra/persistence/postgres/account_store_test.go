package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

func TestAccountStoreNilPool(t *testing.T) {
	store := NewAccountStore(nil)
	ctx := context.Background()
	if err := store.SaveAccount(ctx, schema.AccountRecord{ID: "A", Broker: "dhan"}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.DeleteAccount(ctx, "A"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.GetAccount(ctx, "A"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.ListAccountsByBroker(ctx, "dhan"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.FindAccountByDisplayName(ctx, "Asha"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.SaveGroup(ctx, schema.Group{ID: "g"}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, _, err := store.ResolveGroupMembers(ctx, "g"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestNumericRoundTrip(t *testing.T) {
	n, err := numericFromFloat(1234.567)
	if err != nil {
		t.Fatalf("numericFromFloat: %v", err)
	}
	if got := floatFromNumeric(n); got != 1234.57 {
		t.Fatalf("expected 1234.57, got %v", got)
	}
	if got := floatFromNumeric(pgtype.Numeric{}); got != 0 {
		t.Fatalf("expected NULL numeric to read as 0, got %v", got)
	}
}
