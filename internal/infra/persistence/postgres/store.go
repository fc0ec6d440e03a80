package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/multibroker/internal/infra/persistence"
)

// Store exposes the PostgreSQL-backed account directory.
type Store struct {
	*persistence.Store
	accounts *AccountStore
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Store: persistence.NewStore(pool), accounts: NewAccountStore(pool)}
}

// Accounts returns the account and group directory.
func (s *Store) Accounts() *AccountStore {
	return s.accounts
}
