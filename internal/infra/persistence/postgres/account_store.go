package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// AccountStore is the PostgreSQL account and group directory.
type AccountStore struct {
	pool *pgxpool.Pool
}

var (
	_ directory.AccountDirectory = (*AccountStore)(nil)
	_ directory.GroupDirectory   = (*AccountStore)(nil)
)

// NewAccountStore constructs an AccountStore backed by the provided pgx pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const (
	accountColumns   = `account_id, broker, display_name, credentials, capital`
	accountUpsertSQL = `
INSERT INTO accounts (account_id, broker, display_name, credentials, capital, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, NOW())
ON CONFLICT (account_id) DO UPDATE SET
    broker = EXCLUDED.broker,
    display_name = EXCLUDED.display_name,
    credentials = EXCLUDED.credentials,
    capital = EXCLUDED.capital,
    updated_at = NOW();
`
	accountDeleteSQL   = `DELETE FROM accounts WHERE account_id = $1;`
	accountGetSQL      = `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1;`
	accountByBrokerSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE lower(broker) = lower($1) ORDER BY account_id;`
	accountByNameSQL   = `
SELECT ` + accountColumns + `
FROM accounts
WHERE lower(COALESCE(NULLIF(btrim(display_name), ''), account_id)) = lower(btrim($1))
ORDER BY account_id
LIMIT 1;
`
	groupUpsertSQL = `
INSERT INTO account_groups (group_id, name, multiplier, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (group_id) DO UPDATE SET
    name = EXCLUDED.name,
    multiplier = EXCLUDED.multiplier,
    updated_at = NOW();
`
	groupMembersDeleteSQL = `DELETE FROM account_group_members WHERE group_id = $1;`
	groupMemberInsertSQL  = `INSERT INTO account_group_members (group_id, account_id, position) VALUES ($1, $2, $3);`
	groupLookupSQL        = `
SELECT group_id, multiplier
FROM account_groups
WHERE group_id = $1 OR lower(name) = lower($1)
ORDER BY (group_id = $1) DESC
LIMIT 1;
`
	groupMembersSQL = `SELECT account_id FROM account_group_members WHERE group_id = $1 ORDER BY position;`
)

// SaveAccount upserts an account record.
func (s *AccountStore) SaveAccount(ctx context.Context, record schema.AccountRecord) error {
	if s.pool == nil {
		return fmt.Errorf("account store: nil pool")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("account store: account id required")
	}
	broker := strings.ToLower(strings.TrimSpace(record.Broker))
	if broker == "" {
		return fmt.Errorf("account store: broker required")
	}
	creds := record.Credentials
	if creds == nil {
		creds = map[string]string{}
	}
	credentials, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	capital, err := numericFromFloat(record.Capital)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, accountUpsertSQL, id, broker, strings.TrimSpace(record.DisplayName), string(credentials), capital); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// DeleteAccount removes an account.
func (s *AccountStore) DeleteAccount(ctx context.Context, accountID string) error {
	if s.pool == nil {
		return fmt.Errorf("account store: nil pool")
	}
	if _, err := s.pool.Exec(ctx, accountDeleteSQL, strings.TrimSpace(accountID)); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// GetAccount implements directory.AccountDirectory.
func (s *AccountStore) GetAccount(ctx context.Context, accountID string) (schema.AccountRecord, error) {
	if s.pool == nil {
		return schema.AccountRecord{}, fmt.Errorf("account store: nil pool")
	}
	record, err := scanAccount(s.pool.QueryRow(ctx, accountGetSQL, strings.TrimSpace(accountID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.AccountRecord{}, errs.New("", errs.CodeNotFound,
			errs.WithAccount(accountID), errs.WithMessage("account not found"))
	}
	return record, err
}

// ListAccountsByBroker implements directory.AccountDirectory.
func (s *AccountStore) ListAccountsByBroker(ctx context.Context, broker string) ([]schema.AccountRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("account store: nil pool")
	}
	rows, err := s.pool.Query(ctx, accountByBrokerSQL, strings.TrimSpace(broker))
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []schema.AccountRecord
	for rows.Next() {
		record, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// FindAccountByDisplayName implements directory.AccountDirectory.
func (s *AccountStore) FindAccountByDisplayName(ctx context.Context, name string) (schema.AccountRecord, error) {
	if s.pool == nil {
		return schema.AccountRecord{}, fmt.Errorf("account store: nil pool")
	}
	record, err := scanAccount(s.pool.QueryRow(ctx, accountByNameSQL, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.AccountRecord{}, errs.New("", errs.CodeNotFound,
			errs.WithMessage("account not found"), errs.WithField("display_name", strings.TrimSpace(name)))
	}
	return record, err
}

// SaveGroup upserts a group and replaces its membership.
func (s *AccountStore) SaveGroup(ctx context.Context, group schema.Group) error {
	if s.pool == nil {
		return fmt.Errorf("account store: nil pool")
	}
	id := strings.TrimSpace(group.ID)
	if id == "" {
		return fmt.Errorf("account store: group id required")
	}
	name := strings.TrimSpace(group.Name)
	if name == "" {
		name = id
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin group tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, groupUpsertSQL, id, name, directory.NormalizeMultiplier(group.Multiplier)); err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	if _, err := tx.Exec(ctx, groupMembersDeleteSQL, id); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	for i, member := range directory.DedupeMembers(group.Members) {
		if _, err := tx.Exec(ctx, groupMemberInsertSQL, id, member, i); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit group tx: %w", err)
	}
	return nil
}

// ResolveGroupMembers implements directory.GroupDirectory. The group id wins
// over a name match.
func (s *AccountStore) ResolveGroupMembers(ctx context.Context, groupRef string) ([]string, int, error) {
	if s.pool == nil {
		return nil, 0, fmt.Errorf("account store: nil pool")
	}
	ref := strings.TrimSpace(groupRef)
	var (
		id         string
		multiplier int32
	)
	if err := s.pool.QueryRow(ctx, groupLookupSQL, ref).Scan(&id, &multiplier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, errs.New("", errs.CodeNotFound,
				errs.WithMessage("group not found"), errs.WithField("group", ref))
		}
		return nil, 0, fmt.Errorf("lookup group: %w", err)
	}

	rows, err := s.pool.Query(ctx, groupMembersSQL, id)
	if err != nil {
		return nil, 0, fmt.Errorf("query group members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, 0, fmt.Errorf("collect group members: %w", err)
	}
	return directory.DedupeMembers(members), directory.NormalizeMultiplier(int(multiplier)), nil
}

func scanAccount(row pgx.Row) (schema.AccountRecord, error) {
	var (
		record      schema.AccountRecord
		credentials []byte
		capital     pgtype.Numeric
	)
	if err := row.Scan(&record.ID, &record.Broker, &record.DisplayName, &credentials, &capital); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.AccountRecord{}, err
		}
		return schema.AccountRecord{}, fmt.Errorf("scan account: %w", err)
	}
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &record.Credentials); err != nil {
			return schema.AccountRecord{}, fmt.Errorf("decode credentials for %s: %w", record.ID, err)
		}
	}
	record.Capital = floatFromNumeric(capital)
	return record, nil
}
