package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Memory is an in-memory account and group directory used by the paper
// broker, tests and the file loader.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]schema.AccountRecord
	groups   map[string]schema.Group
}

// NewMemory constructs an empty directory.
func NewMemory() *Memory {
	return &Memory{
		mu:       sync.RWMutex{},
		accounts: make(map[string]schema.AccountRecord),
		groups:   make(map[string]schema.Group),
	}
}

// PutAccount inserts or replaces an account.
func (m *Memory) PutAccount(record schema.AccountRecord) {
	m.mu.Lock()
	m.accounts[record.ID] = record
	m.mu.Unlock()
}

// PutGroup inserts or replaces a group keyed by id.
func (m *Memory) PutGroup(group schema.Group) {
	m.mu.Lock()
	m.groups[group.ID] = group
	m.mu.Unlock()
}

// GetAccount implements AccountDirectory.
func (m *Memory) GetAccount(_ context.Context, accountID string) (schema.AccountRecord, error) {
	m.mu.RLock()
	record, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return schema.AccountRecord{}, errs.New("", errs.CodeNotFound,
			errs.WithAccount(accountID), errs.WithMessage("account not found"))
	}
	return record, nil
}

// ListAccountsByBroker implements AccountDirectory. Results are ordered by id.
func (m *Memory) ListAccountsByBroker(_ context.Context, broker string) ([]schema.AccountRecord, error) {
	m.mu.RLock()
	out := make([]schema.AccountRecord, 0, len(m.accounts))
	for _, record := range m.accounts {
		if strings.EqualFold(record.Broker, broker) {
			out = append(out, record)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindAccountByDisplayName implements AccountDirectory.
func (m *Memory) FindAccountByDisplayName(_ context.Context, name string) (schema.AccountRecord, error) {
	want := strings.TrimSpace(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, record := range m.accounts {
		if strings.EqualFold(strings.TrimSpace(record.Name()), want) {
			return record, nil
		}
	}
	return schema.AccountRecord{}, errs.New("", errs.CodeNotFound,
		errs.WithMessage("account not found"), errs.WithField("display_name", want))
}

// ResolveGroupMembers implements GroupDirectory, matching the group id first and
// then the name case-insensitively. Members are de-duplicated in order.
func (m *Memory) ResolveGroupMembers(_ context.Context, groupRef string) ([]string, int, error) {
	ref := strings.TrimSpace(groupRef)
	m.mu.RLock()
	group, ok := m.groups[ref]
	if !ok {
		for _, candidate := range m.groups {
			if strings.EqualFold(candidate.Name, ref) {
				group, ok = candidate, true
				break
			}
		}
	}
	m.mu.RUnlock()
	if !ok {
		return nil, 0, errs.New("", errs.CodeNotFound,
			errs.WithMessage("group not found"), errs.WithField("group", ref))
	}
	return DedupeMembers(group.Members), NormalizeMultiplier(group.Multiplier), nil
}

// Snapshot returns every account ordered by id and every group ordered by id.
func (m *Memory) Snapshot() ([]schema.AccountRecord, []schema.Group) {
	m.mu.RLock()
	accounts := make([]schema.AccountRecord, 0, len(m.accounts))
	for _, record := range m.accounts {
		accounts = append(accounts, record)
	}
	groups := make([]schema.Group, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, group)
	}
	m.mu.RUnlock()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return accounts, groups
}

// DedupeMembers trims ids and drops blanks and repeats, preserving order.
func DedupeMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, id := range members {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NormalizeMultiplier clamps a group multiplier to at least 1.
func NormalizeMultiplier(multiplier int) int {
	if multiplier < 1 {
		return 1
	}
	return multiplier
}
