package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

func TestMemoryDirectoryLookups(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	dir.PutAccount(schema.AccountRecord{ID: "B2", Broker: "dhan", DisplayName: "Bravo"})
	dir.PutAccount(schema.AccountRecord{ID: "A1", Broker: "DHAN", DisplayName: "Alpha"})
	dir.PutAccount(schema.AccountRecord{ID: "M1", Broker: "motilal"})

	got, err := dir.GetAccount(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, "Alpha", got.DisplayName)

	_, err = dir.GetAccount(ctx, "missing")
	require.True(t, errs.Is(err, errs.CodeNotFound))

	list, err := dir.ListAccountsByBroker(ctx, "dhan")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "A1", list[0].ID)

	byName, err := dir.FindAccountByDisplayName(ctx, "  bravo ")
	require.NoError(t, err)
	require.Equal(t, "B2", byName.ID)

	byID, err := dir.FindAccountByDisplayName(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "M1", byID.ID)
}

func TestResolveGroupMembers(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	dir.PutGroup(schema.Group{ID: "g1", Name: "Momentum", Multiplier: 0, Members: []string{"A1", " A1", "", "B2"}})

	members, mult, err := dir.ResolveGroupMembers(ctx, "momentum")
	require.NoError(t, err)
	require.Equal(t, []string{"A1", "B2"}, members)
	require.Equal(t, 1, mult)

	_, _, err = dir.ResolveGroupMembers(ctx, "nope")
	require.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestLotSizerFuncNormalizes(t *testing.T) {
	sizer := LotSizerFunc(func(schema.InstrumentRef, string) int { return 0 })
	require.Equal(t, 1, sizer.LotSize(schema.InstrumentRef{}, "dhan"))

	var nilSizer LotSizerFunc
	require.Equal(t, 1, nilSizer.LotSize(schema.InstrumentRef{}, "dhan"))
}

func TestSnapshotOrdersByID(t *testing.T) {
	dir := NewMemory()
	dir.PutAccount(schema.AccountRecord{ID: "M1", Broker: "motilal"})
	dir.PutAccount(schema.AccountRecord{ID: "D1", Broker: "dhan"})
	dir.PutGroup(schema.Group{ID: "g2"})
	dir.PutGroup(schema.Group{ID: "g1"})

	accounts, groups := dir.Snapshot()
	require.Equal(t, "D1", accounts[0].ID)
	require.Equal(t, "M1", accounts[1].ID)
	require.Equal(t, "g1", groups[0].ID)
}
