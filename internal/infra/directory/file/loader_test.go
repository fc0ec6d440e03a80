package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
)

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadClientsAndGroups(t *testing.T) {
	root := t.TempDir()
	write(t, root, "clients/dhan/1100.json", `{"name":"Asha","userid":"1100","apikey":"tok","capital":"1,50,000.50","session_active":true}`)
	write(t, root, "clients/Motilal/EMUM1.json", `{"name":"Ravi","userid":"EMUM1","password":"pw","pan":"ABCDE1234F","apikey":"key","totpkey":"JBSWY3DPEHPK3PXP","capital":250000}`)
	write(t, root, "clients/motilal/X9.json", `{"creds":{"password":"pw2"}}`)
	write(t, root, "clients/dhan/broken.json", `{"name":`)
	write(t, root, "clients/dhan/notes.txt", `ignored`)
	write(t, root, "groups/g1.json", `{"name":"Core","multiplier":2,"members":[{"broker":"dhan","userid":"1100"},"EMUM1",{"broker":"dhan","userid":1100}]}`)
	write(t, root, "groups/solo.json", `{"members":["X9"]}`)

	dir, err := Load(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	asha, err := dir.GetAccount(ctx, "1100")
	require.NoError(t, err)
	require.Equal(t, "dhan", asha.Broker)
	require.Equal(t, "Asha", asha.DisplayName)
	require.Equal(t, 150000.50, asha.Capital)
	require.Equal(t, "tok", asha.Credentials["apikey"])
	require.NotContains(t, asha.Credentials, "name")

	motilal, err := dir.ListAccountsByBroker(ctx, "motilal")
	require.NoError(t, err)
	require.Len(t, motilal, 2)
	require.Equal(t, "EMUM1", motilal[0].ID)
	require.Equal(t, "ABCDE1234F", motilal[0].Credentials["pan"])
	require.Equal(t, "X9", motilal[1].ID)
	require.Equal(t, "pw2", motilal[1].Credentials["password"])

	byName, err := dir.FindAccountByDisplayName(ctx, "ravi")
	require.NoError(t, err)
	require.Equal(t, "EMUM1", byName.ID)

	_, err = dir.GetAccount(ctx, "broken")
	require.True(t, errs.Is(err, errs.CodeNotFound))

	members, multiplier, err := dir.ResolveGroupMembers(ctx, "core")
	require.NoError(t, err)
	require.Equal(t, []string{"1100", "EMUM1"}, members)
	require.Equal(t, 2, multiplier)

	members, multiplier, err = dir.ResolveGroupMembers(ctx, "solo")
	require.NoError(t, err)
	require.Equal(t, []string{"X9"}, members)
	require.Equal(t, 1, multiplier)
}

func TestLoadMissingRootIsEmpty(t *testing.T) {
	dir, err := Load(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	accounts, err := dir.ListAccountsByBroker(context.Background(), "dhan")
	require.NoError(t, err)
	require.Empty(t, accounts)
}
