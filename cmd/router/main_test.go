package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/internal/app/router"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/config"
)

func TestResolveConfigPathDefaults(t *testing.T) {
	t.Setenv("MULTIBROKER_CONFIG", "")
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
	require.Equal(t, "config/app.yaml", resolveConfigPath(""))

	t.Setenv("MULTIBROKER_CONFIG", "/etc/router.yaml")
	require.Equal(t, "/etc/router.yaml", resolveConfigPath(""))
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(""))
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	const key = "MULTIBROKER_TEST_ENV_VALUE"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))
	require.NoError(t, loadEnvFile(path))
	require.Equal(t, "from-file", os.Getenv(key))
}

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps(nil)
	require.NoError(t, err)
	require.Equal(t, 1, steps)

	steps, err = parseSteps([]string{"3"})
	require.NoError(t, err)
	require.Equal(t, 3, steps)

	_, err = parseSteps([]string{"many"})
	require.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	require.Subset(t, names, []string{"serve", "migrate", "symbols", "accounts"})

	migrate, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	require.Equal(t, "down", migrate.Name())
}

func TestSymbolsImportCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(strings.Join([]string{
		"brokers:",
		"  dhan:",
		"    driver: paper",
		"symbols:",
		"  path: " + filepath.Join(dir, "symbols.db"),
	}, "\n")), 0o600))
	csvPath := filepath.Join(dir, "master.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Stock Symbol,Security ID,Exchange,Min Qty\nSBIN,3045,NSE,1\nNIFTY24DEC,42,NFO,75\n"), 0o600))

	root := newRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetArgs([]string{"--config", cfgPath, "--env-file", "", "symbols", "import", csvPath})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "imported 2 symbols")
}

func TestBuildRuntimeServesFileDirectory(t *testing.T) {
	dir := t.TempDir()
	clients := filepath.Join(dir, "data", "clients", "dhan")
	require.NoError(t, os.MkdirAll(clients, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(clients, "D1.json"), []byte(`{"name":"Asha","capital":"1000"}`), 0o600))

	cfg := config.DefaultAppConfig()
	cfg.Directory.Path = filepath.Join(dir, "data")
	cfg.Symbols.Path = filepath.Join(dir, "symbols.db")

	rt, err := buildRuntime(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.close(context.Background()) })
	require.Equal(t, []string{"dhan", "motilal"}, rt.adapters.Names())

	server := httptest.NewServer(rt.handler())
	t.Cleanup(server.Close)

	body := `{"tag":"t","symbol":"NSE|SBIN|3045","action":"BUY","order_type":"LIMIT","price":100,"quantity":1,"targets":{"accounts":["D1"]}}`
	resp, err := http.Post(server.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var agg schema.DispatchAggregate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	resp.Body.Close()
	require.True(t, agg.Results["t:D1"].OK(), "%+v", agg.Results)

	resp, err = http.Get(server.URL + "/orders")
	require.NoError(t, err)
	var view router.OrdersView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	require.Len(t, view.Pending, 1)
	require.Equal(t, "Asha", view.Pending[0].AccountName)
}
