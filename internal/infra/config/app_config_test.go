package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if driver := cfg.Brokers["dhan"]["driver"]; driver != "paper" {
		t.Fatalf("expected paper driver for dhan, got %v", driver)
	}
	if cfg.Directory.Source != DirectoryFile {
		t.Fatalf("expected file directory, got %s", cfg.Directory.Source)
	}
}

func TestLoadOrDefaultSurfacesParseErrors(t *testing.T) {
	path := writeConfig(t, "environment: [")
	if _, err := LoadOrDefault(context.Background(), path); err == nil {
		t.Fatalf("expected parse error to be returned")
	}
}

func TestLoadDuplicateBrokerName(t *testing.T) {
	path := writeConfig(t, `
environment: dev
brokers:
  Dhan: {}
  dhan: {}
`)
	_, err := Load(context.Background(), path)
	if err == nil {
		t.Fatalf("expected error when duplicate broker names supplied")
	}
	if !strings.Contains(err.Error(), `duplicate broker name "dhan"`) {
		t.Fatalf("expected duplicate broker name error, got %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: PROD
brokers:
  Dhan:
    config:
      base_url: https://sandbox.dhan.co
      http_timeout: 5s
  motilal:
    driver: paper
    config:
      lot_unit: lots
dispatch:
  maxWorkers: 16
  unitTimeout: 20s
  sharedSessionBrokers: [" Motilal ", ""]
directory:
  source: Postgres
symbols:
  path: /var/lib/router/symbols.db
  sourceUrl: https://example.com/master.csv
apiServer:
  addr: ":9999"
telemetry:
  otlpEndpoint: http://localhost:4318
  serviceName: test-service
  enableMetrics: true
database:
  dsn: postgresql://localhost:5432/router?sslmode=disable
  maxConns: 32
  minConns: 4
  maxConnLifetime: 45m
  runMigrations: true
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Environment != EnvProd {
		t.Fatalf("expected environment %s, got %s", EnvProd, cfg.Environment)
	}
	dhan, ok := cfg.Brokers["dhan"]
	if !ok {
		t.Fatalf("expected broker key to be lowercased, got %v", cfg.BrokerNames())
	}
	settings, _ := dhan["config"].(map[string]any)
	if settings["base_url"] != "https://sandbox.dhan.co" {
		t.Fatalf("unexpected dhan settings: %v", settings)
	}
	if cfg.Brokers["motilal"]["driver"] != "paper" {
		t.Fatalf("expected motilal driver paper")
	}
	if cfg.Dispatch.MaxWorkers != 16 || cfg.Dispatch.UnitTimeout != 20*time.Second {
		t.Fatalf("unexpected dispatch config: %+v", cfg.Dispatch)
	}
	if len(cfg.Dispatch.SharedSessionBrokers) != 1 || cfg.Dispatch.SharedSessionBrokers[0] != "motilal" {
		t.Fatalf("unexpected shared session brokers: %v", cfg.Dispatch.SharedSessionBrokers)
	}
	if cfg.Dispatch.ListWorkers != 8 || cfg.Dispatch.WarmWorkers != 4 {
		t.Fatalf("expected worker defaults, got %+v", cfg.Dispatch)
	}
	if cfg.Directory.Source != DirectoryPostgres || cfg.Directory.Path != "data" {
		t.Fatalf("unexpected directory config: %+v", cfg.Directory)
	}
	if cfg.Symbols.Path != "/var/lib/router/symbols.db" || cfg.Symbols.MaxRetries != 3 {
		t.Fatalf("unexpected symbols config: %+v", cfg.Symbols)
	}
	if cfg.APIServer.Addr != ":9999" {
		t.Fatalf("unexpected api addr %q", cfg.APIServer.Addr)
	}
	if cfg.Database.MaxConns != 32 || cfg.Database.MinConns != 4 {
		t.Fatalf("unexpected pool sizing: %+v", cfg.Database)
	}
	if cfg.Database.MaxConnLifetime != 45*time.Minute || cfg.Database.MaxConnIdleTime != 5*time.Minute {
		t.Fatalf("unexpected lifetimes: %+v", cfg.Database)
	}
	if !cfg.Database.RunMigrations {
		t.Fatalf("expected runMigrations true")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"environment": "environment: qa\nbrokers:\n  dhan: {}\n",
		"no brokers":  "environment: dev\n",
		"driver type": "brokers:\n  dhan:\n    driver: 7\n",
		"directory":   "brokers:\n  dhan: {}\ndirectory:\n  source: ldap\n",
		"workers":     "brokers:\n  dhan: {}\ndispatch:\n  maxWorkers: -1\n",
		"timeout":     "brokers:\n  dhan: {}\ndispatch:\n  unitTimeout: -5s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(context.Background(), writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
