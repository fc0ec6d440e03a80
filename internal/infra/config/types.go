package config

import "strings"

// Environment identifies where the router runs.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// DirectorySource selects where accounts and groups are read from.
type DirectorySource string

const (
	// DirectoryFile reads clients/<broker>/*.json and groups/*.json under Directory.Path.
	DirectoryFile DirectorySource = "file"
	// DirectoryPostgres reads the accounts and account_groups tables.
	DirectoryPostgres DirectorySource = "postgres"
)

func normalizeBrokerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
