// Package file loads the account and group directory from JSON files laid out
// as <root>/clients/<broker>/<userid>.json and <root>/groups/<id>.json.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

const (
	clientsDir = "clients"
	groupsDir  = "groups"
)

// non-credential keys of a client document
var clientMeta = map[string]struct{}{
	"name":           {},
	"display_name":   {},
	"capital":        {},
	"session_active": {},
	"broker":         {},
}

type clientDoc struct {
	UserID      shared.Text   `json:"userid"`
	ClientID    shared.Text   `json:"client_id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Capital     shared.Number `json:"capital"`
}

type groupDoc struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Multiplier shared.Number     `json:"multiplier"`
	Members    []json.RawMessage `json:"members"`
}

type memberDoc struct {
	Broker string      `json:"broker"`
	UserID shared.Text `json:"userid"`
}

// Load reads every client and group document under root into a Memory
// directory. Unreadable or malformed documents are logged and skipped; a
// missing root yields an empty directory.
func Load(root string, logger *log.Logger) (*directory.Memory, error) {
	dir := directory.NewMemory()

	brokers, err := os.ReadDir(filepath.Join(root, clientsDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read clients directory: %w", err)
	}
	for _, entry := range brokers {
		if !entry.IsDir() {
			continue
		}
		broker := strings.ToLower(entry.Name())
		paths, err := jsonFiles(filepath.Join(root, clientsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			record, err := readClient(path, broker)
			if err != nil {
				logf(logger, "skip client %s: %v", path, err)
				continue
			}
			dir.PutAccount(record)
		}
	}

	paths, err := jsonFiles(filepath.Join(root, groupsDir))
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		group, err := readGroup(path)
		if err != nil {
			logf(logger, "skip group %s: %v", path, err)
			continue
		}
		dir.PutGroup(group)
	}
	return dir, nil
}

func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func readClient(path, broker string) (schema.AccountRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the operator's data directory.
	if err != nil {
		return schema.AccountRecord{}, err
	}
	var doc clientDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return schema.AccountRecord{}, fmt.Errorf("decode: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return schema.AccountRecord{}, fmt.Errorf("decode: %w", err)
	}

	id := firstNonEmpty(string(doc.UserID), string(doc.ClientID), stem(path))
	creds := make(map[string]string, len(fields))
	for key, value := range fields {
		if _, meta := clientMeta[key]; meta {
			continue
		}
		switch v := value.(type) {
		case string:
			creds[key] = v
		case map[string]any:
			// nested "creds" object as written by the operator UI
			for k, nested := range v {
				if s, ok := nested.(string); ok {
					creds[k] = s
				}
			}
		}
	}
	if creds["userid"] == "" {
		creds["userid"] = id
	}
	return schema.AccountRecord{
		ID:          id,
		Broker:      broker,
		DisplayName: firstNonEmpty(doc.Name, doc.DisplayName),
		Credentials: creds,
		Capital:     doc.Capital.Float(),
	}, nil
}

func readGroup(path string) (schema.Group, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the operator's data directory.
	if err != nil {
		return schema.Group{}, err
	}
	var doc groupDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return schema.Group{}, fmt.Errorf("decode: %w", err)
	}
	group := schema.Group{
		ID:         firstNonEmpty(doc.ID, stem(path)),
		Multiplier: directory.NormalizeMultiplier(doc.Multiplier.Int()),
	}
	group.Name = firstNonEmpty(doc.Name, group.ID)
	for _, raw := range doc.Members {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			var m memberDoc
			if err := json.Unmarshal(raw, &m); err != nil {
				return schema.Group{}, fmt.Errorf("decode member: %w", err)
			}
			id = string(m.UserID)
		}
		group.Members = append(group.Members, id)
	}
	group.Members = directory.DedupeMembers(group.Members)
	return group, nil
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
