// Package symbols keeps the local symbol master: a SQLite table of exchange
// symbols, security ids and lot sizes imported from the published CSV.
package symbols

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/telemetry"
)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS symbols (
    exchange    TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    security_id TEXT NOT NULL,
    lot_size    INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (exchange, security_id)
);
CREATE INDEX IF NOT EXISTS idx_sym_symbol ON symbols (symbol);
CREATE INDEX IF NOT EXISTS idx_sym_secid ON symbols (security_id);
`
	insertSQL = `INSERT OR REPLACE INTO symbols (exchange, symbol, security_id, lot_size) VALUES (?, ?, ?, ?);`
	lotByIDSQL = `
SELECT lot_size FROM symbols
WHERE security_id = ?
ORDER BY (upper(exchange) = ?) DESC
LIMIT 1;
`
	lotBySymbolSQL = `SELECT lot_size FROM symbols WHERE upper(symbol) = upper(?) AND (? = '' OR upper(exchange) = ?) LIMIT 1;`

	// SearchLimit caps Search results.
	SearchLimit = 20
)

// Row is one line of the symbol master CSV.
type Row struct {
	Symbol     string `csv:"Stock Symbol"`
	SecurityID string `csv:"Security ID"`
	Exchange   string `csv:"Exchange"`
	MinQty     string `csv:"Min Qty"`
}

// LotSize parses MinQty; blanks and garbage count as 1.
func (r Row) LotSize() int {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.MinQty), 64)
	if err != nil {
		return 1
	}
	return schema.NormalizeLotSize(int(f))
}

// Match is one search hit. ID is EXCHANGE|SYMBOL|SECURITY_ID, accepted by
// schema.ParseInstrumentRef.
type Match struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Store is the SQLite-backed symbol master.
type Store struct {
	db      *sql.DB
	metrics *telemetry.SymbolMetrics
	logger  *log.Logger
}

var _ directory.LotSizer = (*Store)(nil)

// Options configure Open.
type Options struct {
	Metrics *telemetry.SymbolMetrics
	Logger  *log.Logger
}

// Open opens (or creates) the symbol database at path.
func Open(path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create symbols directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open symbols db: %w", err)
	}
	// one writer at a time; readers queue behind imports
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create symbols schema: %w", err)
	}
	return &Store{db: db, metrics: opts.Metrics, logger: opts.Logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Import replaces the symbol table with the CSV read from r and returns the
// number of rows kept. Rows without a symbol or security id are dropped.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var rows []Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		s.metrics.RecordImport(ctx, 0, telemetry.ResultError)
		return 0, fmt.Errorf("decode symbol csv: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols;`); err != nil {
		return 0, fmt.Errorf("clear symbols: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	kept := 0
	for _, row := range rows {
		symbol := strings.TrimSpace(row.Symbol)
		secID := strings.TrimSpace(row.SecurityID)
		if symbol == "" || secID == "" {
			continue
		}
		exchange := strings.ToUpper(strings.TrimSpace(row.Exchange))
		if _, err := stmt.ExecContext(ctx, exchange, symbol, secID, row.LotSize()); err != nil {
			return 0, fmt.Errorf("insert %s: %w", symbol, err)
		}
		kept++
	}
	if err := tx.Commit(); err != nil {
		s.metrics.RecordImport(ctx, 0, telemetry.ResultError)
		return 0, fmt.Errorf("commit import: %w", err)
	}
	s.metrics.RecordImport(ctx, kept, telemetry.ResultOK)
	s.logf("imported %d symbols (%d rows read)", kept, len(rows))
	return kept, nil
}

// ImportFile imports a CSV file from disk.
func (s *Store) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return 0, fmt.Errorf("open symbol csv: %w", err)
	}
	defer f.Close()
	return s.Import(ctx, f)
}

// Count returns the number of stored symbols.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count symbols: %w", err)
	}
	return n, nil
}

// LotSize implements directory.LotSizer. The security id (or symbol token)
// is tried first, then exchange and symbol. Misses return 1.
func (s *Store) LotSize(ref schema.InstrumentRef, _ string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	exchange := strings.ToUpper(strings.TrimSpace(ref.Exchange))
	var lot int
	for _, id := range []string{ref.SecurityID, ref.SymbolToken} {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		if err := s.db.QueryRowContext(ctx, lotByIDSQL, id, exchange).Scan(&lot); err == nil {
			return schema.NormalizeLotSize(lot)
		}
	}
	if symbol := strings.TrimSpace(ref.Symbol); symbol != "" {
		if err := s.db.QueryRowContext(ctx, lotBySymbolSQL, symbol, exchange, exchange).Scan(&lot); err == nil {
			return schema.NormalizeLotSize(lot)
		}
	}
	return 1
}

// Search matches every whitespace-separated word of q against the symbol
// (case-insensitive substring), optionally restricted to one exchange.
func (s *Store) Search(ctx context.Context, q, exchange string) ([]Match, error) {
	words := strings.Fields(strings.ToLower(q))
	if len(words) == 0 {
		return []Match{}, nil
	}
	where := make([]string, 0, len(words)+1)
	args := make([]any, 0, len(words)+2)
	for _, w := range words {
		where = append(where, `lower(symbol) LIKE ?`)
		args = append(args, "%"+w+"%")
	}
	if exch := strings.ToUpper(strings.TrimSpace(exchange)); exch != "" {
		where = append(where, `upper(exchange) = ?`)
		args = append(args, exch)
	}
	args = append(args, SearchLimit)
	query := `SELECT exchange, symbol, security_id FROM symbols WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY symbol LIMIT ?;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, SearchLimit)
	for rows.Next() {
		var exch, symbol, secID string
		if err := rows.Scan(&exch, &symbol, &secID); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, Match{
			ID:   exch + "|" + symbol + "|" + secID,
			Text: exch + " | " + symbol,
		})
	}
	return out, rows.Err()
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
