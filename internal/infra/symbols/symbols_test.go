package symbols

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

const sampleCSV = `Stock Symbol,Security ID,Exchange,Min Qty
SBIN,3045,NSE,1
SBIN,500112,BSE,1
STATE BANK CARD,17971,NSE,
NIFTY 26DEC FUT,35001,NSEFO,75.0
,999,NSE,1
PNB,10666,nse,abc
`

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "symbols.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestImportAndLotSize(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	n, err := store.Import(ctx, strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, count)

	require.Equal(t, 75, store.LotSize(schema.InstrumentRef{SecurityID: "35001"}, "dhan"))
	require.Equal(t, 75, store.LotSize(schema.InstrumentRef{SymbolToken: "35001"}, "motilal"))
	require.Equal(t, 75, store.LotSize(schema.InstrumentRef{Exchange: "NSEFO", Symbol: "nifty 26dec fut"}, "dhan"))
	require.Equal(t, 1, store.LotSize(schema.InstrumentRef{SecurityID: "17971"}, "dhan"))
	require.Equal(t, 1, store.LotSize(schema.InstrumentRef{SecurityID: "unknown"}, "dhan"))

	// re-import replaces rather than appends
	n, err = store.Import(ctx, strings.NewReader("Stock Symbol,Security ID,Exchange,Min Qty\nPNB,10666,NSE,1\n"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, store.LotSize(schema.InstrumentRef{SecurityID: "35001"}, "dhan"))
}

func TestSearch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.Import(ctx, strings.NewReader(sampleCSV))
	require.NoError(t, err)

	hits, err := store.Search(ctx, "sbin", "")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	hits, err = store.Search(ctx, "state card", "nse")
	require.NoError(t, err)
	require.Equal(t, []Match{{ID: "NSE|STATE BANK CARD|17971", Text: "NSE | STATE BANK CARD"}}, hits)

	ref := schema.ParseInstrumentRef(hits[0].ID)
	require.Equal(t, "17971", ref.SecurityID)

	hits, err = store.Search(ctx, "   ", "")
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestRefreshRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	store := openStore(t)
	n, err := store.Refresh(context.Background(), RefreshOptions{URL: srv.URL, InitialInterval: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 2, calls.Load())
}

func TestRefreshClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := openStore(t)
	_, err := store.Refresh(context.Background(), RefreshOptions{URL: srv.URL, InitialInterval: time.Millisecond, MaxRetries: 5})
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestEnsureLoadedSkipsWhenPopulated(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	store := openStore(t)
	opts := RefreshOptions{URL: srv.URL}
	require.NoError(t, store.EnsureLoaded(context.Background(), opts))
	require.NoError(t, store.EnsureLoaded(context.Background(), opts))
	require.EqualValues(t, 1, calls.Load())
}
