package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
)

func TestConfigHelpers(t *testing.T) {
	cfg := map[string]any{
		"base_url": "  https://example.test  ",
		"blank":    "  ",
		"timeout":  "2s",
		"seconds":  3,
		"workers":  "8",
		"enabled":  "true",
		"config":   map[string]any{"nested": true},
	}

	url, ok := StringFromConfig(cfg, "base_url")
	require.True(t, ok)
	require.Equal(t, "https://example.test", url)
	_, ok = StringFromConfig(cfg, "blank")
	require.False(t, ok)

	d, ok := DurationFromConfig(cfg, "timeout")
	require.True(t, ok)
	require.Equal(t, 2*time.Second, d)
	d, ok = DurationFromConfig(cfg, "seconds")
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)

	n, ok := IntFromConfig(cfg, "workers")
	require.True(t, ok)
	require.Equal(t, 8, n)

	f, ok := FloatFromConfig(map[string]any{"ltp": "101.25"}, "ltp")
	require.True(t, ok)
	require.Equal(t, 101.25, f)

	b, ok := BoolFromConfig(cfg, "enabled")
	require.True(t, ok)
	require.True(t, b)

	require.Equal(t, map[string]any{"nested": true}, Settings(cfg))
	require.Equal(t, cfg["timeout"], Settings(map[string]any{"timeout": "2s"})["timeout"])

	require.Equal(t, "https://a.test/v2/orders", JoinURL("https://a.test/", "v2/orders"))
	require.Equal(t, "https://a.test/v2/orders", JoinURL("https://a.test", "/v2/orders"))
	require.Empty(t, JoinURL("", "/x"))
}

func TestNumberAndTextDecoding(t *testing.T) {
	var row struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
		D Number `json:"d"`
		E Text   `json:"e"`
		F Text   `json:"f"`
	}
	err := json.Unmarshal([]byte(`{"a":"1,234.50","b":12,"c":null,"d":"NA","e":987654,"f":" X1 "}`), &row)
	require.NoError(t, err)
	require.Equal(t, 1234.5, row.A.Float())
	require.Equal(t, 12, row.B.Int())
	require.Zero(t, row.C.Float())
	require.Zero(t, row.D.Float())
	require.Equal(t, "987654", row.E.String())
	require.Equal(t, "X1", row.F.String())
}

func TestClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok", r.Header.Get("access-token"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"echo":"` + body["q"].(string) + `"}`))
	}))
	defer srv.Close()

	client := NewClient("dhan", srv.Client(), nil)
	resp, err := client.Do(context.Background(), Request{
		Method:  http.MethodPost,
		URL:     srv.URL + "/x",
		Headers: map[string]string{"access-token": "tok"},
		Body:    map[string]any{"q": "hi"},
	})
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.False(t, resp.Empty())

	var out struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, client.Decode(resp, &out))
	require.Equal(t, "hi", out.Echo)

	err = client.Decode(Response{Status: 200, Body: []byte("<html>")}, &out)
	require.True(t, errs.Is(err, errs.CodeNetwork))
}

func TestClientTransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewClient("motilal", nil, nil).Do(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeNetwork))
}

func TestResponseEmpty(t *testing.T) {
	for _, body := range []string{"", " {} ", "null", "[]"} {
		require.True(t, Response{Body: []byte(body)}.Empty(), body)
	}
}
