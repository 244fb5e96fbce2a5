package rc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return NewClient(parsed.Hostname(), port)
}

func TestStatsDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/core/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"errors": 3,
			"bytes": 1048576,
			"totalBytes": 4194304,
			"lastError": "429 Too Many Requests",
			"speed": 2048.5,
			"transfers": 12,
			"transferring": [{"name": "photos/cat.jpg", "bytes": 512, "size": 1024}]
		}`))
	}))
	defer srv.Close()

	snap, err := clientFor(t, srv).Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, snap.Errors)
	require.EqualValues(t, 1048576, snap.Bytes)
	require.EqualValues(t, 4194304, snap.TotalBytes)
	require.Equal(t, "429 Too Many Requests", snap.LastError)
	require.Equal(t, 2048.5, snap.Speed)
	require.Len(t, snap.Transferring, 1)
	require.Equal(t, "photos/cat.jpg", snap.Transferring[0].Name)
}

func TestSetTransfersPayload(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/options/set", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	require.NoError(t, clientFor(t, srv).SetTransfers(context.Background(), 3))
	require.EqualValues(t, 3, got["main"]["Transfers"])
}

func TestSetTPSLimitPayloadIncludesBurst(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	require.NoError(t, clientFor(t, srv).SetTPSLimit(context.Background(), 4.5))
	require.EqualValues(t, 4.5, got["main"]["TPSLimit"])
	require.EqualValues(t, 9, got["main"]["TPSLimitBurst"])
}

func TestStatusErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not authorized", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := clientFor(t, srv).Stats(context.Background())
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindStatus, kind)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, http.StatusForbidden, callErr.StatusCode)
	require.Contains(t, callErr.Error(), "not authorized")
}

func TestDecodeErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := clientFor(t, srv).Stats(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindDecode, kind)
}

func TestTimeoutErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := clientFor(t, srv)
	client.Timeout = 20 * time.Millisecond

	_, err := client.Stats(context.Background())
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, KindTimeout, callErr.Kind)
	require.True(t, callErr.Timeout())
}

func TestTransportErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := clientFor(t, srv).Stats(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindTransport, kind)
}
