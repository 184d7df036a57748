package memoryhub

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/memoryhub/internal/storage"
)

func newTestHub(t *testing.T, extra ...Option) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := append([]Option{
		WithKV(storage.NewRedisKVFromClient(client)),
		WithHashEncoder(64),
		WithTokenSecret("test-secret"),
		WithSimilarityThreshold(0.1),
	}, extra...)

	hub, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

func postJSON(t *testing.T, server *httptest.Server, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestNewRequiresFastStore(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestNewRequiresSecretWhenAuthEnabled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := New(
		WithKV(storage.NewRedisKVFromClient(client)),
		WithRequireAuth(true),
	)
	require.Error(t, err)
}

func TestHubComponentsWired(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, hub.Store().PingFast(ctx))
	require.NoError(t, hub.Store().PingDurable(ctx))
	require.NoError(t, hub.Embeddings().Ping(ctx))
	require.NotNil(t, hub.Tokens())
	require.NotNil(t, hub.Monitor())
}

// Adding a document through the API should make it findable by semantic
// search once the monitor's auto-embed handler has run.
func TestDocumentBecomesSearchable(t *testing.T) {
	hub := newTestHub(t)
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	resp, _ := postJSON(t, server, "/document/add", "", map[string]any{
		"namespace": "knowledge_base",
		"doc_id":    "doc1",
		"content":   "the cat sat on the mat",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Embeddings().Stats().Active > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := postJSON(t, server, "/embedding/search", "", map[string]any{
		"namespace": "knowledge_base",
		"query":     "cat on a mat",
		"limit":     5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]any)
	require.NotEmpty(t, results)
	record := results[0].(map[string]any)["record"].(map[string]any)
	require.Equal(t, "doc1", record["doc_id"])
}

func TestAuthEnforcedEndToEnd(t *testing.T) {
	hub := newTestHub(t, WithRequireAuth(true), WithTrustedIdentities("admin"))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	// No token: rejected.
	resp, _ := postJSON(t, server, "/memory/set", "", map[string]any{
		"key": "k", "value": "v",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Issue a token and retry.
	resp, body := postJSON(t, server, "/auth/token", "", map[string]any{
		"identity": "agent-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)

	resp, body = postJSON(t, server, "/memory/set", token, map[string]any{
		"namespace": "knowledge_base",
		"key":       "k",
		"value":     "v",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["stored"])
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := newTestHub(t)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())
}
