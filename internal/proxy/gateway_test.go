package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/llmur/internal/graph"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/gemini"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
	"github.com/nulpointcorp/llmur/internal/reqlog"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

// --- helpers ----------------------------------------------------------------

const testMasterKey = "master-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// resolverFunc adapts a function to the GraphResolver interface.
type resolverFunc func(ctx context.Context, key, model string, allowStale bool) (*graph.Graph, error)

func (f resolverFunc) Resolve(ctx context.Context, key, model string, allowStale bool) (*graph.Graph, error) {
	return f(ctx, key, model, allowStale)
}

func staticResolver(g *graph.Graph) resolverFunc {
	return func(context.Context, string, string, bool) (*graph.Graph, error) { return g, nil }
}

// accessPath builds a resolved graph with the given connections in order.
func accessPath(model string, conns ...*store.Connection) *graph.Graph {
	g := &graph.Graph{
		VirtualKey: &store.VirtualKey{ID: uuid.New(), Key: "sk-test", Alias: "team-key", ProjectID: uuid.New()},
		Project:    &store.Project{ID: uuid.New(), Name: "research"},
		Deployment: &store.Deployment{ID: uuid.New(), Name: model},
	}
	for _, conn := range conns {
		g.Candidates = append(g.Candidates, graph.Candidate{Connection: conn, Weight: 1})
	}
	return g
}

func openaiConnection(endpoint string) *store.Connection {
	return &store.Connection{
		ID:       uuid.New(),
		Provider: openai.ProviderName,
		APIKey:   "sk-upstream",
		Endpoint: endpoint,
		Model:    "gpt-actual",
	}
}

func azureConnection(endpoint string, version azure.APIVersion) *store.Connection {
	return &store.Connection{
		ID:             uuid.New(),
		Provider:       azure.ProviderName,
		APIKey:         "az-secret",
		Endpoint:       endpoint,
		APIVersion:     version,
		DeploymentName: "prod-gpt",
	}
}

func geminiConnection(endpoint string) *store.Connection {
	return &store.Connection{
		ID:       uuid.New(),
		Provider: gemini.ProviderName,
		APIKey:   "gm-secret",
		Endpoint: endpoint,
		Model:    "gemini-pro",
	}
}

// logCapture collects request log entries flushed by the recorder.
type logCapture struct {
	mu   sync.Mutex
	logs []*store.RequestLog
}

func (c *logCapture) sink() reqlog.Sink {
	return reqlog.SinkFunc(func(_ context.Context, logs []*store.RequestLog) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.logs = append(c.logs, logs...)
		return nil
	})
}

func (c *logCapture) wait(t *testing.T, n int) []*store.RequestLog {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.logs) >= n {
			out := append([]*store.RequestLog(nil), c.logs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d request log entries", n)
	return nil
}

// newProxyFixture wires a full server around the given resolver and serves
// it on an in-memory listener.
func newProxyFixture(t *testing.T, resolver GraphResolver, capture *logCapture) (*http.Client, func()) {
	t.Helper()

	var rec *reqlog.Recorder
	var closeRec func()
	if capture != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r, err := reqlog.New(ctx, capture.sink(), reqlog.Options{FlushInterval: 5 * time.Millisecond})
		if err != nil {
			cancel()
			t.Fatal(err)
		}
		rec = r
		closeRec = func() {
			_ = r.Close()
			cancel()
		}
	}

	gw := NewGateway(resolver, GatewayOptions{
		Logger:         testLogger(),
		Recorder:       rec,
		AttemptTimeout: 2 * time.Second,
		RequestBudget:  5 * time.Second,
	})
	st := newFakeAdminStore()
	adm := NewAdmin(st, resolver, st.secret, AdminOptions{Logger: testLogger()})
	srv := NewServer(gw, adm, NewAuthenticator(st, []string{testMasterKey}), ServerOptions{Logger: testLogger()})

	client, stop := serveHandler(t, srv.Handler())
	return client, func() {
		stop()
		if closeRec != nil {
			closeRec()
		}
	}
}

// serveHandler runs a fasthttp handler on an in-memory listener and returns
// an HTTP client that routes to it.
func serveHandler(t *testing.T, handler fasthttp.RequestHandler) (*http.Client, func()) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, handler)
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	return client, func() { _ = ln.Close() }
}

// doPost sends a POST with a virtual key bearer through the in-memory client.
func doPost(t *testing.T, client *http.Client, path, bearer, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://llmur"+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

const upstreamChatBody = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-actual","choices":[{"index":0,"finish_reason":"stop","logprobs":null,"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`

// --- chat completions -------------------------------------------------------

func TestChatCompletions_ProxiesThroughFirstConnection(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("upstream auth header = %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding upstream body: %v", err)
		}
		if payload["model"] != "gpt-actual" {
			t.Errorf("outbound model = %v, want remapped connection model", payload["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, upstreamChatBody)
	}))
	defer upstream.Close()

	capture := &logCapture{}
	path := accessPath("mini", openaiConnection(upstream.URL))
	client, stop := newProxyFixture(t, staticResolver(path), capture)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("content type = %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}

	var canonical map[string]any
	if err := json.Unmarshal(body, &canonical); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if canonical["model"] != "mini" {
		t.Errorf("model = %v, want the requested deployment name", canonical["model"])
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d", n)
	}

	logs := capture.wait(t, 1)
	entry := logs[0]
	if entry.AttemptNumber != 0 {
		t.Errorf("attempt = %d", entry.AttemptNumber)
	}
	if entry.HTTPStatusCode != http.StatusOK {
		t.Errorf("logged status = %d", entry.HTTPStatusCode)
	}
	if entry.InputTokens != 7 || entry.OutputTokens != 3 || entry.TotalTokens != 10 {
		t.Errorf("logged tokens = %d/%d/%d", entry.InputTokens, entry.OutputTokens, entry.TotalTokens)
	}
	if entry.Provider != openai.ProviderName {
		t.Errorf("logged provider = %q", entry.Provider)
	}
	if entry.DeploymentName != "mini" || entry.ProjectName != "research" {
		t.Errorf("logged names = %q/%q", entry.DeploymentName, entry.ProjectName)
	}
	if entry.Error != nil {
		t.Errorf("unexpected error on success log: %v", *entry.Error)
	}
}

func TestChatCompletions_FailsOverOnRetryableStatus(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, upstreamChatBody)
	}))
	defer good.Close()

	capture := &logCapture{}
	path := accessPath("mini", openaiConnection(bad.URL), openaiConnection(good.URL))
	client, stop := newProxyFixture(t, staticResolver(path), capture)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	logs := capture.wait(t, 2)
	if logs[0].AttemptNumber != 0 || logs[0].HTTPStatusCode != http.StatusServiceUnavailable {
		t.Errorf("first attempt logged as %d/%d", logs[0].AttemptNumber, logs[0].HTTPStatusCode)
	}
	if logs[0].Error == nil {
		t.Error("failed attempt should carry an error")
	}
	if logs[1].AttemptNumber != 1 || logs[1].HTTPStatusCode != http.StatusOK {
		t.Errorf("second attempt logged as %d/%d", logs[1].AttemptNumber, logs[1].HTTPStatusCode)
	}
	if logs[0].ID == logs[1].ID {
		t.Error("attempt rows must have distinct ids")
	}
}

func TestChatCompletions_SurfacesDefinitiveClientError(t *testing.T) {
	const upstreamError = `{"error":{"message":"context length exceeded","type":"invalid_request_error","code":"context_length_exceeded"}}`
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, upstreamError)
	}))
	defer first.Close()
	var secondCalls int32
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondCalls, 1)
	}))
	defer second.Close()

	capture := &logCapture{}
	path := accessPath("mini", openaiConnection(first.URL), openaiConnection(second.URL))
	client, stop := newProxyFixture(t, staticResolver(path), capture)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(body) != upstreamError {
		t.Errorf("body = %s, want the upstream error verbatim", body)
	}
	if n := atomic.LoadInt32(&secondCalls); n != 0 {
		t.Errorf("second connection was tried %d times after a definitive error", n)
	}

	logs := capture.wait(t, 1)
	if logs[0].HTTPStatusCode != http.StatusBadRequest || logs[0].Error == nil {
		t.Errorf("definitive failure logged as %d, err %v", logs[0].HTTPStatusCode, logs[0].Error)
	}
}

func TestChatCompletions_MalformedUpstreamBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `<!doctype html><p>proxy says no</p>`)
	}))
	defer upstream.Close()

	capture := &logCapture{}
	path := accessPath("mini", openaiConnection(upstream.URL))
	client, stop := newProxyFixture(t, staticResolver(path), capture)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[{"role":"user","content":"hi"}]}`)
	readBody(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 after exhausting candidates", resp.StatusCode)
	}

	logs := capture.wait(t, 1)
	if logs[0].HTTPStatusCode != http.StatusOK {
		t.Errorf("logged status = %d, want the upstream 200", logs[0].HTTPStatusCode)
	}
	if logs[0].Error == nil {
		t.Error("malformed body should log the decode failure")
	}
}

func TestChatCompletions_AuthHeader(t *testing.T) {
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini")), nil)
	defer stop()

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Token sk-test"},
		{"lowercase bearer", "bearer sk-test"},
		{"extra tokens", "Bearer sk-test extra"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, "http://llmur/v1/chat/completions", strings.NewReader(`{"model":"mini"}`))
			if err != nil {
				t.Fatal(err)
			}
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			readBody(t, resp)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestChatCompletions_MissingModel(t *testing.T) {
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini")), nil)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "model") {
		t.Errorf("error should name the missing field, got %s", body)
	}
}

func TestChatCompletions_StreamsWhenUpstreamSpeaksOpenAI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("accept header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"id\":\"chunk-1\"}\n\n")
		flusher.Flush()
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer upstream.Close()

	capture := &logCapture{}
	path := accessPath("mini", openaiConnection(upstream.URL))
	client, stop := newProxyFixture(t, staticResolver(path), capture)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(string(body), "chunk-1") || !strings.Contains(string(body), "[DONE]") {
		t.Errorf("stream body = %q", body)
	}

	logs := capture.wait(t, 1)
	if logs[0].HTTPStatusCode != http.StatusOK {
		t.Errorf("logged status = %d", logs[0].HTTPStatusCode)
	}
	if logs[0].InputTokens != 0 || logs[0].OutputTokens != 0 {
		t.Errorf("streamed attempt should log zero usage, got %d/%d", logs[0].InputTokens, logs[0].OutputTokens)
	}
}

func TestChatCompletions_RejectsStreamingToGemini(t *testing.T) {
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini", geminiConnection("http://127.0.0.1:1"))), nil)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(strings.ToLower(string(body)), "stream") {
		t.Errorf("error should mention streaming, got %s", body)
	}
}

// --- embeddings -------------------------------------------------------------

func TestEmbeddings_RejectsTokenArraysOnAzure(t *testing.T) {
	conn := azureConnection("http://127.0.0.1:1", azure.APIVersion20241021)
	client, stop := newProxyFixture(t, staticResolver(accessPath("embed", conn)), nil)
	defer stop()

	resp := doPost(t, client, "/v1/embeddings", "sk-test", `{"model":"embed","input":[[1,2,3]]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "token") {
		t.Errorf("error should name token inputs, got %s", body)
	}
}

func TestEmbeddings_ConvertsForGemini(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-pro:embedContent" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gm-secret" {
			t.Errorf("upstream auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"embedding":{"values":[0.125,-0.5]},"usageMetadata":{"promptTokenCount":4}}`)
	}))
	defer upstream.Close()

	client, stop := newProxyFixture(t, staticResolver(accessPath("embed", geminiConnection(upstream.URL))), nil)
	defer stop()

	resp := doPost(t, client, "/v1/embeddings", "sk-test", `{"model":"embed","input":"hello"}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var canonical struct {
		Object string `json:"object"`
		Model  string `json:"model"`
		Data   []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &canonical); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if canonical.Object != "list" || canonical.Model != "embed" {
		t.Errorf("canonical envelope = %q/%q", canonical.Object, canonical.Model)
	}
	if len(canonical.Data) != 1 || len(canonical.Data[0].Embedding) != 2 {
		t.Errorf("embedding data = %+v", canonical.Data)
	}
}

// --- responses --------------------------------------------------------------

func TestResponses_RequiresCompatibleProvider(t *testing.T) {
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini", geminiConnection("http://127.0.0.1:1"))), nil)
	defer stop()

	resp := doPost(t, client, "/v1/responses", "sk-test", `{"model":"mini","input":"hi"}`)
	readBody(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 when no connection can serve the operation", resp.StatusCode)
	}
}

// --- azure ------------------------------------------------------------------

func TestAzureChat_TargetsDeploymentPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/prod-gpt/chat/completions" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-02-01" {
			t.Errorf("api-version = %q", got)
		}
		if got := r.Header.Get("api-key"); got != "az-secret" {
			t.Errorf("api-key header = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected Authorization header %q on azure request", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, upstreamChatBody)
	}))
	defer upstream.Close()

	conn := azureConnection(upstream.URL, azure.APIVersion20240201)
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini", conn)), nil)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[{"role":"user","content":"hi"}]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var canonical map[string]any
	if err := json.Unmarshal(body, &canonical); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if canonical["model"] != "mini" {
		t.Errorf("model = %v", canonical["model"])
	}
}

// --- resolution failures ----------------------------------------------------

func TestProxy_ResolverErrorsKeepTheirStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown key", apierr.InvalidCredentials(), http.StatusUnauthorized},
		{"blocked key", apierr.KeyBlocked(), http.StatusForbidden},
		{"model not allowed", apierr.ModelNotAllowed("mini"), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := resolverFunc(func(context.Context, string, string, bool) (*graph.Graph, error) {
				return nil, tc.err
			})
			client, stop := newProxyFixture(t, resolver, nil)
			defer stop()

			resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[]}`)
			readBody(t, resp)
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestProxy_NoCandidates(t *testing.T) {
	client, stop := newProxyFixture(t, staticResolver(accessPath("mini")), nil)
	defer stop()

	resp := doPost(t, client, "/v1/chat/completions", "sk-test", `{"model":"mini","messages":[]}`)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
}
