package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/goleak"

	"github.com/janisto/cicd-demo/internal/config"
	"github.com/janisto/cicd-demo/internal/http/home"
)

func serve(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestRootReturnsWelcomeMessage(t *testing.T) {
	router := NewRouter(config.Default(), "test")
	resp := serve(t, router, http.MethodGet, "/", map[string]string{chimiddleware.RequestIDHeader: "root-req"})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "Welcome to Flask Application - CI/CD Demo" {
		t.Fatalf("unexpected body %q", body)
	}
	if id := resp.Header().Get(chimiddleware.RequestIDHeader); id != "root-req" {
		t.Fatalf("expected request ID to be echoed, got %q", id)
	}
	if resp.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}

func TestHealthReturnsHealthyStatus(t *testing.T) {
	router := NewRouter(config.Default(), "test")
	resp := serve(t, router, http.MethodGet, "/health", nil)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(payload) != 1 || payload["status"] != "healthy" {
		t.Fatalf(`expected {"status":"healthy"}, got %v`, payload)
	}
}

func TestResponsesAreIdempotent(t *testing.T) {
	router := NewRouter(config.Default(), "test")

	for _, path := range []string{"/", "/health"} {
		first := serve(t, router, http.MethodGet, path, nil)
		second := serve(t, router, http.MethodGet, path+"?x=1", map[string]string{"Accept": "application/cbor"})
		if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
			t.Fatalf("%s: bodies differ: %q vs %q", path, first.Body.String(), second.Body.String())
		}
	}
}

func TestHeadIsServedForGetRoutes(t *testing.T) {
	router := NewRouter(config.Default(), "test")

	for _, path := range []string{"/", "/health"} {
		resp := serve(t, router, http.MethodHead, path, nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("HEAD %s: expected 200, got %d", path, resp.Code)
		}
	}
}

func TestUnknownPathsReturnNotFound(t *testing.T) {
	router := NewRouter(config.Default(), "test")

	for _, path := range []string{"/missing", "/healthz", "/health/", "/openapi.json", "/docs", "/schemas/ErrorModel.json"} {
		resp := serve(t, router, http.MethodGet, path, nil)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", path, resp.Code)
		}
		if ct := resp.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("GET %s: expected problem+json, got %q", path, ct)
		}
		var problem huma.ErrorModel
		if err := json.Unmarshal(resp.Body.Bytes(), &problem); err != nil {
			t.Fatalf("GET %s: failed to unmarshal problem: %v", path, err)
		}
		if problem.Status != http.StatusNotFound {
			t.Fatalf("GET %s: unexpected problem status %d", path, problem.Status)
		}
	}
}

func TestUnsupportedMethodReturnsMethodNotAllowed(t *testing.T) {
	router := NewRouter(config.Default(), "test")

	for _, path := range []string{"/", "/health"} {
		resp := serve(t, router, http.MethodPost, path, nil)
		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("POST %s: expected 405, got %d", path, resp.Code)
		}
		if allow := resp.Header().Get("Allow"); !strings.Contains(allow, http.MethodGet) {
			t.Fatalf("POST %s: expected Allow to list GET, got %q", path, allow)
		}
	}
}

func TestDocsAreServedWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.DocsEnabled = true
	router := NewRouter(cfg, "1.2.3")

	resp := serve(t, router, http.MethodGet, "/openapi.json", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to unmarshal OpenAPI document: %v", err)
	}
	if doc.Info.Title != apiTitle || doc.Info.Version != "1.2.3" {
		t.Fatalf("unexpected info %+v", doc.Info)
	}
	if _, ok := doc.Paths["/"]; !ok {
		t.Fatalf("expected / in paths, got %v", doc.Paths)
	}

	docs := serve(t, router, http.MethodGet, docsPath, nil)
	if docs.Code != http.StatusOK {
		t.Fatalf("expected docs page, got %d", docs.Code)
	}
	if docs.Header().Get("X-Frame-Options") != "" {
		t.Fatal("expected docs page to skip security headers")
	}
}

func TestNewAppliesConfig(t *testing.T) {
	srv := New(config.Default(), http.NotFoundHandler())
	if srv.Addr != "0.0.0.0:5000" {
		t.Fatalf("expected 0.0.0.0:5000, got %s", srv.Addr)
	}
	if srv.ReadHeaderTimeout == 0 || srv.MaxHeaderBytes != 64<<10 {
		t.Fatalf("expected timeouts and header cap, got %+v", srv)
	}
}

func TestListenFailsFastWhenPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = taken.Close() }()

	srv := &http.Server{Addr: taken.Addr().String(), ReadHeaderTimeout: time.Second}
	if _, err := Listen(srv); err == nil {
		t.Fatal("expected listen error for taken port")
	} else if !strings.Contains(err.Error(), taken.Addr().String()) {
		t.Fatalf("expected error to name the address, got %v", err)
	}
}

func TestRunServesUntilContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	srv := New(cfg, NewRouter(cfg, "test"))
	srv.Addr = "127.0.0.1:0"

	ln, err := Listen(srv)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, ln, time.Second) }()

	transport := &http.Transport{}
	client := &http.Client{Transport: transport, Timeout: time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != home.Message {
		t.Fatalf("unexpected body %q", body)
	}
	transport.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunReturnsServeError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second}
	ln, err := Listen(srv)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// A closed listener makes Serve fail immediately.
	_ = ln.Close()

	err = Run(context.Background(), srv, ln, time.Second)
	if err == nil || !strings.Contains(err.Error(), "serve") {
		t.Fatalf("expected serve error, got %v", err)
	}
}

func TestOptionsHandling(t *testing.T) {
	router := NewRouter(config.Default(), "test")

	plain := serve(t, router, http.MethodOptions, "/health", nil)
	if plain.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for plain OPTIONS, got %d", plain.Code)
	}
	if allow := plain.Header().Get("Allow"); allow != "GET, HEAD" {
		t.Fatalf("expected Allow 'GET, HEAD', got %q", allow)
	}

	preflight := serve(t, router, http.MethodOptions, "/health", map[string]string{
		"Origin":                        "http://example.com",
		"Access-Control-Request-Method": http.MethodGet,
	})
	if preflight.Code != http.StatusOK {
		t.Fatalf("expected 200 for CORS preflight, got %d", preflight.Code)
	}
	if got := preflight.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin '*', got %q", got)
	}
}
