package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Ramachokkalingam/cmdr-code/src/session"
	"github.com/Ramachokkalingam/cmdr-code/src/terminal"
)

// DummyResponseWriter implements http.ResponseWriter but discards all data.
// This eliminates overhead from httptest.NewRecorder() in benchmarks.
type DummyResponseWriter struct{}

func (d *DummyResponseWriter) Header() http.Header {
	return http.Header{}
}

func (d *DummyResponseWriter) Write(data []byte) (int, error) {
	return len(data), nil
}

func (d *DummyResponseWriter) WriteHeader(statusCode int) {}

// setupBenchmarkRouter wraps SetupRouter with benchmark mode configuration,
// backed by a fresh Registry rooted in a scratch directory.
func setupBenchmarkRouter(b *testing.B) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	reg, err := session.NewRegistry(session.RegistryConfig{
		StateDir:       b.TempDir(),
		BufferCapacity: session.DefaultBufferCapacity,
	})
	if err != nil {
		b.Fatalf("NewRegistry() = %v", err)
	}
	adapter := terminal.NewAdapter(terminal.AdapterConfig{Registry: reg})

	return SetupRouter(RouterConfig{
		Registry:              reg,
		Adapter:               adapter,
		DisableRequestLogging: true,
	})
}

// benchmarkRequest executes an HTTP request against the router for benchmarking.
func benchmarkRequest(b *testing.B, router *gin.Engine, method, path string, body []byte) {
	w := new(DummyResponseWriter)
	for b.Loop() {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewBuffer(body)
		}
		req, _ := http.NewRequest(method, path, bodyReader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		router.ServeHTTP(w, req)
	}
}

// BenchmarkHealth benchmarks the liveness endpoint.
func BenchmarkHealth(b *testing.B) {
	router := setupBenchmarkRouter(b)
	benchmarkRequest(b, router, http.MethodGet, "/health", nil)
}

// BenchmarkListSessionsEmpty benchmarks listing sessions against an empty registry.
func BenchmarkListSessionsEmpty(b *testing.B) {
	router := setupBenchmarkRouter(b)
	benchmarkRequest(b, router, http.MethodGet, "/sessions", nil)
}

// BenchmarkListSessionsPopulated benchmarks listing sessions once a number
// of sessions already exist in the registry.
func BenchmarkListSessionsPopulated(b *testing.B) {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	reg, err := session.NewRegistry(session.RegistryConfig{
		StateDir:       b.TempDir(),
		BufferCapacity: session.DefaultBufferCapacity,
	})
	if err != nil {
		b.Fatalf("NewRegistry() = %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := reg.CreateNew(fmt.Sprintf("session-%d", i), "", ""); err != nil {
			b.Fatalf("CreateNew() = %v", err)
		}
	}
	adapter := terminal.NewAdapter(terminal.AdapterConfig{Registry: reg})
	router := SetupRouter(RouterConfig{Registry: reg, Adapter: adapter, DisableRequestLogging: true})

	benchmarkRequest(b, router, http.MethodGet, "/sessions", nil)
}

// BenchmarkGetSessionNotFound benchmarks the not-found path of the
// single-session lookup endpoint.
func BenchmarkGetSessionNotFound(b *testing.B) {
	router := setupBenchmarkRouter(b)
	benchmarkRequest(b, router, http.MethodGet, "/sessions/does-not-exist", nil)
}
