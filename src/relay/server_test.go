package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snapsight/src/analyzer"
)

func newTestHandler(t *testing.T, a analyzer.Analyzer, maxBody int64) http.Handler {
	t.Helper()
	h, err := NewHandler(Options{Analyzer: a, Logger: zap.NewNop(), MaxBodyBytes: maxBody})
	require.NoError(t, err)
	return h
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, AnalyzePath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeImage(t *testing.T) {
	var got []byte
	ok := analyzer.Func(func(_ context.Context, img []byte) (string, error) {
		got = img
		return "<p>A chart</p>", nil
	})

	tests := []struct {
		name       string
		analyzer   analyzer.Analyzer
		body       string
		wantStatus int
		wantBody   string
	}{
		{"success", ok, `{"image":"AAAA"}`, http.StatusOK, `{"analysis":"<p>A chart</p>"}`},
		{"missing image", ok, `{}`, http.StatusBadRequest, `{"error":"No image provided"}`},
		{"empty image", ok, `{"image":""}`, http.StatusBadRequest, `{"error":"No image provided"}`},
		{"bad base64", ok, `{"image":"%%%not-base64"}`, http.StatusBadRequest, `{"error":"Invalid image data"}`},
		{"malformed json", ok, `{"image":`, http.StatusBadRequest, `{"error":"Invalid request body"}`},
		{
			"empty model text",
			analyzer.Func(func(context.Context, []byte) (string, error) { return "", nil }),
			`{"image":"AAAA"}`,
			http.StatusOK,
			`{"analysis":""}`,
		},
		{
			"model failure",
			analyzer.Func(func(context.Context, []byte) (string, error) { return "", errors.New("quota") }),
			`{"image":"AAAA"}`,
			http.StatusInternalServerError,
			`{"error":"An error occurred while analyzing the image"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(newTestHandler(t, tt.analyzer, 0), tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	assert.Equal(t, []byte{0, 0, 0}, got, "payload is decoded before analysis")
}

func TestAnalyzeImageBodyLimit(t *testing.T) {
	a := analyzer.Func(func(context.Context, []byte) (string, error) { return "x", nil })
	h := newTestHandler(t, a, 32)

	rec := post(h, `{"image":"`+strings.Repeat("A", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = post(h, `{"image":"AAAA"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, analyzer.Func(func(context.Context, []byte) (string, error) { return "", nil }), 0)

	req := httptest.NewRequest(http.MethodOptions, AnalyzePath, nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHandler(t, analyzer.Func(func(context.Context, []byte) (string, error) { return "ok", nil }), 0)
	post(h, `{"image":"AAAA"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `snapsight_http_requests_total{method="POST",route="/analyze-image",status="200"} 1`)
	assert.Contains(t, body, "snapsight_analyze_duration_seconds")
}

func TestNewHandlerRequiresAnalyzer(t *testing.T) {
	_, err := NewHandler(Options{})
	assert.Error(t, err)
}

func TestManagerLifecycle(t *testing.T) {
	h := newTestHandler(t, analyzer.Func(func(context.Context, []byte) (string, error) { return "ok", nil }), 0)
	m := NewManager(h, DefaultServerConfig("127.0.0.1:0"), zap.NewNop())

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "double start")

	resp, err := http.Get("http://" + m.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start(), "start after shutdown")
}
