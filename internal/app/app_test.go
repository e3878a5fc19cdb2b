package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StoreDriver:                 "memory",
		JWTSecret:                   "test-secret",
		TranscriptionProvider:       "captions",
		GenerationProvider:          "openai",
		OpenAIAPIKey:                "sk-test",
		OpenAIModel:                 "gpt-4o-mini",
		ProviderRequestsPerMinute:   60,
		CaptionLanguages:            []string{"en"},
		StorageType:                 "local",
		StoragePath:                 t.TempDir(),
		TranscriptionWindowSeconds:  600,
		TranscriptionOverlapSeconds: 5,
		GenerationTokenBudget:       3000,
		WorkerCount:                 2,
		PollInterval:                time.Hour,
		FrontendURL:                 "http://localhost:5173",
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	a, err := New(context.Background(), testConfig(t), log)
	if err != nil && strings.Contains(err.Error(), "tiktoken") {
		t.Skipf("token encoding unavailable: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "postgres"
	_, err := New(context.Background(), cfg, logrus.New())
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestAppServesAPI(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	srv := httptest.NewServer(a.Handler)
	defer srv.Close()

	token, err := a.Auth.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	do := func(method, path, body string, auth bool) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		if auth {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(http.MethodGet, "/api/v1/books", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(http.MethodGet, "/api/v1/books", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodPost, "/api/v1/jobs", `{"url":"https://example.com/watch"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "INVALID_SOURCE")
}
