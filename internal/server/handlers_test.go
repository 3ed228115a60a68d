package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillframe/gifpipe/internal/job"
	"github.com/stillframe/gifpipe/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubConverter returns a canned pipeline result and records the options
// of the last run.
type stubConverter struct {
	mu     sync.Mutex
	result pipeline.Result
	err    error
	opts   pipeline.Options
	calls  int
}

func (c *stubConverter) Execute(_ context.Context, opts pipeline.Options) (pipeline.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.opts = opts
	return c.result, c.err
}

func (c *stubConverter) lastOptions() (pipeline.Options, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts, c.calls
}

// stubStorage satisfies storage.Storage without touching disk or S3.
type stubStorage struct{}

func (stubStorage) Cleanup(_ context.Context, _ []string) error { return nil }

func (stubStorage) Publish(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", errors.New("not implemented")
}

type testEnv struct {
	repo      *job.MemoryRepository
	converter *stubConverter
	router    http.Handler
}

func newTestEnv(t *testing.T, handlerOpts ...HandlerOption) *testEnv {
	t.Helper()
	repo := job.NewMemoryRepository()
	converter := &stubConverter{}
	svc := job.NewConvertService(repo, converter, stubStorage{}, testLogger())
	handlers := NewHandlers(svc, testLogger(), handlerOpts...)
	return &testEnv{
		repo:      repo,
		converter: converter,
		router:    NewRouter(handlers, testLogger(), DefaultConfig()),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func f64(v float64) *float64 { return &v }

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateConversion_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/conversions", "{not json")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateConversion_Validation(t *testing.T) {
	tests := []struct {
		name string
		body CreateConversionRequest
	}{
		{
			name: "missing url",
			body: CreateConversionRequest{},
		},
		{
			name: "not a url",
			body: CreateConversionRequest{URL: "nope"},
		},
		{
			name: "integrity wrong length",
			body: CreateConversionRequest{
				URL:       "http://example.com/a.gif",
				Integrity: "abc123",
			},
		},
		{
			name: "integrity not hex",
			body: CreateConversionRequest{
				URL:       "http://example.com/a.gif",
				Integrity: "zz" + string(bytes.Repeat([]byte("a"), 62)),
			},
		},
		{
			name: "saturation factor above supported range",
			body: CreateConversionRequest{
				URL:        "http://example.com/a.gif",
				Operations: []OperationSpec{{Type: "saturate", Factor: f64(3)}},
			},
		},
		{
			name: "unknown operation type",
			body: CreateConversionRequest{
				URL:        "http://example.com/a.gif",
				Operations: []OperationSpec{{Type: "sharpen"}},
			},
		},
		{
			name: "overlay without source",
			body: CreateConversionRequest{
				URL:        "http://example.com/a.gif",
				Operations: []OperationSpec{{Type: "overlay"}},
			},
		},
		{
			name: "invalid format",
			body: CreateConversionRequest{
				URL:      "http://example.com/a.gif",
				Encoding: &EncodingSpec{Format: "avi"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/conversions", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
		})
	}
}

func TestCreateConversion_Accepted(t *testing.T) {
	env := newTestEnv(t, WithAsyncRun(false))

	rec := env.do(t, http.MethodPost, "/conversions", CreateConversionRequest{
		URL:           "http://example.com/a.gif",
		StillFallback: true,
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[CreateConversionResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, string(job.StatusInQueue), resp.Status)

	stored, err := env.repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a.gif", stored.SourceURL)

	// Background execution is disabled, so the converter never ran.
	_, calls := env.converter.lastOptions()
	assert.Zero(t, calls)
}

func TestCreateConversion_AsyncRunCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.converter.result = pipeline.Result{
		OutputPath:  "/tmp/video.mp4",
		Diagnostics: pipeline.Diagnostics{FrameCount: 3, TotalDurationMs: 300},
	}

	saturation := 1.5
	rec := env.do(t, http.MethodPost, "/conversions", CreateConversionRequest{
		URL: "http://example.com/a.gif",
		Operations: []OperationSpec{
			{Type: "blur", Radius: 2},
			{Type: "saturate", Factor: &saturation},
			{Type: "overlay", Source: "https://example.com/logo.png", X: 4, Y: 4},
		},
		StillFallback: true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[CreateConversionResponse](t, rec)

	require.Eventually(t, func() bool {
		stored, err := env.repo.FindByID(context.Background(), resp.ID)
		return err == nil && stored.Status == job.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	opts, calls := env.converter.lastOptions()
	assert.Equal(t, 1, calls)
	require.Len(t, opts.Operations, 3)
	assert.Equal(t, "blur", opts.Operations[0].Name())
	assert.Equal(t, "saturation", opts.Operations[1].Name())
	assert.Equal(t, "overlay", opts.Operations[2].Name())
	assert.True(t, opts.StillFallback)
	assert.Equal(t, "mp4", opts.Encoding.Format)
}

func TestGetConversion_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/conversions/nope", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func completedJob(t *testing.T, env *testEnv, res job.Result) *job.Job {
	t.Helper()
	j := job.NewWithID("conv-done", "http://example.com/a.gif", false)
	require.NoError(t, j.Start())
	j.SetResult(res)
	require.NoError(t, j.Complete())
	require.NoError(t, env.repo.Save(context.Background(), j))
	return j
}

func TestGetConversion_CompletedVideo(t *testing.T) {
	env := newTestEnv(t)

	videoPath := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("video bytes"), 0o600))
	completedJob(t, env, job.Result{
		OutputPath:      videoPath,
		FrameCount:      3,
		TotalDurationMs: 300,
		LoopCount:       2,
	})

	rec := env.do(t, http.MethodGet, "/conversions/conv-done", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ConversionResponse](t, rec)
	assert.Equal(t, string(job.StatusCompleted), resp.Status)
	assert.False(t, resp.FallbackUsed)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("video bytes")), resp.VideoBase64)
	assert.Empty(t, resp.StillBase64)
	assert.Equal(t, 3, resp.FrameCount)
	assert.Equal(t, 300, resp.DurationMs)
	assert.Equal(t, 2, resp.LoopCount)
}

func TestGetConversion_Fallback(t *testing.T) {
	env := newTestEnv(t)

	stillPath := filepath.Join(t.TempDir(), "still.png")
	require.NoError(t, os.WriteFile(stillPath, []byte("png bytes"), 0o600))
	completedJob(t, env, job.Result{
		StillPath:    stillPath,
		FallbackUsed: true,
	})

	rec := env.do(t, http.MethodGet, "/conversions/conv-done", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ConversionResponse](t, rec)
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png bytes")), resp.StillBase64)
	assert.Empty(t, resp.VideoBase64)
	assert.Empty(t, resp.OutputURL)
}

func TestGetConversion_PublishedURL(t *testing.T) {
	env := newTestEnv(t)

	completedJob(t, env, job.Result{
		OutputPath:   "/tmp/video.mp4",
		PublishedURL: "https://bucket.s3.eu-west-1.amazonaws.com/conversions/conv-done.mp4",
	})

	rec := env.do(t, http.MethodGet, "/conversions/conv-done", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ConversionResponse](t, rec)
	assert.Equal(t, "https://bucket.s3.eu-west-1.amazonaws.com/conversions/conv-done.mp4", resp.OutputURL)
	assert.Empty(t, resp.VideoBase64)
}

func TestGetConversion_FailedJob(t *testing.T) {
	env := newTestEnv(t)

	j := job.NewWithID("conv-bad", "http://example.com/a.gif", false)
	require.NoError(t, j.Start())
	require.NoError(t, j.Fail("pipeline: decoding stage failed: not a gif"))
	require.NoError(t, env.repo.Save(context.Background(), j))

	rec := env.do(t, http.MethodGet, "/conversions/conv-bad", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ConversionResponse](t, rec)
	assert.Equal(t, string(job.StatusFailed), resp.Status)
	assert.Contains(t, resp.Error, "decoding")
	assert.Empty(t, resp.VideoBase64)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/conversions", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
