package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "coderev/internal/errors"
	"coderev/internal/review"
)

type fakeService struct {
	pingErr     error
	reviewErr   error
	refactorErr error

	lastReview   review.Request
	lastCode     string
	lastLanguage string
	lastIssues   []string
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

func (f *fakeService) Review(_ context.Context, req review.Request) (review.ReviewOutcome, error) {
	f.lastReview = req
	if f.reviewErr != nil {
		return review.ReviewOutcome{}, f.reviewErr
	}
	return review.ReviewOutcome{
		Summary: "Critical: eval with user input",
		Rating:  1,
		Issues:  []review.Issue{{Severity: "warning", Line: 1, Description: "eval() is dangerous"}},
	}, nil
}

func (f *fakeService) Refactor(_ context.Context, code, language string, issues []string) (review.RefactorOutcome, error) {
	f.lastCode, f.lastLanguage, f.lastIssues = code, language, issues
	if f.refactorErr != nil {
		return review.RefactorOutcome{}, f.refactorErr
	}
	return review.RefactorOutcome{RefactoredCode: "int(input())", ChangesMade: []string{"Removed eval"}}, nil
}

func (f *fakeService) ReviewAndRefactor(_ context.Context, req review.Request) (review.CombinedOutcome, error) {
	f.lastReview = req
	if f.reviewErr != nil {
		return review.CombinedOutcome{}, f.reviewErr
	}
	return review.CombinedOutcome{
		Summary:        "risky",
		Rating:         2,
		Issues:         []review.Issue{{Severity: "warning", Line: 1, Description: "eval() is dangerous"}},
		RefactoredCode: "int(input())",
		ChangesMade:    []string{"Removed eval"},
	}, nil
}

func newTestRouter(service ReviewService, mutate func(*ServerConfig)) http.Handler {
	cfg := DefaultServerConfig()
	cfg.StaticDir = ""
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRouter(service, cfg, nil, nil)
}

func multipartRequest(t *testing.T, path, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	rec := serve(newTestRouter(&fakeService{}, nil), httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, rec))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHealthErrors(t *testing.T) {
	rec := serve(newTestRouter(&fakeService{pingErr: apperrors.NewUpstreamTimeout(1, nil)}, nil),
		httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = serve(newTestRouter(&fakeService{pingErr: apperrors.NewUpstreamStatus(401, "")}, nil),
		httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["detail"], "401")
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := serve(newTestRouter(&fakeService{}, nil), req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestReviewInfersLanguage(t *testing.T) {
	svc := &fakeService{}
	rec := serve(newTestRouter(svc, nil),
		multipartRequest(t, "/api/v1/review", "main.py", []byte("eval(input())"), nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Critical: eval with user input", body["summary"])
	assert.Equal(t, float64(1), body["rating"])
	assert.Nil(t, body["refactored_code"])
	issues := body["issues"].([]any)
	require.Len(t, issues, 1)
	assert.Equal(t, "warning", issues[0].(map[string]any)["severity"])

	assert.Equal(t, "python", svc.lastReview.Language)
	assert.Equal(t, "eval(input())", svc.lastReview.Code)
	assert.Equal(t, review.FocusNone, svc.lastReview.Focus)
}

func TestReviewExplicitLanguageAndFocus(t *testing.T) {
	svc := &fakeService{}
	rec := serve(newTestRouter(svc, nil), multipartRequest(t, "/api/v1/review", "snippet.txt", []byte("x"),
		map[string]string{"language": " Kotlin ", "focus": "performance"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "kotlin", svc.lastReview.Language)
	assert.Equal(t, review.FocusPerformance, svc.lastReview.Focus)
}

func TestReviewInputErrors(t *testing.T) {
	router := newTestRouter(&fakeService{}, func(cfg *ServerConfig) { cfg.MaxUploadBytes = 16 })

	cases := []struct {
		name   string
		req    *http.Request
		status int
		detail string
	}{
		{
			name:   "unknown extension",
			req:    multipartRequest(t, "/api/v1/review", "notes.txt", []byte("x"), nil),
			status: http.StatusBadRequest,
			detail: "language is required",
		},
		{
			name:   "invalid focus",
			req:    multipartRequest(t, "/api/v1/review", "a.go", []byte("x"), map[string]string{"focus": "style"}),
			status: http.StatusBadRequest,
			detail: "invalid focus",
		},
		{
			name:   "non utf8",
			req:    multipartRequest(t, "/api/v1/review", "a.go", []byte{0xff, 0xfe, 0xfd}, nil),
			status: http.StatusBadRequest,
			detail: "UTF-8",
		},
		{
			name:   "missing file",
			req:    multipartRequest(t, "/api/v1/review", "", nil, map[string]string{"language": "go"}),
			status: http.StatusUnprocessableEntity,
			detail: "file is required",
		},
		{
			name:   "too large",
			req:    multipartRequest(t, "/api/v1/review-and-refactor", "a.go", []byte(strings.Repeat("x", 64)), nil),
			status: http.StatusRequestEntityTooLarge,
			detail: "too large",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(router, tc.req)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec)["detail"], tc.detail)
		})
	}
}

func TestReviewUpstreamErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperrors.NewUpstreamTimeout(3, nil), http.StatusGatewayTimeout},
		{apperrors.NewUpstreamStatus(400, "bad"), http.StatusBadGateway},
		{apperrors.NewExtraction("no choices"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newTestRouter(&fakeService{reviewErr: tc.err}, nil)
		rec := serve(router, multipartRequest(t, "/api/v1/review", "a.py", []byte("x"), nil))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.NotEmpty(t, decode(t, rec)["detail"])
	}
}

func TestRefactorEndpoint(t *testing.T) {
	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refactor",
		strings.NewReader(`{"code":"eval(input())","language":"python","issues":["eval() is dangerous"]}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(newTestRouter(svc, nil), req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "int(input())", body["refactored_code"])
	assert.Equal(t, []any{"Removed eval"}, body["changes_made"])

	assert.Equal(t, "eval(input())", svc.lastCode)
	assert.Equal(t, "python", svc.lastLanguage)
	assert.Equal(t, []string{"eval() is dangerous"}, svc.lastIssues)
}

func TestRefactorValidation(t *testing.T) {
	router := newTestRouter(&fakeService{}, nil)
	for _, payload := range []string{`{"language":"python"}`, `{"code":"","language":"python"}`, `{"code":"x"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refactor", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(router, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, payload)
	}
}

func TestReviewAndRefactorEndpoint(t *testing.T) {
	svc := &fakeService{}
	rec := serve(newTestRouter(svc, nil),
		multipartRequest(t, "/api/v1/review-and-refactor", "app.js", []byte("eval(x)"), nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "risky", body["summary"])
	assert.Equal(t, float64(2), body["rating"])
	assert.Equal(t, "int(input())", body["refactored_code"])
	assert.Equal(t, []any{"Removed eval"}, body["changes_made"])
	assert.Equal(t, "javascript", svc.lastReview.Language)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Code Review</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))

	router := newTestRouter(&fakeService{}, func(cfg *ServerConfig) { cfg.StaticDir = dir })

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Code Review")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&fakeService{}, func(cfg *ServerConfig) {
		cfg.AllowedOrigins = []string{"http://ui.test"}
	})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/refactor", nil)
	req.Header.Set("Origin", "http://ui.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := serve(router, req)
	assert.Equal(t, "http://ui.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
