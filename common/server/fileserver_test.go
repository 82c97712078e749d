package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnlab/labstore/common/logger"
)

func TestFileHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "TRH"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "TRH", "run 1.xlsx"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "TRH", "file_notes.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".secret"), []byte("x"), 0o644))

	h := FileHandler(root, logger.Discard())

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"serves file", http.MethodGet, "/TRH/run%201.xlsx", http.StatusOK},
		{"head allowed", http.MethodHead, "/TRH/run%201.xlsx", http.StatusOK},
		{"missing file", http.MethodGet, "/TRH/nope.xlsx", http.StatusNotFound},
		{"no directory listing", http.MethodGet, "/TRH/", http.StatusNotFound},
		{"dot files hidden", http.MethodGet, "/.secret", http.StatusNotFound},
		{"writes rejected", http.MethodPut, "/TRH/run%201.xlsx", http.StatusMethodNotAllowed},
		{"delete rejected", http.MethodDelete, "/TRH/run%201.xlsx", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/TRH/run%201.xlsx", nil))
	assert.Equal(t, "data", rec.Body.String())
}

func TestFileHandlerExcludes(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"TRH/a.xlsx", "archive/TRH/a.xlsx", "DOWNLOADS/TRH/a.xlsx", "upload_log.csv", "archived.xlsx"} {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, p)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, p), []byte("x"), 0o644))
	}

	exclude := Excludes(root,
		filepath.Join(root, "archive"),
		filepath.Join(root, "upload_log.csv"),
		filepath.Join(root, "DOWNLOADS"),
		filepath.Join(t.TempDir(), "elsewhere"),
	)
	assert.Equal(t, []string{"archive", "upload_log.csv", "DOWNLOADS"}, exclude)

	h := FileHandler(root, logger.Discard(), exclude...)

	tests := []struct {
		path   string
		status int
	}{
		{"/TRH/a.xlsx", http.StatusOK},
		{"/archived.xlsx", http.StatusOK},
		{"/archive/TRH/a.xlsx", http.StatusNotFound},
		{"/DOWNLOADS/TRH/a.xlsx", http.StatusNotFound},
		{"/upload_log.csv", http.StatusNotFound},
		{"/TRH/../upload_log.csv", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL.Path = tt.path
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "", FileURL("", "TRH/a.xlsx"))
	assert.Equal(t, "http://nas:8502/HEAD%20WEAR/a%20b.xlsx", FileURL("http://nas:8502/", "HEAD WEAR/a b.xlsx"))
	assert.True(t, strings.HasPrefix(FileURL("http://nas:8502", "TRH/a.xlsx"), "http://nas:8502/TRH/"))
}
