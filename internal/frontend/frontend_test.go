package frontend

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":     {Data: []byte("<html>office</html>")},
		"js/office.js":   {Data: []byte("console.log('hq')")},
		"css/pixels.css": {Data: []byte("body{}")},
	}
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlerServesFiles(t *testing.T) {
	h := Handler(testFS())

	tests := []struct {
		path        string
		body        string
		contentType string
	}{
		{"/", "<html>office</html>", "text/html"},
		{"/js/office.js", "console.log('hq')", "javascript"},
		{"/css/pixels.css", "body{}", "text/css"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(h, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, tt.contentType) {
				t.Errorf("Content-Type = %q, want it to contain %q", ct, tt.contentType)
			}
		})
	}
}

func TestHandlerNotFound(t *testing.T) {
	h := Handler(testFS())

	for _, path := range []string{"/missing.png", "/js", "/../../etc/passwd"} {
		rec := serve(h, path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
		if rec.Body.String() != "Not found" {
			t.Errorf("GET %s body = %q, want %q", path, rec.Body.String(), "Not found")
		}
	}
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	h, err := Dir(dir)
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if rec := serve(h, "/"); rec.Body.String() != "hi" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "hi")
	}
}

func TestDirMissing(t *testing.T) {
	if _, err := Dir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("Dir() expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, nil, 0644)
	if _, err := Dir(file); err == nil {
		t.Error("Dir() expected error for a regular file")
	}
}
