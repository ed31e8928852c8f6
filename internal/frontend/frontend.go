// Package frontend serves the visualization's static assets.
package frontend

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// Handler serves files from fsys. "/" maps to index.html; directories and
// missing files get a plain 404.
func Handler(fsys fs.FS) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if name == "/" {
			name = "/index.html"
		}
		name = strings.TrimPrefix(name, "/")

		f, err := fsys.Open(name)
		if err != nil {
			notFound(w)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			notFound(w)
			return
		}

		rs, ok := f.(io.ReadSeeker)
		if !ok {
			http.ServeFileFS(w, r, fsys, name)
			return
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
	})
}

// Dir serves assets from a directory on disk. It returns an error when dir
// does not exist so the caller can log a clear warning at startup.
func Dir(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New(dir + " is not a directory")
	}
	return Handler(os.DirFS(dir)), nil
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not found"))
}
