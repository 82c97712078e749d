package server

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/repnlab/labstore/common/logger"
)

// FileHandler serves the storage root read-only. Only GET and HEAD are
// allowed and directory listings are disabled. Requests for an excluded
// root-relative path, or anything below it, get 404.
func FileHandler(root string, log *logger.Logger, exclude ...string) http.Handler {
	files := http.FileServer(noListing{http.Dir(root)})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if hidden(r.URL.Path) || excluded(r.URL.Path, exclude) {
			http.NotFound(w, r)
			return
		}
		log.Debug("file server request", "path", r.URL.Path)
		files.ServeHTTP(w, r)
	})
}

// Excludes converts paths under root into the root-relative form taken by
// FileHandler. Paths outside root are not reachable and are dropped.
func Excludes(root string, paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

// FileURL builds the public URL under which rel is served
func FileURL(publicURL, rel string) string {
	if publicURL == "" {
		return ""
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(publicURL, "/") + "/" + strings.Join(parts, "/")
}

func excluded(p string, exclude []string) bool {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	for _, x := range exclude {
		if clean == x || strings.HasPrefix(clean, x+"/") {
			return true
		}
	}
	return false
}

// hidden reports whether any path element is a dot-file
func hidden(p string) bool {
	for _, elem := range strings.Split(path.Clean(p), "/") {
		if strings.HasPrefix(elem, ".") && elem != "." {
			return true
		}
	}
	return false
}

type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
