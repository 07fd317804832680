package client_test

import (
	"net/http"
	"strings"
)

// handle registers a Go 1.22-style "METHOD /path" pattern on a ServeMux in a
// way that also works on Go 1.21: the method is checked inside the handler,
// and a trailing "{name}" wildcard segment is matched as a path prefix.
func handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		method, path = "", method
	}
	wrapped := func(w http.ResponseWriter, r *http.Request) {
		if method != "" && r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
	if i := strings.Index(path, "{"); i >= 0 {
		path = path[:i]
	}
	mux.HandleFunc(path, wrapped)
}
