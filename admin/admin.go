// Package admin provides the HTML/JSON monitoring endpoints for ssereplay.
package admin

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/mroth/ssereplay"
)

//go:embed index.html
var html []byte

// Reporter is anything that can report server status, usually a
// *ssereplay.Server.
type Reporter interface {
	Status() ssereplay.ServerStatus
}

// Handles serving the static HTML page
func statusHTMLHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html)
}

// Handles serving the JSON status data, effectively the admin API endpoint
func statusDataHandler(w http.ResponseWriter, r *http.Request, rep Reporter) {
	b, err := json.MarshalIndent(rep.Status(), "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// Handler serves /admin/ and /admin/status.json for rep. When enabled is
// false every request is answered with 403.
func Handler(rep Reporter, enabled bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/", statusHTMLHandler)
	mux.HandleFunc("/admin/status.json", func(w http.ResponseWriter, r *http.Request) {
		statusDataHandler(w, r, rep)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !enabled {
			http.Error(w, "403 admin endpoint disabled", http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	})
}
