package handlers

import (
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
)

// ClientsHealth returns the latest client probe. ?refresh=true, or no probe
// yet, runs one synchronously.
func ClientsHealth(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

		res, ok := d.Clients.Latest()
		if refresh || !ok {
			res = d.Clients.Probe(r.Context())
		}
		writeJSON(w, http.StatusOK, res)
	}
}
