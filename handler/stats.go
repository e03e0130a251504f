package handler

import (
	"net/http"
	"strings"
)

// ChannelsStats serves the read-only statistics surface:
//
//	GET            aggregate totals for this execution unit
//	GET ?id=ALL    aggregate totals plus one entry per channel
//	GET ?id=<name> counters for a single channel
func (g *Gateway) ChannelsStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		switch {
		case id == "":
			g.writeJSON(w, http.StatusOK, g.store.Stats(false))
		case strings.EqualFold(id, "ALL"):
			g.writeJSON(w, http.StatusOK, g.store.Stats(true))
		default:
			stats, ok := g.store.ChannelStats(id)
			if !ok {
				http.Error(w, "channel not found", http.StatusNotFound)
				return
			}
			g.writeJSON(w, http.StatusOK, stats)
		}
	}
}
