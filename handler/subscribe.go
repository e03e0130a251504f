package handler

import (
	"net/http"
	"strings"

	"github.com/dmitrymomot/streamhub/core/cursor"
	"github.com/dmitrymomot/streamhub/core/delivery"
	"github.com/dmitrymomot/streamhub/core/logger"
)

// Subscribe serves one delivery mode under the given path prefix. Channel
// names follow the prefix, separated by "/" or ",", each optionally carrying
// a ".bN" backtrack suffix:
//
//	GET /sub/news/sports.b5
func (g *Gateway) Subscribe(mode delivery.Mode, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		refs, err := cursor.ParseRefs(strings.TrimPrefix(r.URL.Path, prefix))
		if err != nil {
			g.respondError(w, r, err)
			return
		}
		g.log.Debug("subscriber connected",
			logger.Mode(mode.String()),
			logger.Count("channels", len(refs)))
		if err := g.engine.Serve(mode, refs)(w, r); err != nil {
			g.respondError(w, r, err)
		}
	}
}
