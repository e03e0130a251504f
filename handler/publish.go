package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/dmitrymomot/streamhub/core/cursor"
	"github.com/dmitrymomot/streamhub/core/logger"
)

// Publisher serves the publisher endpoint:
//
//	POST/PUT ?id=<channel>  publish the request body as a message
//	GET      ?id=<channel>  channel counters as JSON
//	DELETE   ?id=<channel>  delete the channel, notifying subscribers
//
// The optional Event-Id and Event-Type headers attach the corresponding
// message fields on publish.
func (g *Gateway) Publisher() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := channelParam(r)
		if err != nil {
			g.respondError(w, r, err)
			return
		}

		switch r.Method {
		case http.MethodPost, http.MethodPut:
			g.publish(w, r, name)
		case http.MethodGet:
			stats, ok := g.store.ChannelStats(name)
			if !ok {
				http.Error(w, "channel not found", http.StatusNotFound)
				return
			}
			g.writeJSON(w, http.StatusOK, stats)
		case http.MethodDelete:
			if !g.store.DeleteChannel(name) {
				http.Error(w, "channel not found", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Allow", "GET, POST, PUT, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (g *Gateway) publish(w http.ResponseWriter, r *http.Request, name string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBodyBytes+1))
	if err != nil {
		g.respondError(w, r, err)
		return
	}
	if int64(len(body)) > g.maxBodyBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	msg, stored, err := g.store.Publish(r.Context(), name, body,
		r.Header.Get("Event-Id"), r.Header.Get("Event-Type"))
	if err != nil {
		g.respondError(w, r, err)
		return
	}
	g.log.Debug("message published",
		logger.Channel(name),
		logger.MessageID(msg.ID),
		logger.Count("stored_messages", stored))

	stats, _ := g.store.ChannelStats(name)
	g.writeJSON(w, http.StatusOK, stats)
}

// channelParam reads and validates the channel name from the id query
// parameter.
func channelParam(r *http.Request) (string, error) {
	name := strings.TrimSpace(r.URL.Query().Get("id"))
	refs, err := cursor.ParseRefs(name)
	if err != nil {
		return "", err
	}
	if len(refs) != 1 || refs[0].HasBacktrack {
		return "", cursor.ErrInvalidChannel
	}
	return refs[0].Name, nil
}
