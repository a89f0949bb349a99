package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/Shivika2934/labquestion/internal/pool"
)

const feedWriteTimeout = 5 * time.Second

// poolFeed upgrades to a websocket and pushes the topic's pool stats
// whenever they change, polling every FeedInterval. The connection closes
// when the client goes away or the topic is deleted.
func (h *handler) poolFeed(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")
	if _, err := h.Catalog.GetTopic(r.Context(), topicID); err != nil {
		writeError(w, r, err)
		return
	}

	// The server's write timeout would otherwise cut the stream short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns(h.CORSOrigins)})
	if err != nil {
		slog.Warn("websocket accept failed", "topic_id", topicID, "error", err)
		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())
	ticker := time.NewTicker(h.FeedInterval)
	defer ticker.Stop()

	var last *pool.PoolStats
	for {
		st, err := h.Catalog.PoolStats(ctx, topicID)
		switch {
		case errors.Is(err, pool.ErrNotFound):
			c.Close(websocket.StatusNormalClosure, "topic deleted")
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.Error("pool feed stats failed", "topic_id", topicID, "error", err)
			c.Close(websocket.StatusInternalError, "stats unavailable")
			return
		}

		if last == nil || *last != st {
			if err := writeStats(ctx, c, st); err != nil {
				slog.Debug("pool feed closed", "topic_id", topicID, "error", err)
				return
			}
			last = &st
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeStats(ctx context.Context, c *websocket.Conn, st pool.PoolStats) error {
	ctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, st)
}

// originPatterns turns CORS origins into the host patterns websocket.Accept
// matches against. A wildcard origin allows any host.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		patterns = append(patterns, o)
	}
	return patterns
}
