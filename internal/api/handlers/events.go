package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/events"
)

// EventsHandler exposes the live event feed over WebSocket and a
// recent-events replay endpoint for clients that don't hold a socket open.
type EventsHandler struct {
	feed   *events.Feed
	logger zerolog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(feed *events.Feed, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		feed:   feed,
		logger: logger.With().Str("component", "events_handler").Logger(),
	}
}

// RegisterRoutes registers event routes on the given router group.
func (h *EventsHandler) RegisterRoutes(r *gin.RouterGroup) {
	evts := r.Group("/events")
	{
		evts.GET("/ws", h.Stream)
		evts.GET("/recent", h.Recent)
	}
}

// Stream upgrades the connection to a WebSocket and attaches it to the feed.
// GET /api/v1/events/ws
func (h *EventsHandler) Stream(c *gin.Context) {
	h.feed.HandleWebSocket(c.Writer, c.Request)
}

// Recent returns the most recent events, newest first.
// GET /api/v1/events/recent
func (h *EventsHandler) Recent(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{"events": h.feed.Recent(limit)})
}
