package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	realtimeEventChange    = "change"
	realtimeEventHeartbeat = "heartbeat"
	heartbeatInterval      = 30 * time.Second
)

// watchedTables are the tables clients may stream changes from.
var watchedTables = map[string]bool{
	"documents":           true,
	"sessions":            true,
	"session_documents":   true,
	"users":               true,
	"activity_logs":       true,
	"notifications_queue": true,
}

// handleRealtime streams committed row changes for one table as server-sent
// events. Heartbeats keep intermediaries from closing idle streams.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	table := c.Param("table")
	if !watchedTables[table] {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_table"})
		return
	}

	stream, cancel := h.feed.Subscribe(c.Request.Context(), table)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(realtimeEventChange, event)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, time.Now().UTC().Format(time.RFC3339))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
