package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"codecollab/server/internal/audit"
	"codecollab/server/internal/room"
	"codecollab/server/internal/session"
)

// API exposes operator-facing endpoints next to the websocket entrypoint.
type API struct {
	coord *session.Coordinator
	store *room.Store
	trail *audit.Store
}

func New(coord *session.Coordinator, store *room.Store, trail *audit.Store) *API {
	return &API{
		coord: coord,
		store: store,
		trail: trail,
	}
}

// Register mounts the API routes on the given gin engine.
func (a *API) Register(r *gin.Engine) {
	r.GET("/health", a.HealthHandler)
	r.GET("/api/stats", a.StatsHandler)
	r.GET("/api/rooms/:code/intrusions", a.IntrusionsHandler)
}

func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(c *gin.Context) {
	stats := gin.H{
		"active_rooms":     a.store.RoomCount(),
		"active_clients":   a.coord.ClientCount(),
		"pending_requests": a.coord.PendingCount(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	if a.trail != nil {
		if count, err := a.trail.Count(); err == nil {
			stats["recorded_intrusions"] = count
		}
	}

	c.JSON(http.StatusOK, stats)
}

// IntrusionsHandler returns a room's persisted intrusion records, newest
// first.
func (a *API) IntrusionsHandler(c *gin.Context) {
	if a.trail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit trail is not enabled"})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := a.trail.ListByRoom(c.Param("code"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list intrusions"})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"room_code":  c.Param("code"),
		"intrusions": entries,
	})
}
