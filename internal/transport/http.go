// Package transport is the HTTP adapter over internal/dispatcher. It owns
// wire formats (JSON for clients, JSON or protobuf for peer replication) and
// status codes; every request is translated into one dispatcher call and
// back.
//
// Grounded on the teacher's internal/api package: Handler struct injected
// from main, route groups by audience (public vs peer-internal), gin.H{}
// JSON replies.
package transport

import (
	"errors"
	"net/http"

	"causal-kv/internal/cluster"
	"causal-kv/internal/dispatcher"
	"causal-kv/internal/store"
	"causal-kv/internal/vclock"

	"github.com/gin-gonic/gin"
)

// Handler holds the dispatcher and an optional metrics handler, injected
// from cmd/kvnode.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	metrics    http.Handler
	nodeID     int
	peerCount  int
}

// NewHandler builds a Handler.
func NewHandler(d *dispatcher.Dispatcher, metrics http.Handler, nodeID, peerCount int) *Handler {
	return &Handler{dispatcher: d, metrics: metrics, nodeID: nodeID, peerCount: peerCount}
}

// Register mounts every route on r. Middleware order matters: RequestID
// must run before Logger/Recovery so both can read the assigned id.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(RequestID(), Recovery(), Logger())

	kv := r.Group("/kv")
	kv.PUT("/:key", h.Write)
	kv.GET("/:key", h.Read)

	r.POST("/replicate", h.Replicate)
	r.GET("/debug/status", h.Status)
	r.GET("/health", h.Health)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

// writeRequest is the public client wire shape for PUT /kv/:key.
type writeRequest struct {
	Value string `json:"value" binding:"required"`
}

// Write handles PUT /kv/:key — a client-originated local write.
func (h *Handler) Write(c *gin.Context) {
	key := c.Param("key")

	var body writeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stamp, err := h.dispatcher.Write(c.Request.Context(), key, body.Value)
	if err != nil {
		writeDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "key": key, "value": body.Value, "clock": stamp})
}

// Read handles GET /kv/:key.
func (h *Handler) Read(c *gin.Context) {
	key := c.Param("key")

	e, ok := h.dispatcher.Read(c.Request.Context(), key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": e.Value, "clock": e.Stamp})
}

// replicateRequestJSON mirrors cluster.replicateRequestJSON — the JSON wire
// shape a peer's HTTPClient posts.
type replicateRequestJSON struct {
	Key    string       `json:"key" binding:"required"`
	Value  string       `json:"value"`
	Clock  vclock.Stamp `json:"clock" binding:"required"`
	Sender int          `json:"sender"`
}

// Replicate handles POST /replicate — peer-to-peer only, never called by an
// end client directly. Accepts either JSON or protobuf, negotiated by
// Content-Type, matching what cluster.HTTPClient sends.
func (h *Handler) Replicate(c *gin.Context) {
	var (
		key, value string
		clock      vclock.Stamp
		sender     int
	)

	if c.ContentType() == "application/x-protobuf" {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		key, value, clock, sender, err = cluster.DecodeReplicateFrame(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		var req replicateRequestJSON
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		key, value, clock, sender = req.Key, req.Value, req.Clock, req.Sender
	}

	outcome, err := h.dispatcher.Replicate(c.Request.Context(), key, value, clock, sender)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if outcome == store.Rejected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed replication: bad stamp length or sender"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome.String()})
}

// Status handles GET /debug/status — supplements the original source's
// /status endpoint with this node's clock and pending-buffer depth.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcher.Status(c.Request.Context()))
}

// Health handles GET /health — used by load balancers / readiness probes.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"node":   h.nodeID,
		"peers":  h.peerCount,
	})
}

func writeDispatchError(c *gin.Context, err error) {
	if errors.Is(err, vclock.ErrInvalidStamp) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
