package handlers

import (
	"net/http"
	"strconv"

	"quakewatch/internal/models"

	"github.com/gin-gonic/gin"
)

const statusOK = "ok"

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// registerNodeInput is the manual pre-registration payload.
type registerNodeInput struct {
	Name  string `json:"name" binding:"required"`
	Token string `json:"token"`
	Type  string `json:"type"`
}

// @Summary      List nodes
// @Tags         nodes
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, nodes"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/nodes [get]
// @Security     BearerAuth
func (h *Handler) listNodes(c *gin.Context) {
	nodes := h.services.Fleet.List()
	c.JSON(http.StatusOK, gin.H{
		"count": len(nodes),
		"nodes": nodes,
	})
}

// @Summary      Get node
// @Tags         nodes
// @Produce      json
// @Param        id   path      int  true  "Node ID"
// @Success      200  {object}  models.Node
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/nodes/{id} [get]
// @Security     BearerAuth
func (h *Handler) getNode(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id"})
		return
	}
	node, ok := h.services.Fleet.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	c.JSON(http.StatusOK, node)
}

// @Summary      Register node
// @Description  Pre-registers a node before its first mesh report. The node stays offline until the gateway sees it.
// @Tags         nodes
// @Accept       json
// @Produce      json
// @Param        input  body  registerNodeInput  true  "node"
// @Success      200  {object}  models.Node
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/nodes [post]
// @Security     BearerAuth
func (h *Handler) registerNode(c *gin.Context) {
	var input registerNodeInput
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	if input.Type == "" {
		input.Type = models.DefaultNodeType
	}
	node := h.services.Fleet.Register(input.Name, input.Token, input.Type)
	c.JSON(http.StatusOK, node)
}

// @Summary      Fleet statistics
// @Tags         stats
// @Produce      json
// @Success      200  {object}  models.FleetStats
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/stats [get]
// @Security     BearerAuth
func (h *Handler) getStats(c *gin.Context) {
	var latest string
	if m, ok := h.services.Manifest.Current(); ok {
		latest = m.Version
	}
	total, online, updating, outdated := h.services.Fleet.Counts(latest)
	gw := h.services.Gateway.Status()

	c.JSON(http.StatusOK, models.FleetStats{
		TotalNodes:        total,
		OnlineNodes:       online,
		OutdatedNodes:     outdated,
		UpdatingNodes:     updating,
		LatestVersion:     latest,
		GatewayConnected:  gw.Connected,
		ActiveOTASessions: gw.ActiveSessions,
		AutoOTAEnabled:    gw.AutoOTAEnabled,
	})
}
