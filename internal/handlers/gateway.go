package handlers

import (
	"errors"
	"net/http"

	"quakewatch/internal/service"

	"github.com/gin-gonic/gin"
)

// gatewayConnectInput selects the serial port for the mesh link.
type gatewayConnectInput struct {
	Port string `json:"port" binding:"required"`
	Baud int    `json:"baud"`
}

// @Summary      Gateway status
// @Tags         gateway
// @Produce      json
// @Success      200  {object}  models.GatewayStatus
// @Router       /api/v1/gateway/status [get]
// @Security     BearerAuth
func (h *Handler) gatewayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Gateway.Status())
}

// @Summary      Connect the serial gateway
// @Tags         gateway
// @Accept       json
// @Produce      json
// @Param        input  body  gatewayConnectInput  true  "serial port"
// @Success      200  {object}  models.GatewayStatus
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/gateway/connect [post]
// @Security     BearerAuth
func (h *Handler) gatewayConnect(c *gin.Context) {
	var input gatewayConnectInput
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}
	if input.Baud <= 0 {
		input.Baud = service.DefaultBaudRate
	}

	if err := h.services.Gateway.Connect(input.Port, input.Baud); err != nil {
		if errors.Is(err, service.ErrAlreadyConnected) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if h.log != nil {
			h.log.Errorw("gateway_connect_failed", "port", input.Port, "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.services.Gateway.Status())
}

// @Summary      Disconnect the serial gateway
// @Tags         gateway
// @Produce      json
// @Success      200  {object}  models.GatewayStatus
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/gateway/disconnect [post]
// @Security     BearerAuth
func (h *Handler) gatewayDisconnect(c *gin.Context) {
	if err := h.services.Gateway.Disconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.services.Gateway.Status())
}
