package handlers

import (
	"quakewatch/internal/events"
	"quakewatch/internal/logger"
	"quakewatch/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services, the event hub and logging.
type Handler struct {
	services  *service.Service
	hub       *events.Hub
	log       *logger.Logger
	uploadDir string
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, hub *events.Hub, log *logger.Logger, uploadDir string) *Handler {
	return &Handler{services: services, hub: hub, log: log, uploadDir: uploadDir}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// WebSocket event stream, served on the same port via HTTP upgrade.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerNodeRoutes(api)
		h.registerOTARoutes(api)
		h.registerGatewayRoutes(api)
		h.registerLogRoutes(api)
		api.GET("/stats", h.getStats)
	}
}

func (h *Handler) registerNodeRoutes(api *gin.RouterGroup) {
	nodes := api.Group("/nodes")
	{
		nodes.GET("", h.listNodes)
		nodes.GET("/:id", h.getNode)
		// Body example: {"name":"basement-7","type":"ESP32-C3"}
		nodes.POST("", h.registerNode)
	}
}

func (h *Handler) registerOTARoutes(api *gin.RouterGroup) {
	ota := api.Group("/ota")
	{
		ota.POST("/upload", h.uploadFirmware)
		ota.POST("/update", h.triggerUpdate)
		ota.POST("/update_from_url", h.triggerUpdateFromURL)
		ota.GET("/history", h.getOTAHistory)
		ota.GET("/auto/status", h.getAutoStatus)
		ota.POST("/auto/toggle", h.toggleAuto)
		ota.GET("/manifest", h.getManifest)
		ota.POST("/manifest/refresh", h.refreshManifest)
	}
}

func (h *Handler) registerGatewayRoutes(api *gin.RouterGroup) {
	gw := api.Group("/gateway")
	{
		gw.GET("/status", h.gatewayStatus)
		// Body example: {"port":"/dev/ttyUSB0","baud":115200}
		gw.POST("/connect", h.gatewayConnect)
		gw.POST("/disconnect", h.gatewayDisconnect)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
