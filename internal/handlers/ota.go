package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"quakewatch/internal/service"

	"github.com/gin-gonic/gin"
)

// maxFirmwareSize caps uploaded firmware images at 4 MB, comfortably above
// any ESP32 partition size.
const maxFirmwareSize = 4 << 20

// writeOTAError maps service errors to HTTP status codes.
func (h *Handler) writeOTAError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyFirmware):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if h.log != nil {
			h.log.Errorw("ota_trigger_failed", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// @Summary      Upload firmware and start an update
// @Description  Accepts a multipart firmware image, stores a copy in the upload directory, and starts a chunked OTA toward the node.
// @Tags         ota
// @Accept       multipart/form-data
// @Produce      json
// @Param        firmware  formData  file    true  "Firmware image"
// @Param        node_id   formData  int     true  "Target node"
// @Param        version   formData  string  true  "Firmware version"
// @Success      200  {object}  map[string]string  "history_id"
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/ota/upload [post]
// @Security     BearerAuth
func (h *Handler) uploadFirmware(c *gin.Context) {
	nodeID, err := strconv.Atoi(c.PostForm("node_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node_id"})
		return
	}
	version := c.PostForm("version")
	if version == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}

	fileHeader, err := c.FormFile("firmware")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firmware file is required"})
		return
	}
	if fileHeader.Size > maxFirmwareSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firmware image too large"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = f.Close() }()

	firmware, err := io.ReadAll(io.LimitReader(f, maxFirmwareSize))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read firmware"})
		return
	}

	// Keep a copy for later re-triggers via /ota/update.
	if h.uploadDir != "" {
		if err := h.saveUpload(filepath.Base(fileHeader.Filename), firmware); err != nil && h.log != nil {
			h.log.Errorw("ota_upload_save_failed", "err", err, "filename", fileHeader.Filename)
		}
	}

	historyID, err := h.services.OTA.Trigger(c.Request.Context(), service.TriggerParams{
		NodeID:      nodeID,
		Version:     version,
		Firmware:    firmware,
		InitiatedBy: h.initiator(c),
	})
	if err != nil {
		h.writeOTAError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history_id": historyID})
}

// triggerUpdateInput starts an update from a previously uploaded image.
type triggerUpdateInput struct {
	NodeID   int    `json:"node_id" binding:"required"`
	Version  string `json:"version" binding:"required"`
	Filename string `json:"filename" binding:"required"`
}

// @Summary      Start an update from a stored image
// @Tags         ota
// @Accept       json
// @Produce      json
// @Param        input  body  triggerUpdateInput  true  "update"
// @Success      200  {object}  map[string]string  "history_id"
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/ota/update [post]
// @Security     BearerAuth
func (h *Handler) triggerUpdate(c *gin.Context) {
	var input triggerUpdateInput
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	firmware, err := os.ReadFile(filepath.Join(h.uploadDir, filepath.Base(input.Filename)))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "firmware image not found"})
		return
	}

	historyID, err := h.services.OTA.Trigger(c.Request.Context(), service.TriggerParams{
		NodeID:      input.NodeID,
		Version:     input.Version,
		Firmware:    firmware,
		InitiatedBy: h.initiator(c),
	})
	if err != nil {
		h.writeOTAError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history_id": historyID})
}

// updateFromURLInput starts an update from a remote artifact.
type updateFromURLInput struct {
	NodeID  int    `json:"node_id" binding:"required"`
	Version string `json:"version" binding:"required"`
	URL     string `json:"url" binding:"required"`
	SHA256  string `json:"sha256"`
}

// @Summary      Start an update from a URL
// @Description  Downloads the firmware image, verifies the optional sha256, and starts a chunked OTA toward the node.
// @Tags         ota
// @Accept       json
// @Produce      json
// @Param        input  body  updateFromURLInput  true  "update"
// @Success      200  {object}  map[string]string  "history_id"
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/ota/update_from_url [post]
// @Security     BearerAuth
func (h *Handler) triggerUpdateFromURL(c *gin.Context) {
	var input updateFromURLInput
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	historyID, err := h.services.OTA.TriggerFromURL(c.Request.Context(), service.URLTriggerParams{
		NodeID:      input.NodeID,
		Version:     input.Version,
		URL:         input.URL,
		SHA256:      input.SHA256,
		InitiatedBy: h.initiator(c),
	})
	if err != nil {
		h.writeOTAError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history_id": historyID})
}

// @Summary      OTA history
// @Tags         ota
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, history"
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/ota/history [get]
// @Security     BearerAuth
func (h *Handler) getOTAHistory(c *gin.Context) {
	history, err := h.services.OTA.History(c.Request.Context())
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ota_history_failed", "err", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(history),
		"history": history,
	})
}

// @Summary      Auto-update status
// @Tags         ota
// @Produce      json
// @Success      200  {object}  models.AutoOTAStatus
// @Router       /api/v1/ota/auto/status [get]
// @Security     BearerAuth
func (h *Handler) getAutoStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.AutoUpdate.Status())
}

// @Summary      Toggle auto-update
// @Tags         ota
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Router       /api/v1/ota/auto/toggle [post]
// @Security     BearerAuth
func (h *Handler) toggleAuto(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.services.AutoUpdate.Toggle()})
}

// @Summary      Cached firmware manifest
// @Tags         ota
// @Produce      json
// @Success      200  {object}  models.Manifest
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/ota/manifest [get]
// @Security     BearerAuth
func (h *Handler) getManifest(c *gin.Context) {
	m, ok := h.services.Manifest.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no manifest cached"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// @Summary      Force a manifest refresh
// @Tags         ota
// @Produce      json
// @Success      200  {object}  models.Manifest
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/ota/manifest/refresh [post]
// @Security     BearerAuth
func (h *Handler) refreshManifest(c *gin.Context) {
	m, err := h.services.Manifest.Refresh()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// initiator labels history entries with the authenticated user.
func (h *Handler) initiator(c *gin.Context) string {
	if id, ok := c.Get("userId"); ok {
		if uid, ok := id.(int); ok {
			return "user:" + strconv.Itoa(uid)
		}
	}
	return "manual"
}

// saveUpload writes the firmware image under the upload directory.
func (h *Handler) saveUpload(name string, firmware []byte) error {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(h.uploadDir, name), firmware, 0o644)
}
