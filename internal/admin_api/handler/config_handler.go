package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty-reconciliation/internal/admin_api/service"
	"github.com/loyalty-reconciliation/internal/domain/setting"
)

// ConfigHandler handles HTTP requests for runtime configuration keys
type ConfigHandler struct {
	configService service.ConfigService
	logger        *slog.Logger
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(logger *slog.Logger, configService service.ConfigService) *ConfigHandler {
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// Get returns the current value of a key, 404 when unset
func (h *ConfigHandler) Get(c *gin.Context) {
	key := c.Param("key")

	item, err := h.configService.GetConfig(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, setting.ErrItemNotFound{}) {
			RespondNotFound(c, "Config key not found")
			return
		}
		h.logger.Error("Failed to get config", "key", key, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapItemToResponse(item))
}

// Set writes a value through the config store
func (h *ConfigHandler) Set(c *gin.Context) {
	key := c.Param("key")

	var req SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	item, err := h.configService.SetConfig(c.Request.Context(), key, req.Value)
	if err != nil {
		var invalid service.ErrInvalidKey
		if errors.As(err, &invalid) {
			RespondBadRequest(c, invalid.Error())
			return
		}
		h.logger.Error("Failed to set config", "key", key, "error", err)
		RespondInternalError(c)
		return
	}

	h.logger.Info("Config updated", "key", key)
	RespondOK(c, mapItemToResponse(item))
}

func mapItemToResponse(item *setting.Item) ConfigItemResponse {
	resp := ConfigItemResponse{Key: item.Key, Value: item.Value}
	if !item.UpdatedAt.IsZero() {
		resp.UpdatedAt = item.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}
